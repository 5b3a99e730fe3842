package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"range-export/internal/config"
	"range-export/internal/logging"
	"range-export/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgConn is the part of *pgx.Conn the source uses.
type pgConn interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
}

// pgxConnectFunc allows overriding pgx.Connect for testing.
var pgxConnectFunc = func(ctx context.Context, dsn string) (pgConn, error) {
	return pgx.Connect(ctx, dsn)
}

type postgresConn struct {
	conn    pgConn
	query   string
	timeout time.Duration
	closed  bool
}

func connectPostgres(ctx context.Context, cfg config.SourceConfig, creds config.DBCredentials) (Conn, error) {
	dsn := util.ExpandEnvUniversal(creds.DSN())
	masked := util.MaskCredentials(dsn)
	logging.Logf(logging.Debug, "Connecting to postgres: %s", masked)

	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	conn, err := pgxConnectFunc(ctx, dsn)
	if err != nil {
		logging.Logf(logging.Error, "Failed to connect using connection string: %s", masked)
		if cerr := contextErr(ctx, err, ErrConnection, "postgres connect"); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: postgres (using %s): %v", ErrConnection, masked, err)
	}
	pc := &postgresConn{conn: conn, query: Query(cfg), timeout: queryTimeout(cfg)}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(context.Background())
		if cerr := contextErr(ctx, err, ErrConnection, "postgres ping"); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: ping postgres (using %s): %v", ErrConnection, masked, err)
	}
	logging.Logf(logging.Info, "Connected to postgres: %s", masked)
	return pc, nil
}

// FetchRanges executes the range query and collects every row.
func (pc *postgresConn) FetchRanges(ctx context.Context) ([]map[string]interface{}, error) {
	if pc.closed {
		return nil, fmt.Errorf("%w: connection is closed", ErrQuery)
	}
	logging.Logf(logging.Debug, "Fetching ranges using query: %s", pc.query)
	ctx, cancel := context.WithTimeout(ctx, pc.timeout)
	defer cancel()

	rows, err := pc.conn.Query(ctx, pc.query)
	if err != nil {
		return nil, pc.queryErr(ctx, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	columns := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = fd.Name
	}
	if err := checkColumns(columns); err != nil {
		return nil, err
	}

	records := make([]map[string]interface{}, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read row values: %v", ErrQuery, err)
		}
		record := make(map[string]interface{}, len(columns))
		for i, name := range columns {
			record[name] = values[i]
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, pc.queryErr(ctx, err)
	}

	logging.Logf(logging.Info, "Fetched %d range rows from postgres", len(records))
	return records, nil
}

func (pc *postgresConn) queryErr(ctx context.Context, err error) error {
	if cerr := contextErr(ctx, err, ErrQuery, "range query"); cerr != nil {
		return cerr
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		logging.Logf(logging.Error, "Range query failed. PG Error Code: %s, Message: %s, Detail: %s", pgErr.Code, pgErr.Message, pgErr.Detail)
	}
	return fmt.Errorf("%w: '%s': %v", ErrQuery, pc.query, err)
}

// Close releases the connection.
func (pc *postgresConn) Close(ctx context.Context) error {
	if pc.closed {
		return nil
	}
	pc.closed = true
	if err := pc.conn.Close(ctx); err != nil {
		return fmt.Errorf("%w: failed to close postgres connection: %v", ErrConnection, err)
	}
	logging.Logf(logging.Debug, "Postgres connection closed")
	return nil
}
