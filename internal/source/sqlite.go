package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"range-export/internal/config"
	"range-export/internal/logging"
	"range-export/internal/util"

	_ "modernc.org/sqlite"
)

// sqlOpenFunc allows overriding sql.Open for testing.
var sqlOpenFunc = sql.Open

type sqliteConn struct {
	db      *sql.DB
	path    string
	query   string
	timeout time.Duration
	closed  bool
}

func connectSQLite(ctx context.Context, cfg config.SourceConfig) (Conn, error) {
	path := util.ExpandEnvUniversal(cfg.File)
	// The driver would silently create a missing database file.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: sqlite database '%s': %v", ErrConnection, path, err)
	}

	db, err := sqlOpenFunc("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite '%s': %v", ErrConnection, path, err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if cerr := contextErr(ctx, err, ErrConnection, "sqlite ping"); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: ping sqlite '%s': %v", ErrConnection, path, err)
	}
	logging.Logf(logging.Info, "Opened sqlite source: %s", path)
	return &sqliteConn{db: db, path: path, query: Query(cfg), timeout: queryTimeout(cfg)}, nil
}

// FetchRanges executes the range query and collects every row.
func (sc *sqliteConn) FetchRanges(ctx context.Context) ([]map[string]interface{}, error) {
	if sc.closed {
		return nil, fmt.Errorf("%w: connection is closed", ErrQuery)
	}
	logging.Logf(logging.Debug, "Fetching ranges using query: %s", sc.query)
	ctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	rows, err := sc.db.QueryContext(ctx, sc.query)
	if err != nil {
		if cerr := contextErr(ctx, err, ErrQuery, "range query"); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: '%s': %v", ErrQuery, sc.query, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read result columns: %v", ErrQuery, err)
	}
	if err := checkColumns(columns); err != nil {
		return nil, err
	}

	records := make([]map[string]interface{}, 0)
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %v", ErrQuery, err)
		}
		record := make(map[string]interface{}, len(columns))
		for i, name := range columns {
			record[name] = values[i]
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		if cerr := contextErr(ctx, err, ErrQuery, "range query"); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: error during row iteration: %v", ErrQuery, err)
	}

	logging.Logf(logging.Info, "Fetched %d range rows from sqlite", len(records))
	return records, nil
}

// Close releases the database handle.
func (sc *sqliteConn) Close(_ context.Context) error {
	if sc.closed {
		return nil
	}
	sc.closed = true
	if err := sc.db.Close(); err != nil {
		return fmt.Errorf("%w: failed to close sqlite '%s': %v", ErrConnection, sc.path, err)
	}
	logging.Logf(logging.Debug, "Sqlite source closed: %s", sc.path)
	return nil
}
