// Package source opens the database holding species ranges and fetches them
// as loosely typed rows keyed by column name.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"range-export/internal/config"
	"range-export/internal/ranges"
)

var (
	// ErrConnection marks an unreachable or unauthorized database.
	ErrConnection = errors.New("database connection failed")
	// ErrQuery marks malformed SQL or a result that lacks required range columns.
	ErrQuery = errors.New("range query failed")
)

const defaultConnectTimeout = 30 * time.Second

// Conn is an open source connection owned by one run.
type Conn interface {
	// FetchRanges runs the configured query and returns every row in query order.
	FetchRanges(ctx context.Context) ([]map[string]interface{}, error)
	// Close releases the connection. Calling it again is a no-op.
	Close(ctx context.Context) error
}

// Connect opens and pings the source described by cfg. creds are used for postgres only.
func Connect(ctx context.Context, cfg config.SourceConfig, creds config.DBCredentials) (Conn, error) {
	switch strings.ToLower(cfg.Type) {
	case config.SourceTypePostgres, "":
		return connectPostgres(ctx, cfg, creds)
	case config.SourceTypeSQLite:
		return connectSQLite(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported source type '%s'", ErrConnection, cfg.Type)
	}
}

// Query returns the SQL a source of the given type runs. A configured query
// wins; otherwise every range column of the table is selected in sid order.
// Postgres geometries are requested as WKB.
func Query(cfg config.SourceConfig) string {
	if strings.TrimSpace(cfg.Query) != "" {
		return cfg.Query
	}
	table := cfg.Table
	if table == "" {
		table = config.DefaultSourceTable
	}
	cols := make([]string, 0, len(ranges.Columns))
	for _, c := range ranges.Columns {
		if c == ranges.ColGeometry && !strings.EqualFold(cfg.Type, config.SourceTypeSQLite) {
			c = fmt.Sprintf("ST_AsBinary(%s) AS %s", ranges.ColGeometry, ranges.ColGeometry)
		}
		cols = append(cols, c)
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(cols, ", "), table, ranges.ColSID)
}

func queryTimeout(cfg config.SourceConfig) time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return config.DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}

// checkColumns fails when the result set is missing a required range column.
func checkColumns(columns []string) error {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[strings.ToLower(c)] = true
	}
	var missing []string
	for _, req := range ranges.RequiredColumns {
		if !have[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: result is missing required columns %v (got %v)", ErrQuery, missing, columns)
	}
	return nil
}

// contextErr returns a sentinel-wrapped error when err came from ctx expiring, nil otherwise.
func contextErr(ctx context.Context, err error, sentinel error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %s timed out: %w", sentinel, what, context.DeadlineExceeded)
	}
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return fmt.Errorf("%w: %s cancelled: %w", sentinel, what, context.Canceled)
	}
	return nil
}
