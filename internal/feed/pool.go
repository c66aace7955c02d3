package feed

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS videos (
	id               TEXT PRIMARY KEY,
	filename         TEXT NOT NULL,
	object_key       TEXT NOT NULL,
	content_type     TEXT NOT NULL,
	size_bytes       INTEGER NOT NULL,
	duration_seconds REAL,
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS videos_created_at ON videos (created_at DESC);
`

func openPool(path string, size int) (*sqlitex.Pool, error) {
	if size <= 0 {
		size = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("feed: opening %s: %w", path, err)
	}
	return pool, nil
}

// prepareConnection runs once per pooled connection.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("feed: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("feed: schema: %w", err)
	}
	return nil
}
