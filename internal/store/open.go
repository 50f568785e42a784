package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Open returns the audit store selected by driver: "sqlite" opens sqlitePath,
// creating its directory; "postgres" connects with pg.
func Open(ctx context.Context, driver, sqlitePath string, pg PostgresConfig) (AuditStore, error) {
	switch driver {
	case "sqlite", "":
		if dir := filepath.Dir(sqlitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}
		}
		return NewSQLiteStore(sqlitePath)
	case "postgres":
		return NewPostgresStore(ctx, pg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
