package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/replydesk/replydesk/internal/logging"
)

//go:embed *.sql
var files embed.FS

// QuietMode suppresses per-migration log lines (CLI output).
var QuietMode = false

// Run applies all pending migrations.
func Run(db *sql.DB) error {
	return RunContext(context.Background(), db)
}

// RunContext applies all pending migrations using the goose provider API.
func RunContext(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, files)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if !QuietMode {
		for _, r := range results {
			logging.Infof("[migrations] applied %s in %s", r.Source.Path, r.Duration)
		}
	}
	return nil
}

// Version returns the current schema version.
func Version(ctx context.Context, db *sql.DB) (int64, error) {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, files)
	if err != nil {
		return 0, fmt.Errorf("create migration provider: %w", err)
	}
	return provider.GetDBVersion(ctx)
}
