package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/replydesk/replydesk/internal/db/migrations"
	"github.com/replydesk/replydesk/internal/logging"
)

// ReadConns is the size of the read-only pool.
const ReadConns = 4

var (
	writerPragmas = []string{"journal_mode(WAL)", "synchronous(NORMAL)", "busy_timeout(5000)", "foreign_keys(1)"}
	readerPragmas = []string{"busy_timeout(5000)", "foreign_keys(1)", "query_only(1)"}
)

// NewSQLite opens the database at path, applies migrations and returns a
// Store. Writes and transactions share one connection; plain reads use a
// separate read-only pool so they keep working while a transaction is open.
func NewSQLite(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	writer, err := openSQLite(path, writerPragmas, 1)
	if err != nil {
		return nil, err
	}
	if err := migrations.Run(writer); err != nil {
		writer.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// WAL is recorded in the file, so readers opened after the writer share it.
	reader, err := openSQLite(path, readerPragmas, ReadConns)
	if err != nil {
		writer.Close()
		return nil, err
	}

	logging.Infof("[db] sqlite ready at %s (1 writer, %d readers)", path, ReadConns)
	return NewStore(writer, reader), nil
}

func openSQLite(path string, pragmas []string, conns int) (*sql.DB, error) {
	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	db, err := sql.Open("sqlite", path+"?"+strings.Join(params, "&"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
