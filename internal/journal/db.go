package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Options controls how the journal database is opened.
type Options struct {
	// Path is a file path, a "file:" URI, or ":memory:".
	Path string
	// LogSQL routes every statement through the debug logger.
	LogSQL bool
}

// Open opens the SQLite database behind the journal and verifies it with a
// ping. Migrations are not applied; see Migrate.
func Open(opts Options, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := buildDSN(opts.Path)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if opts.LogSQL {
		connector, err := NewLoggingConnector(dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		db = sql.OpenDB(connector)
	} else {
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
	}

	// One writer, and ":memory:" must not be split across connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func buildDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("journal path is empty")
	}
	if path == ":memory:" {
		return path, nil
	}

	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
