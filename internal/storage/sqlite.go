package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteAdapter struct {
	*SQLAdapter
}

// NewSQLiteAdapter opens the database at path and migrates it to the latest
// schema.
func NewSQLiteAdapter(ctx context.Context, path string) (*SQLiteAdapter, error) {
	if path == "" {
		return nil, errors.New("sqlite storage path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	base, err := NewSQLAdapter("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, err
	}
	// One writer; the store serializes access anyway.
	base.db.SetMaxOpenConns(1)

	if err := base.runMigrations(ctx); err != nil {
		base.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &SQLiteAdapter{SQLAdapter: base}, nil
}

func (a *SQLiteAdapter) Name() string { return "sqlite" }
