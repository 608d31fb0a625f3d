// Package storage persists the control-plane snapshot.
//
// Every backend stores exactly one opaque document: the store hands over the
// full encoded snapshot on each mutation and reads it back once at startup.
// Adapters never interpret the payload.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"family-safety-control/internal/config"
)

var (
	ErrUnsupportedStorage = errors.New("unsupported storage type")
	ErrAdapterClosed      = errors.New("storage adapter is closed")
)

// Adapter is a durable home for a single snapshot document.
type Adapter interface {
	// Load returns the stored snapshot, or nil with no error when nothing
	// has been saved yet.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, data []byte) error
	// Health reports whether the backend is usable.
	Health(ctx context.Context) error
	Name() string
	Close() error
}

// Quarantiner is implemented by adapters that can set an unreadable
// snapshot aside before it gets overwritten by a fresh one.
type Quarantiner interface {
	Quarantine(ctx context.Context, now time.Time) (string, error)
}

// NewAdapter builds the adapter described by cfg, wrapped in a mirror when a
// secondary backend is configured.
func NewAdapter(ctx context.Context, cfg config.Storage) (Adapter, error) {
	primary, err := newAdapter(ctx, cfg.Type, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Mirror.Type == "" {
		return primary, nil
	}
	if cfg.Mirror.Type == cfg.Type {
		primary.Close()
		return nil, fmt.Errorf("mirror type %q must differ from primary", cfg.Mirror.Type)
	}

	secondary, err := newAdapter(ctx, cfg.Mirror.Type, cfg)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("mirror: %w", err)
	}
	return NewMirrorAdapter(primary, secondary), nil
}

func newAdapter(ctx context.Context, kind string, cfg config.Storage) (Adapter, error) {
	switch kind {
	case "", "file":
		return NewFileAdapter(cfg.File.Path)
	case "sqlite", "sqlite3":
		return NewSQLiteAdapter(ctx, cfg.SQLite.Path)
	case "badger":
		return NewBadgerAdapter(cfg.Badger)
	case "s3":
		return NewS3Adapter(ctx, cfg.S3)
	default:
		slog.Error("Unsupported storage configuration", "type", kind)
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStorage, kind)
	}
}
