package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLAdapter keeps the snapshot in a single-row table. Driver specific
// adapters embed it and supply the connection.
type SQLAdapter struct {
	db     *sqlx.DB
	driver string
	logger *slog.Logger
}

func NewSQLAdapter(driverName string, dataSource string) (*SQLAdapter, error) {
	db, err := sqlx.Open(driverName, dataSource)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}

	return &SQLAdapter{
		db:     db,
		driver: driverName,
		logger: slog.With("component", "storage", "adapter", driverName),
	}, nil
}

func (a *SQLAdapter) runMigrations(ctx context.Context) error {
	return NewMigrationRunner(a.db, a.driver).Migrate(ctx, -1)
}

// SchemaVersion returns the applied migration version.
func (a *SQLAdapter) SchemaVersion(ctx context.Context) (int, error) {
	return NewMigrationRunner(a.db, a.driver).CurrentVersion(ctx)
}

func (a *SQLAdapter) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := a.db.GetContext(ctx, &payload, `SELECT payload FROM snapshots WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return payload, nil
}

func (a *SQLAdapter) Save(ctx context.Context, data []byte) error {
	_, err := a.db.ExecContext(ctx, `INSERT INTO snapshots (id, payload, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (a *SQLAdapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Quarantine copies the stored row into quarantined_snapshots.
func (a *SQLAdapter) Quarantine(ctx context.Context, now time.Time) (string, error) {
	res, err := a.db.ExecContext(ctx, `INSERT INTO quarantined_snapshots (payload, quarantined_at)
		SELECT payload, ? FROM snapshots WHERE id = 1`, now.UTC())
	if err != nil {
		return "", fmt.Errorf("quarantine snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	ref := fmt.Sprintf("quarantined_snapshots/%d", id)
	a.logger.Warn("Copied unreadable snapshot aside", "target", ref)
	return ref, nil
}

func (a *SQLAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
