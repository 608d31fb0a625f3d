package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MirrorAdapter writes every snapshot to a primary and a secondary backend.
// The primary is authoritative: it alone serves Load and Health, and only
// its failures are reported. Secondary failures are logged and dropped.
type MirrorAdapter struct {
	primary   Adapter
	secondary Adapter
	logger    *slog.Logger
}

func NewMirrorAdapter(primary, secondary Adapter) *MirrorAdapter {
	return &MirrorAdapter{
		primary:   primary,
		secondary: secondary,
		logger: slog.With("component", "storage", "adapter", "mirror",
			"primary", primary.Name(), "secondary", secondary.Name()),
	}
}

func (m *MirrorAdapter) Name() string {
	return fmt.Sprintf("mirror(%s,%s)", m.primary.Name(), m.secondary.Name())
}

func (m *MirrorAdapter) Load(ctx context.Context) ([]byte, error) {
	return m.primary.Load(ctx)
}

func (m *MirrorAdapter) Save(ctx context.Context, data []byte) error {
	if err := m.primary.Save(ctx, data); err != nil {
		return err
	}
	if err := m.secondary.Save(ctx, data); err != nil {
		m.logger.Warn("Mirror save failed", "error", err)
	}
	return nil
}

func (m *MirrorAdapter) Health(ctx context.Context) error {
	return m.primary.Health(ctx)
}

func (m *MirrorAdapter) Quarantine(ctx context.Context, now time.Time) (string, error) {
	q, ok := m.primary.(Quarantiner)
	if !ok {
		return "", errors.New("primary adapter cannot quarantine")
	}
	return q.Quarantine(ctx, now)
}

func (m *MirrorAdapter) Close() error {
	return errors.Join(m.primary.Close(), m.secondary.Close())
}
