package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"family-safety-control/internal/config"
)

var snapshotKey = []byte("snapshot")

const badgerGCInterval = 10 * time.Minute

// BadgerAdapter keeps the snapshot under a single key of an embedded
// BadgerDB. Only one version of the key is retained.
type BadgerAdapter struct {
	db     *badger.DB
	logger *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// badgerLogger routes BadgerDB's own log lines through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func NewBadgerAdapter(cfg config.BadgerStorage) (*BadgerAdapter, error) {
	if cfg.Path == "" {
		return nil, errors.New("badger storage path is required")
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
	}

	logger := slog.With("component", "storage", "adapter", "badger", "path", cfg.Path)
	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	a := &BadgerAdapter{db: db, logger: logger, stop: make(chan struct{})}
	a.wg.Add(1)
	go a.gcLoop()
	return a, nil
}

func (a *BadgerAdapter) Name() string { return "badger" }

func (a *BadgerAdapter) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return data, nil
}

func (a *BadgerAdapter) Save(ctx context.Context, data []byte) error {
	err := a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, data)
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (a *BadgerAdapter) Health(ctx context.Context) error {
	if a.db.IsClosed() {
		return ErrAdapterClosed
	}
	return nil
}

// Quarantine copies the stored value to "snapshot.corrupt-<unix>".
func (a *BadgerAdapter) Quarantine(ctx context.Context, now time.Time) (string, error) {
	key := fmt.Sprintf("%s.corrupt-%d", snapshotKey, now.Unix())
	err := a.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return "", fmt.Errorf("quarantine snapshot: %w", err)
	}
	a.logger.Warn("Copied unreadable snapshot aside", "target", key)
	return key, nil
}

// gcLoop reclaims value-log space left behind by overwritten snapshots.
func (a *BadgerAdapter) gcLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(badgerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			for a.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func (a *BadgerAdapter) Close() error {
	close(a.stop)
	a.wg.Wait()
	return a.db.Close()
}
