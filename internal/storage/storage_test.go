package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-safety-control/internal/config"
)

type memoryAdapter struct {
	data    []byte
	saveErr error
	saves   int
	closed  bool
}

func (m *memoryAdapter) Name() string { return "memory" }
func (m *memoryAdapter) Load(ctx context.Context) ([]byte, error) {
	return m.data, nil
}
func (m *memoryAdapter) Save(ctx context.Context, data []byte) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data = append([]byte(nil), data...)
	return nil
}
func (m *memoryAdapter) Health(ctx context.Context) error { return nil }
func (m *memoryAdapter) Close() error {
	m.closed = true
	return nil
}

func exerciseAdapter(t *testing.T, a Adapter) {
	t.Helper()
	ctx := context.Background()

	data, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data, "fresh adapter has no snapshot")

	require.NoError(t, a.Save(ctx, []byte(`{"schemaVersion":3}`)))
	require.NoError(t, a.Save(ctx, []byte(`{"schemaVersion":3,"children":[]}`)))

	data, err = a.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"schemaVersion":3,"children":[]}`, string(data))

	assert.NoError(t, a.Health(ctx))
}

func TestFileAdapter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "state.json")
	a, err := NewFileAdapter(path)
	require.NoError(t, err)
	defer a.Close()

	exerciseAdapter(t, a)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file cleaned up")
	_, err = os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err), "backup removed after replace")
}

func TestFileAdapter_RecoversFromBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	a, err := NewFileAdapter(path)
	require.NoError(t, err)

	// Crash between renaming the current file away and moving the new one in.
	require.NoError(t, os.WriteFile(path+".bak", []byte(`{"schemaVersion":2}`), 0o600))

	data, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"schemaVersion":2}`, string(data))
}

func TestFileAdapter_Quarantine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	a, err := NewFileAdapter(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(`{garbage`), 0o600))

	now := time.Unix(1700000000, 0)
	dst, err := a.Quarantine(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, path+".corrupt-1700000000", dst)

	moved, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, `{garbage`, string(moved))

	data, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSQLiteAdapter(t *testing.T) {
	ctx := context.Background()
	a, err := NewSQLiteAdapter(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer a.Close()

	exerciseAdapter(t, a)

	version, err := a.SchemaVersion(ctx)
	require.NoError(t, err)
	latest, err := NewMigrationRunner(a.db, "sqlite3").LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)

	ref, err := a.Quarantine(ctx, time.Now())
	require.NoError(t, err)
	assert.Contains(t, ref, "quarantined_snapshots/")
}

func TestSQLiteAdapter_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	a, err := NewSQLiteAdapter(ctx, path)
	require.NoError(t, err)
	require.NoError(t, a.Save(ctx, []byte(`{"a":1}`)))
	require.NoError(t, a.Close())

	b, err := NewSQLiteAdapter(ctx, path)
	require.NoError(t, err)
	defer b.Close()
	data, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestMigrationRunner_DownAndUp(t *testing.T) {
	ctx := context.Background()
	a, err := NewSQLiteAdapter(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer a.Close()

	runner := NewMigrationRunner(a.db, "sqlite3")
	require.NoError(t, runner.Migrate(ctx, 0))
	v, err := runner.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, runner.Migrate(ctx, -1))
	v, err = runner.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	// already at the latest version
	require.NoError(t, runner.Migrate(ctx, -1))
}

func TestSkipMigration(t *testing.T) {
	up := SchemaMigration{Version: 2, Up: true}
	down := SchemaMigration{Version: 2, Up: false}

	assert.False(t, skipMigration(up, 1, 2))
	assert.True(t, skipMigration(up, 2, 3))
	assert.True(t, skipMigration(down, 1, 2))
	assert.False(t, skipMigration(down, 2, 0))
	assert.True(t, skipMigration(down, 1, 0))
}

func TestBadgerAdapter(t *testing.T) {
	a, err := NewBadgerAdapter(config.BadgerStorage{Path: filepath.Join(t.TempDir(), "badger")})
	require.NoError(t, err)
	defer a.Close()

	exerciseAdapter(t, a)

	key, err := a.Quarantine(context.Background(), time.Unix(42, 0))
	require.NoError(t, err)
	assert.Equal(t, "snapshot.corrupt-42", key)
}

func TestMirrorAdapter(t *testing.T) {
	ctx := context.Background()
	primary := &memoryAdapter{}
	secondary := &memoryAdapter{saveErr: errors.New("bucket unreachable")}
	m := NewMirrorAdapter(primary, secondary)

	require.NoError(t, m.Save(ctx, []byte("one")), "secondary failure is swallowed")
	assert.Equal(t, "one", string(primary.data))
	assert.Equal(t, 1, secondary.saves)

	secondary.saveErr = nil
	secondary.data = []byte("stale")
	data, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data), "loads come from the primary only")

	primary.saveErr = errors.New("disk full")
	assert.Error(t, m.Save(ctx, []byte("two")))
	assert.Equal(t, 1, secondary.saves, "secondary untouched when primary fails")

	require.NoError(t, m.Close())
	assert.True(t, primary.closed)
	assert.True(t, secondary.closed)
}

func TestNewAdapter(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := NewAdapter(ctx, config.Storage{Type: "file", File: config.FileStorage{Path: filepath.Join(dir, "s.json")}})
	require.NoError(t, err)
	assert.Equal(t, "file", a.Name())

	a, err = NewAdapter(ctx, config.Storage{
		Type:   "file",
		File:   config.FileStorage{Path: filepath.Join(dir, "s.json")},
		SQLite: config.SQLiteStorage{Path: filepath.Join(dir, "s.db")},
		Mirror: config.MirrorStorage{Type: "sqlite"},
	})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "mirror(file,sqlite)", a.Name())
	_, ok := a.(Quarantiner)
	assert.True(t, ok)

	_, err = NewAdapter(ctx, config.Storage{Type: "floppy"})
	assert.ErrorIs(t, err, ErrUnsupportedStorage)

	_, err = NewAdapter(ctx, config.Storage{Type: "file", File: config.FileStorage{Path: filepath.Join(dir, "x.json")}, Mirror: config.MirrorStorage{Type: "file"}})
	assert.Error(t, err)
}
