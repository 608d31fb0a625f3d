package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATA_DIR", "/var/lib/family-safety")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 720*time.Hour, cfg.DeviceTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.PairingTTL)
	assert.Equal(t, 10*time.Minute, cfg.PolicySyncOverdue)
	assert.Equal(t, 2*time.Minute, cfg.RequestDedupeWindow)
	assert.Equal(t, 5000, cfg.AuditMaxEntries)
	assert.Equal(t, 180*24*time.Hour, cfg.AuditMaxAge)
	assert.Equal(t, int64(50<<20), cfg.DiagnosticsMaxBytes)
	assert.Equal(t, "file", cfg.Storage.Type)
	assert.Equal(t, "/var/lib/family-safety/state.json", cfg.Storage.File.Path)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DEVICE_TOKEN_TTL", "48h")
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("STORAGE_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("NOTIFY_EMAILS", "mum@example.com, dad@example.com,")
	t.Setenv("AUDIT_MAX_ENTRIES", "0")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 48*time.Hour, cfg.DeviceTokenTTL)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, []string{"mum@example.com", "dad@example.com"}, cfg.NotifyRecipients())
	assert.Equal(t, 5000, cfg.AuditMaxEntries, "non-positive cap falls back to the default")
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Helsinki
data_dir: /srv/fs
storage:
  type: badger
  mirror:
    type: s3
  s3:
    bucket: backups
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Storage.Type)
	assert.Equal(t, "s3", cfg.Storage.Mirror.Type)
	assert.Equal(t, "backups", cfg.Storage.S3.Bucket)
	assert.Equal(t, "/srv/fs/badger", cfg.Storage.Badger.Path)
	assert.Equal(t, "Europe/Helsinki", cfg.Location().String())
}

func TestLoadConfig_SecretRequiredInRelease(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GIN_MODE", "release")
	t.Setenv("SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLocation_Fallback(t *testing.T) {
	cfg := &Config{Timezone: "Mars/Olympus_Mons"}
	assert.Equal(t, time.Local, cfg.Location())
}
