// Embedded-file schema migrations for the SQL adapters.
//
// Migration files live under migrations/<driver>/ and are compiled into the
// binary with embed.FS.
//
//   - Filenames must match NNNN_name.up.sql or NNNN_name.down.sql.
//   - Version is a four-digit integer (0001, 0002, ...).
//   - "up" applies a version, "down" reverts it.
//
// Applied versions are recorded in the schema_migrations table, one row per
// version, so the current version is simply the highest row.

// Heavily influenced by Authelia's migration system https://github.com/authelia/authelia/blob/master/internal/storage/migrations.go

package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/**/*.sql
var migrationsFS embed.FS

var reMigrationFilename = regexp.MustCompile(`^(?P<Version>\d{4})\_(?P<Name>[^.]+)\.(?P<Direction>(up|down))\.sql$`)

var (
	ErrMigrateCurrentVersionSameAsTarget = errors.New("current version is the same as target version")
)

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at DATETIME NOT NULL
)`

// SchemaMigration represents a single database migration
type SchemaMigration struct {
	Version int
	Name    string
	Up      bool
	SQL     string
}

func (m *SchemaMigration) Before() int {
	if m.Up {
		return m.Version - 1
	}
	return m.Version
}

func (m *SchemaMigration) After() int {
	if m.Up {
		return m.Version
	}
	return m.Version - 1
}

// MigrationRunner applies embedded migrations to a database.
type MigrationRunner struct {
	db     *sqlx.DB
	driver string
	logger *slog.Logger
}

func NewMigrationRunner(db *sqlx.DB, driver string) *MigrationRunner {
	return &MigrationRunner{
		db:     db,
		driver: driver,
		logger: slog.With("component", "migrations", "driver", driver),
	}
}

func (mr *MigrationRunner) dir() (string, error) {
	switch mr.driver {
	case "sqlite3":
		return "migrations/sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", mr.driver)
	}
}

// all parses every migration file for the driver, skipping malformed names.
func (mr *MigrationRunner) all() ([]SchemaMigration, error) {
	dir, err := mr.dir()
	if err != nil {
		return nil, err
	}
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var out []SchemaMigration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m, err := parseMigrationFile(path.Join(dir, entry.Name()))
		if err != nil {
			mr.logger.Warn("Failed to parse migration file", "file", entry.Name(), "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// LatestVersion returns the highest "up" migration available.
func (mr *MigrationRunner) LatestVersion() (int, error) {
	migrations, err := mr.all()
	if err != nil {
		return -1, err
	}
	latest := 0
	for _, m := range migrations {
		if m.Up && m.Version > latest {
			latest = m.Version
		}
	}
	return latest, nil
}

// CurrentVersion returns the highest applied version, 0 for a fresh database.
func (mr *MigrationRunner) CurrentVersion(ctx context.Context) (int, error) {
	if _, err := mr.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return -1, fmt.Errorf("create schema_migrations: %w", err)
	}
	var version int
	if err := mr.db.GetContext(ctx, &version, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return -1, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// LoadMigrations returns the migrations leading from prior to target, in the
// order they must run. A target of -1 means the latest version; 0 is the
// empty database.
func (mr *MigrationRunner) LoadMigrations(prior int, target int) ([]SchemaMigration, error) {
	if target == -1 {
		latest, err := mr.LatestVersion()
		if err != nil {
			return nil, fmt.Errorf("failed to get latest migration version: %w", err)
		}
		target = latest
	}
	if prior == target {
		return nil, ErrMigrateCurrentVersionSameAsTarget
	}

	migrations, err := mr.all()
	if err != nil {
		return nil, err
	}

	var selected []SchemaMigration
	for _, m := range migrations {
		if skipMigration(m, prior, target) {
			continue
		}
		selected = append(selected, m)
	}

	if prior < target {
		sort.Slice(selected, func(i, j int) bool { return selected[i].Version < selected[j].Version })
	} else {
		sort.Slice(selected, func(i, j int) bool { return selected[i].Version > selected[j].Version })
	}

	mr.logger.Info("Loaded migrations", "count", len(selected), "from_version", prior, "to_version", target)
	return selected, nil
}

// Migrate brings the schema to target (-1 for latest). Each migration runs
// in its own transaction together with its bookkeeping row.
func (mr *MigrationRunner) Migrate(ctx context.Context, target int) error {
	current, err := mr.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	migrations, err := mr.LoadMigrations(current, target)
	if errors.Is(err, ErrMigrateCurrentVersionSameAsTarget) {
		mr.logger.Debug("Schema up to date", "version", current)
		return nil
	}
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if err := mr.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %04d_%s: %w", m.Version, m.Name, err)
		}
		mr.logger.Info("Applied migration", "version", m.Version, "name", m.Name, "up", m.Up)
	}
	return nil
}

func (mr *MigrationRunner) apply(ctx context.Context, m SchemaMigration) error {
	tx, err := mr.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if m.Up {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Name, time.Now().UTC())
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, m.Version)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func skipMigration(m SchemaMigration, current int, target int) bool {
	if target > current {
		// Going up: only up migrations in (current, target].
		return !m.Up || m.Version > target || m.Version <= current
	}
	// Going down: only down migrations in (target, current].
	return m.Up || m.Version <= target || m.Version > current
}

// parseMigrationFile parses a migration filename and reads its content
func parseMigrationFile(name string) (SchemaMigration, error) {
	filename := path.Base(name)
	parts := reMigrationFilename.FindStringSubmatch(filename)
	if parts == nil {
		return SchemaMigration{}, fmt.Errorf("invalid migration filename: %s", filename)
	}

	sql, err := migrationsFS.ReadFile(name)
	if err != nil {
		return SchemaMigration{}, fmt.Errorf("failed to read migration file: %w", err)
	}

	version, _ := strconv.Atoi(parts[reMigrationFilename.SubexpIndex("Version")])
	return SchemaMigration{
		Version: version,
		Name:    parts[reMigrationFilename.SubexpIndex("Name")],
		Up:      parts[reMigrationFilename.SubexpIndex("Direction")] == "up",
		SQL:     string(sql),
	}, nil
}
