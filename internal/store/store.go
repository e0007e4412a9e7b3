// Package store persists per-sink state (channel volumes and mute)
// across server restarts, so a sink comes back at the level it was last
// set to.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a sql.DB connection with mixerd-specific setup.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite state database under dataDir with
// WAL mode enabled and runs any pending migrations.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "mixerd.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// SQLite performs best with a single writer connection.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB}

	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("state database opened", "path", dbPath)
	return db, nil
}

// migrate runs all pending SQL migration files in order.
func (db *DB) migrate() error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

// SinkState is a sink's persisted settings.
type SinkState struct {
	Name    string
	Volumes []uint32
	Muted   bool
}

// SinkStateRepository reads and writes persisted sink state.
type SinkStateRepository struct {
	db *DB
}

// NewSinkStateRepository creates a repository over the database.
func NewSinkStateRepository(db *DB) *SinkStateRepository {
	return &SinkStateRepository{db: db}
}

// Save upserts a sink's state.
func (r *SinkStateRepository) Save(ctx context.Context, st SinkState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sink_state (name, volumes, muted, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(name) DO UPDATE SET
			volumes = excluded.volumes,
			muted = excluded.muted,
			updated_at = excluded.updated_at`,
		st.Name, encodeVolumes(st.Volumes), boolToInt(st.Muted),
	)
	if err != nil {
		return fmt.Errorf("saving state for sink %q: %w", st.Name, err)
	}
	return nil
}

// Get returns a sink's persisted state, or (zero, false) when none is
// stored.
func (r *SinkStateRepository) Get(ctx context.Context, name string) (SinkState, bool, error) {
	var volumes string
	var muted int
	err := r.db.QueryRowContext(ctx,
		"SELECT volumes, muted FROM sink_state WHERE name = ?", name,
	).Scan(&volumes, &muted)
	if errors.Is(err, sql.ErrNoRows) {
		return SinkState{}, false, nil
	}
	if err != nil {
		return SinkState{}, false, fmt.Errorf("loading state for sink %q: %w", name, err)
	}

	vols, err := decodeVolumes(volumes)
	if err != nil {
		return SinkState{}, false, fmt.Errorf("loading state for sink %q: %w", name, err)
	}
	return SinkState{Name: name, Volumes: vols, Muted: muted != 0}, true, nil
}

// Delete removes a sink's persisted state.
func (r *SinkStateRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM sink_state WHERE name = ?", name); err != nil {
		return fmt.Errorf("deleting state for sink %q: %w", name, err)
	}
	return nil
}

func encodeVolumes(vols []uint32) string {
	parts := make([]string, len(vols))
	for i, v := range vols {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ",")
}

func decodeVolumes(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vols := make([]uint32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed volume entry %q", p)
		}
		vols[i] = uint32(v)
	}
	return vols, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
