// Package archive persists committed acoustic events to an on-disk
// SQLite database, independent of the in-memory retention cap the state
// store applies for API responses.
package archive

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/flowpbx/flowpbx/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Archive wraps a sql.DB connection holding the durable event log.
type Archive struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at dataDir/soundtri.db with WAL
// mode enabled and runs any pending migrations.
func Open(dataDir string) (*Archive, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "soundtri.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", dbPath)

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

	a := &Archive{db: sqlDB}
	if err := a.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("archive opened", "path", dbPath)
	return a, nil
}

// Close releases the underlying connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	_, err := a.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
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
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := a.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := a.db.Begin()
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

// Append durably records a committed event. Failures are logged by the
// caller, not retried: the in-memory store remains the source of truth
// for the live API surface.
func (a *Archive) Append(e store.Event) error {
	devicesJSON, err := json.Marshal(e.Devices)
	if err != nil {
		return fmt.Errorf("marshaling devices: %w", err)
	}

	var px, py sql.NullFloat64
	if e.Position != nil {
		px = sql.NullFloat64{Float64: e.Position.X, Valid: true}
		py = sql.NullFloat64{Float64: e.Position.Y, Valid: true}
	}

	_, err = a.db.Exec(
		`INSERT INTO events (id, position_x, position_y, residual, devices_json, timespan_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, px, py, e.Residual, string(devicesJSON), e.TimespanMS, e.CreatedAt,
	)
	return err
}
