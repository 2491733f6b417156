package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager applies NNN_description.sql files from a file system in
// version order, recording each in schema_migrations
// FUNCTIONAL DISCOVERY: Manager pattern encapsulates migration state and operations
// enabling safe schema evolution across development and production environments
type MigrationManager struct {
	db   *sql.DB
	fsys fs.FS
}

// NewMigrationManager creates a new migration manager reading from fsys
func NewMigrationManager(db *sql.DB, fsys fs.FS) *MigrationManager {
	return &MigrationManager{
		db:   db,
		fsys: fsys,
	}
}

// ApplyMigrations applies all pending migrations and returns the versions it applied
// ARCHITECTURAL DISCOVERY: Each migration runs in its own transaction together
// with its bookkeeping row, so a failed file leaves no partial schema behind
func (m *MigrationManager) ApplyMigrations(ctx context.Context) ([]string, error) {
	if err := m.createMigrationTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	var versions []string
	for _, migration := range migrations {
		if done[migration.Version] {
			continue
		}
		if err := m.applyMigration(ctx, migration); err != nil {
			return versions, fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		versions = append(versions, migration.Version)
	}

	return versions, nil
}

func (m *MigrationManager) createMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// LoadMigrations reads every .sql file at the root of the file system
// TECHNICAL DISCOVERY: Migration ordering by filename ensures consistent
// application order across different environments
func (m *MigrationManager) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(m.fsys, name)
		if err != nil {
			return nil, err
		}

		// "001_initial_schema.sql" -> "001", "initial_schema"
		base := strings.TrimSuffix(name, ".sql")
		version, description, _ := strings.Cut(base, "_")

		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// AppliedVersions returns already applied migration versions in order
func (m *MigrationManager) AppliedVersions(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	return versions, rows.Err()
}

func (m *MigrationManager) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		migration.Version, migration.Description,
	); err != nil {
		return err
	}

	return tx.Commit()
}
