package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.2.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
	{
		Version: "1.2.0",
		Up:      migrationV12Up,
		Down:    migrationV12Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Members table
CREATE TABLE IF NOT EXISTS members (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT '',
    organization TEXT NOT NULL DEFAULT '',
    career_stage TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    bio TEXT NOT NULL DEFAULT '',
    karma INTEGER NOT NULL DEFAULT 0,
    joined_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_members_role ON members(role);
CREATE INDEX IF NOT EXISTS idx_members_organization ON members(organization);
CREATE INDEX IF NOT EXISTS idx_members_career_stage ON members(career_stage);
CREATE INDEX IF NOT EXISTS idx_members_location ON members(location);

-- Full-text search on member names and bios
CREATE VIRTUAL TABLE IF NOT EXISTS members_fts USING fts5(
    username, display_name, bio,
    content='members',
    content_rowid='id'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS members_ai AFTER INSERT ON members BEGIN
    INSERT INTO members_fts(rowid, username, display_name, bio)
    VALUES (new.id, new.username, new.display_name, new.bio);
END;

CREATE TRIGGER IF NOT EXISTS members_ad AFTER DELETE ON members BEGIN
    INSERT INTO members_fts(members_fts, rowid, username, display_name, bio)
    VALUES ('delete', old.id, old.username, old.display_name, old.bio);
END;

CREATE TRIGGER IF NOT EXISTS members_au AFTER UPDATE ON members BEGIN
    INSERT INTO members_fts(members_fts, rowid, username, display_name, bio)
    VALUES ('delete', old.id, old.username, old.display_name, old.bio);
    INSERT INTO members_fts(rowid, username, display_name, bio)
    VALUES (new.id, new.username, new.display_name, new.bio);
END;

-- Term statistics for keyword suggestions
CREATE VIRTUAL TABLE IF NOT EXISTS members_vocab USING fts5vocab(members_fts, 'row');

-- Column visibility per profile
CREATE TABLE IF NOT EXISTS column_prefs (
    profile TEXT PRIMARY KEY,
    visible TEXT NOT NULL,
    edited BOOLEAN NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS column_prefs;
DROP TABLE IF EXISTS members_vocab;
DROP TRIGGER IF EXISTS members_au;
DROP TRIGGER IF EXISTS members_ad;
DROP TRIGGER IF EXISTS members_ai;
DROP TABLE IF EXISTS members_fts;
DROP TABLE IF EXISTS members;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
-- Import history
CREATE TABLE IF NOT EXISTS import_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    files_total INTEGER NOT NULL DEFAULT 0,
    files_failed INTEGER NOT NULL DEFAULT 0,
    members_stored INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

-- Sort support for sortable columns
CREATE INDEX IF NOT EXISTS idx_members_karma ON members(karma);
CREATE INDEX IF NOT EXISTS idx_members_joined_at ON members(joined_at);
CREATE INDEX IF NOT EXISTS idx_members_display_name ON members(display_name COLLATE NOCASE);
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_members_display_name;
DROP INDEX IF EXISTS idx_members_joined_at;
DROP INDEX IF EXISTS idx_members_karma;
DROP TABLE IF EXISTS import_runs;
`

const migrationV12Up = `
-- Why an import stopped early; empty for completed runs
ALTER TABLE import_runs ADD COLUMN error TEXT NOT NULL DEFAULT '';
`

const migrationV12Down = `
ALTER TABLE import_runs DROP COLUMN error;
`

// schemaVersion returns the most recently applied version, or 0.0.0 for a
// fresh database
func schemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer rows.Close()

	// applied_at has second resolution, so compare versions rather than timestamps
	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", v, err)
		}
		if parsed.GreaterThan(current) {
			current = parsed
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		version, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !current.LessThan(version) {
			continue
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		current = version
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return errors.New("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		v, err := semver.NewVersion(AllMigrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	// The first migration drops schema_version itself
	if migration.Version == AllMigrations[0].Version {
		return nil
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}
	return nil
}
