package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration represents a single schema migration of the embedding
// container.
type migration struct {
	version     int
	description string
	apply       func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// New migrations are appended at the end; never modify existing entries.
var migrations = []migration{
	{
		version:     1,
		description: "initial schema (applied via embeddingsSchemaSQL)",
		apply:       func(tx *sql.Tx) error { return nil },
	},
	{
		version:     2,
		description: "record embedding count in meta",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value)
				SELECT 'count', CAST(COUNT(*) AS TEXT) FROM embeddings`)
			return err
		},
	},
}

// latestVersion is the newest schema version this build understands.
func latestVersion() int {
	return migrations[len(migrations)-1].version
}

// schemaVersion returns the highest applied migration, or 0 for a
// container without a schema_version table.
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var exists int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'",
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("checking schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var current int
	if err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version",
	).Scan(&current); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return current, nil
}

// migrate runs all pending schema migrations. A container written by a
// newer build fails with ErrSchemaVersion.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > latestVersion() {
		return fmt.Errorf("%w: embeddings schema %d, newest known %d", ErrSchemaVersion, current, latestVersion())
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		slog.Debug("store: applying migration", "version", m.version, "description", m.description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.version, m.description); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}

	return nil
}
