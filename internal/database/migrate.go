package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

type migration struct {
	version int
	up      string
	down    string
}

// loadMigrations reads NNN_name.up.sql / NNN_name.down.sql pairs for a dialect.
func loadMigrations(dialect string) ([]migration, error) {
	dir := "migrations/" + dialect
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[int]*migration)
	for _, entry := range entries {
		name := entry.Name()
		var version int
		if _, err := fmt.Sscanf(name, "%03d_", &version); err != nil {
			continue
		}
		body, err := migrationsFS.ReadFile(dir + "/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		m, ok := byVersion[version]
		if !ok {
			m = &migration{version: version}
			byVersion[version] = m
		}
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			m.up = string(body)
		case strings.HasSuffix(name, ".down.sql"):
			m.down = string(body)
		}
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}

// Migrate runs all pending Postgres migrations. Simple sequential approach
// using a migrations tracking table.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	migrations, err := loadMigrations(DialectPostgres)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= currentVersion || m.up == "" {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, m.up); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		log.Info().Int("version", m.version).Str("dialect", DialectPostgres).Msg("applied migration")
	}

	return nil
}

// MigrateDown rolls back the most recent Postgres migration.
func MigrateDown(ctx context.Context, pool *pgxpool.Pool) error {
	var currentVersion int
	if err := pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}
	if currentVersion == 0 {
		log.Info().Msg("no migrations to roll back")
		return nil
	}

	m, err := findMigration(DialectPostgres, currentVersion)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec(ctx, m.down); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("revert migration %d: %w", m.version, err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", m.version); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("unrecord migration %d: %w", m.version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rollback %d: %w", m.version, err)
	}

	log.Info().Int("version", m.version).Str("dialect", DialectPostgres).Msg("rolled back migration")
	return nil
}

// MigrateSQLite runs all pending SQLite migrations.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	migrations, err := loadMigrations(DialectSQLite)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= currentVersion || m.up == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		log.Info().Int("version", m.version).Str("dialect", DialectSQLite).Msg("applied migration")
	}

	return nil
}

// MigrateSQLiteDown rolls back the most recent SQLite migration.
func MigrateSQLiteDown(ctx context.Context, db *sql.DB) error {
	var currentVersion int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}
	if currentVersion == 0 {
		log.Info().Msg("no migrations to roll back")
		return nil
	}

	m, err := findMigration(DialectSQLite, currentVersion)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, m.down); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("revert migration %d: %w", m.version, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("unrecord migration %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback %d: %w", m.version, err)
	}

	log.Info().Int("version", m.version).Str("dialect", DialectSQLite).Msg("rolled back migration")
	return nil
}

func findMigration(dialect string, version int) (migration, error) {
	migrations, err := loadMigrations(dialect)
	if err != nil {
		return migration{}, err
	}
	for _, m := range migrations {
		if m.version == version {
			if m.down == "" {
				return migration{}, fmt.Errorf("migration %d has no down script", version)
			}
			return m, nil
		}
	}
	return migration{}, fmt.Errorf("migration %d not found", version)
}
