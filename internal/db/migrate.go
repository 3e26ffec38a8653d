package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations
var migrationsFS embed.FS

// MigratePostgres applies the embedded Postgres migrations over a short-lived
// database/sql connection.
func MigratePostgres(dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	dbDriver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{})
	if err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("db driver: %w", err)
	}

	m, err := newMigrator("migrations/postgres", "pgx5", dbDriver)
	if err != nil {
		_ = dbDriver.Close()
		return err
	}
	defer func() { _, _ = m.Close() }()

	return up(m)
}

// MigrateSQLite applies the embedded SQLite migrations. The caller keeps
// ownership of db.
func MigrateSQLite(db *sql.DB) error {
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("db driver: %w", err)
	}

	// Closing the migrator would close db, so it is left to the caller.
	m, err := newMigrator("migrations/sqlite", "sqlite", dbDriver)
	if err != nil {
		return err
	}

	return up(m)
}

func newMigrator(dir, dbName string, dbDriver database.Driver) (*migrate.Migrate, error) {
	srcDriver, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, dbName, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
