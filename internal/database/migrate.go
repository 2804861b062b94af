package database

import (
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies all pending goose migrations from the given filesystem.
// The pool's config is reused through the pgx stdlib driver.
func (db *DB) Migrate(migrations fs.FS) error {
	sqlDB := stdlib.OpenDB(*db.Pool.Config().ConnConfig)
	defer sqlDB.Close()

	return RunMigrations(sqlDB, migrations)
}

// RunMigrations applies goose migrations against an already-open database.
func RunMigrations(sqlDB *sql.DB, migrations fs.FS) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(sqlDB, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}
