// Package database provides database connectivity and schema management.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite" // SQLite driver
)

// DefaultDSN is a file database next to the binary.
const DefaultDSN = "file:coffeeshop.db?_pragma=busy_timeout(5000)"

// drinksSchema creates the drinks table when it is missing.
const drinksSchema = `
	CREATE TABLE IF NOT EXISTS drinks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT UNIQUE NOT NULL,
		recipe TEXT NOT NULL
	)`

// New creates a new database connection and ensures the schema is up to date.
func New(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers, and every connection to ":memory:" would
	// otherwise open its own empty database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrateSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	return db, nil
}

// migrateSchema creates the necessary tables if they don't exist.
func migrateSchema(db *sql.DB) error {
	_, err := db.Exec(drinksSchema)
	return err
}

// Reset drops and recreates every table and seeds the menu with a single
// drink so a fresh install has something to show.
func Reset(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS drinks"); err != nil {
		return fmt.Errorf("failed to drop drinks table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, drinksSchema); err != nil {
		return fmt.Errorf("failed to create drinks table: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO drinks (title, recipe) VALUES (?, ?)",
		"water", `[{"name": "water", "color": "blue", "parts": 1}]`); err != nil {
		return fmt.Errorf("failed to seed drinks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
