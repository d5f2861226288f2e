package database

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
)

//go:embed migrations/001_users.up.sql
var usersMigrationSQL string

//go:embed migrations/002_password_changed_at.up.sql
var passwordChangedAtSQL string

func (db *DB) EnsureSchema(ctx context.Context) error {
	if db == nil || db.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	exists, err := db.tableExists(ctx, "users")
	if err != nil {
		return fmt.Errorf("check users table: %w", err)
	}

	if !exists {
		slog.Info("users table missing; applying initial migration")
		if _, err := db.Pool.Exec(ctx, usersMigrationSQL); err != nil {
			return fmt.Errorf("apply initial migration: %w", err)
		}
	}

	// 002 only adds a nullable column; IF NOT EXISTS keeps it re-runnable.
	if _, err := db.Pool.Exec(ctx, passwordChangedAtSQL); err != nil {
		return fmt.Errorf("apply password_changed_at migration: %w", err)
	}

	slog.Info("database schema ensured")
	return nil
}

func (db *DB) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)
	`, table).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}
