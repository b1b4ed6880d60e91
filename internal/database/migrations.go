package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/embedbot/embedbot/migrations"
)

// RunMigrations applies the embedded control-plane migrations that have
// not been recorded yet, each in its own transaction.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	versions, err := migrationVersions(migrations.FS)
	if err != nil {
		return err
	}

	for _, version := range versions {
		done, err := alreadyApplied(ctx, pool, version)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if err := applyMigration(ctx, pool, version); err != nil {
			return err
		}
		slog.Info("applied migration", "version", version)
	}

	return nil
}

// migrationVersions lists the embedded .sql files in apply order. File
// names carry a numeric prefix, so lexical order is apply order.
func migrationVersions(fsys fs.FS) ([]string, error) {
	versions, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(versions)
	return versions, nil
}

func alreadyApplied(ctx context.Context, pool *pgxpool.Pool, version string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)", version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, version string) error {
	sql, err := fs.ReadFile(migrations.FS, version)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", version, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	return tx.Commit(ctx)
}
