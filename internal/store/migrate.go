package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const migrationSuffix = ".up.sql"

// ApplyMigrations runs every *.up.sql file in dir that schema_migrations has
// not recorded yet, each in its own transaction, in lexical order. It returns
// the versions applied by this call.
func (s *PostgresStore) ApplyMigrations(ctx context.Context, dir string) (applied []string, err error) {
	defer s.observe("migrate", time.Now(), &err)

	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	files, err := migrationFiles(dir)
	if err != nil {
		return nil, err
	}

	applied = make([]string, 0)
	for _, file := range files {
		version := filepath.Base(file)
		done, err := s.isMigrated(ctx, version)
		if err != nil {
			return applied, err
		}
		if done {
			s.log.Debug().Str("version", version).Msg("migration already applied")
			continue
		}

		started := time.Now()
		if err := s.applyMigration(ctx, file, version); err != nil {
			s.log.Error().Err(err).Str("version", version).Msg("migration failed")
			return applied, err
		}
		s.log.Info().Str("version", version).Dur("duration_ms", time.Since(started)).Msg("migration applied")
		applied = append(applied, version)
	}

	s.log.Info().Int("applied", len(applied)).Int("total", len(files)).Msg("schema up to date")
	return applied, nil
}

// migrationFiles lists the up migrations in dir, sorted by file name.
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), migrationSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (s *PostgresStore) applyMigration(ctx context.Context, file, version string) error {
	contents, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("execute migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		return nil
	})
}

func (s *PostgresStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) isMigrated(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
