package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// migrationLockKey serializes schema changes across plauder processes that
// share one database.
const migrationLockKey = 0x706c6175

// schemaMigration is one versioned SQL script, named NNN_description.sql.
type schemaMigration struct {
	Version int
	Name    string
	SQL     string
}

// loadMigrations reads every .sql file in dir of fsys and returns them in
// ascending version order. A file without a numeric version prefix, or two
// files with the same version, is an error.
func loadMigrations(fsys fs.FS, dir string) ([]schemaMigration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var out []schemaMigration
	seen := make(map[int]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: invalid version %q", name, prefix)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, version)
		}
		seen[version] = name

		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", name, err)
		}
		out = append(out, schemaMigration{Version: version, Name: name, SQL: string(data)})
	}

	slices.SortFunc(out, func(a, b schemaMigration) int { return a.Version - b.Version })
	return out, nil
}

// migrate brings the schema up to date with the embedded migrations. Each
// pending migration runs in its own transaction together with its
// schema_migrations row.
func (s *Store) migrate(ctx context.Context) error {
	migrations, err := loadMigrations(embeddedMigrations, "migrations")
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m schemaMigration) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
			return fmt.Errorf("locking for migration %s: %w", m.Name, err)
		}

		var applied bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", m.Version,
		).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %s: %w", m.Name, err)
		}
		if applied {
			return nil
		}

		slog.Info("applying migration", "file", m.Name, "version", m.Version)
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			return fmt.Errorf("recording migration %s: %w", m.Name, err)
		}
		return nil
	})
}
