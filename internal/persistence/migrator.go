package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migrator applies the veil schema migrations. Files follow the
// golang-migrate naming convention: {version}_{name}.up.sql with a
// matching .down.sql alongside.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// migration pairs one version's up and down files. The version is the
// numeric filename prefix, e.g. "000001".
type migration struct {
	version string
	up      string
	down    string
}

const migrationTableDDL = `
	CREATE TABLE IF NOT EXISTS public.schema_migrations (
		version    TEXT PRIMARY KEY,
		filename   TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// Up applies every migration not yet recorded, oldest first. Each file
// runs in one transaction together with its bookkeeping row, so a
// half-applied migration never counts as done.
func (m *Migrator) Up(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("read applied versions: %w", err)
	}
	all, err := m.discover()
	if err != nil {
		return err
	}

	for _, mig := range all {
		if applied[mig.version] {
			continue
		}
		err := m.runFile(ctx, mig.up, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
				mig.version, mig.up)
			return err
		})
		if err != nil {
			return err
		}
		log.Printf("INFO: applied migration %s", mig.up)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	var latest string
	err := m.db.QueryRowContext(ctx,
		`SELECT version FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		log.Println("INFO: no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read latest migration: %w", err)
	}

	all, err := m.discover()
	if err != nil {
		return err
	}
	var target *migration
	for i := range all {
		if all[i].version == latest {
			target = &all[i]
		}
	}
	if target == nil {
		return fmt.Errorf("no migration files for applied version %s", latest)
	}

	err = m.runFile(ctx, target.down, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM public.schema_migrations WHERE version = $1`, latest)
		return err
	})
	if err != nil {
		return err
	}
	log.Printf("INFO: rolled back migration %s", target.down)
	return nil
}

// runFile executes one migration file and its bookkeeping in a single
// transaction.
func (m *Migrator) runFile(ctx context.Context, name string, record func(*sql.Tx) error) error {
	content, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("exec migration %s: %w", name, err)
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return tx.Commit()
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// discover lists the migration pairs in the directory, sorted by
// version.
func (m *Migrator) discover() ([]migration, error) {
	ups, err := filepath.Glob(filepath.Join(m.dir, "*.up.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(ups)

	migs := make([]migration, 0, len(ups))
	for _, path := range ups {
		up := filepath.Base(path)
		version, _, found := strings.Cut(up, "_")
		if !found {
			return nil, fmt.Errorf("migration %s: want {version}_{name}.up.sql", up)
		}
		migs = append(migs, migration{
			version: version,
			up:      up,
			down:    strings.TrimSuffix(up, ".up.sql") + ".down.sql",
		})
	}
	return migs, nil
}
