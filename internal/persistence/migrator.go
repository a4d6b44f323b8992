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

// Migrator applies the SQL files in migrationsDir in lexical order. File
// naming follows the golang-migrate convention ({version}_{name}.up.sql
// with a matching .down.sql), and applied versions are tracked in
// public.schema_migrations.
type Migrator struct {
	db            *sql.DB
	migrationsDir string
}

func NewMigrator(db *sql.DB, migrationsDir string) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir}
}

// Up applies every up-migration not yet recorded, oldest first. Each file
// runs in its own transaction together with its bookkeeping row, so a
// failure leaves the schema at the last fully-applied version.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	pending, err := m.pendingMigrations(ctx)
	if err != nil {
		return err
	}

	for _, name := range pending {
		log.Printf("INFO: applying migration %s", name)
		err := m.runInTx(ctx, name,
			`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
			versionOf(name), name)
		if err != nil {
			return err
		}
		log.Printf("INFO: applied migration %s", name)
	}
	return nil
}

// Down rolls back the most recently applied migration using its .down.sql
// counterpart. A no-op when nothing has been applied.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	var version, upName string
	row := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`)
	if err := row.Scan(&version, &upName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Println("INFO: no migrations to roll back")
			return nil
		}
		return fmt.Errorf("get latest migration: %w", err)
	}

	downName := strings.Replace(upName, ".up.sql", ".down.sql", 1)
	err := m.runInTx(ctx, downName,
		`DELETE FROM public.schema_migrations WHERE version = $1`, version)
	if err != nil {
		return err
	}
	log.Printf("INFO: rolled back migration %s", downName)
	return nil
}

// runInTx executes one migration file and its bookkeeping statement inside
// a single transaction.
func (m *Migrator) runInTx(ctx context.Context, name, bookkeeping string, args ...interface{}) error {
	script, err := os.ReadFile(filepath.Join(m.migrationsDir, name))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("exec migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// pendingMigrations returns the up-migration filenames not yet recorded,
// sorted by version.
func (m *Migrator) pendingMigrations(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(m.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var pending []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		if !applied[versionOf(name)] {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending, nil
}

// versionOf returns the numeric prefix of a migration filename, e.g.
// "000001_event_log.up.sql" yields "000001".
func versionOf(filename string) string {
	if i := strings.Index(filename, "_"); i > 0 {
		return filename[:i]
	}
	return filename
}
