// Package migrate applies versioned SQL files and seeds from an fs.FS and
// keeps a bookkeeping row per applied file.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const (
	migrationsTable = "schema_migrations"
	seedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// ErrNothingApplied is returned by Down when no migration has been recorded.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Manager runs migrations and seeds. Files are read from the root of each
// file system and applied in lexical order.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
}

// NewManager constructs a Manager. seeds may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS) *Manager {
	return &Manager{db: db, migrations: migrations, seeds: seeds}
}

// Up applies every migration not yet recorded.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, m.migrations, upSuffix, migrationsTable)
}

// Seed applies every seed file not yet recorded.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, m.seeds, ".sql", seedsTable)
}

// Down rolls back the most recently applied migration and removes its record
// in the same transaction.
func (m *Manager) Down(ctx context.Context) error {
	history, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return ErrNothingApplied
	}
	last := history[len(history)-1]
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	if _, err := fs.Stat(m.migrations, down); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	err = m.run(ctx, m.migrations, down, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `delete from `+migrationsTable+` where name = $1`, last)
		return err
	})
	if err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	return nil
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, migrationsTable)
}

func (m *Manager) applyPending(ctx context.Context, fsys fs.FS, suffix, table string) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	done, err := m.applied(ctx, table)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(done))
	for _, name := range done {
		seen[name] = true
	}
	names, err := sqlFiles(fsys, suffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if seen[name] {
			continue
		}
		err := m.run(ctx, fsys, name, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `insert into `+table+`(name, applied_at) values ($1, $2)`,
				name, time.Now().UTC())
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{migrationsTable, seedsTable} {
		ddl := `create table if not exists ` + table + ` (
			name text primary key,
			applied_at timestamptz not null default now()
		);`
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

// run executes one file's statements and the bookkeeping change atomically.
func (m *Manager) run(ctx context.Context, fsys fs.FS, name string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `select name from `+table+` order by applied_at asc, name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func sqlFiles(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits on semicolons outside single-quoted literals and
// drops blank fragments.
func splitStatements(script string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, r := range script {
		current.WriteRune(r)
		switch {
		case r == '\'':
			inString = !inString
		case r == ';' && !inString:
			flush()
		}
	}
	flush()
	return stmts
}
