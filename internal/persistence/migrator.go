package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"OutcomeMarket/internal/observability"

	"github.com/rs/zerolog"
)

// Migrator applies the numbered SQL files of a migrations directory.
// A migration is a pair {version}_{name}.up.sql / {version}_{name}.down.sql;
// the down file is optional until someone rolls that version back.
type Migrator struct {
	db     *sql.DB
	files  fs.FS
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, files: os.DirFS(dir), logger: observability.NewLogger("migrator")}
}

// MigrationStatus is one migration file and whether it has been applied.
type MigrationStatus struct {
	Version  string
	Filename string
	Applied  bool
}

type migration struct {
	version string
	up      string // file names relative to the directory
	down    string
}

// Status lists the migrations on disk in version order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	plan, applied, err := m.prepare(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(plan))
	for _, mg := range plan {
		_, ok := applied[mg.version]
		out = append(out, MigrationStatus{Version: mg.version, Filename: mg.up, Applied: ok})
	}
	return out, nil
}

// Up applies every pending migration, each in its own transaction.
func (m *Migrator) Up(ctx context.Context) error {
	plan, applied, err := m.prepare(ctx)
	if err != nil {
		return err
	}
	for _, mg := range plan {
		if _, ok := applied[mg.version]; ok {
			continue
		}
		err := m.run(ctx, mg.up,
			`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
			mg.version, mg.up)
		if err != nil {
			return err
		}
		m.logger.Info().Str("version", mg.version).Str("file", mg.up).Msg("migration applied")
	}
	return nil
}

// Down reverts the most recently applied migration, if any.
func (m *Migrator) Down(ctx context.Context) error {
	plan, applied, err := m.prepare(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		m.logger.Info().Msg("nothing to roll back")
		return nil
	}

	versions := make([]string, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	last := versions[len(versions)-1]

	down := strings.Replace(applied[last], ".up.sql", ".down.sql", 1)
	for _, mg := range plan {
		if mg.version == last && mg.down != "" {
			down = mg.down
		}
	}

	if err := m.run(ctx, down, `DELETE FROM public.schema_migrations WHERE version = $1`, last); err != nil {
		return err
	}
	m.logger.Info().Str("version", last).Str("file", down).Msg("migration rolled back")
	return nil
}

// prepare makes sure the bookkeeping table exists and returns the plan on
// disk plus the applied versions mapped to the file they were applied from.
func (m *Migrator) prepare(ctx context.Context) ([]migration, map[string]string, error) {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("migrations table: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version, filename FROM public.schema_migrations`)
	if err != nil {
		return nil, nil, fmt.Errorf("applied migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[string]string)
	for rows.Next() {
		var version, file string
		if err := rows.Scan(&version, &file); err != nil {
			return nil, nil, err
		}
		applied[version] = file
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	plan, err := m.plan()
	if err != nil {
		return nil, nil, fmt.Errorf("read migrations: %w", err)
	}
	return plan, applied, nil
}

// plan pairs up and down files by version. Versions without an up file
// are ignored.
func (m *Migrator) plan() ([]migration, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]*migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		version := extractVersion(name)
		mg := byVersion[version]
		if mg == nil {
			mg = &migration{version: version}
			byVersion[version] = mg
		}
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			mg.up = name
		case strings.HasSuffix(name, ".down.sql"):
			mg.down = name
		}
	}

	plan := make([]migration, 0, len(byVersion))
	for _, mg := range byVersion {
		if mg.up != "" {
			plan = append(plan, *mg)
		}
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].version < plan[j].version })
	return plan, nil
}

// run executes one migration file and its bookkeeping statement atomically.
func (m *Migrator) run(ctx context.Context, file, record string, args ...any) error {
	body, err := fs.ReadFile(m.files, file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", file, err)
	}
	return nil
}

// extractVersion returns the prefix before the first underscore,
// "000001" for "000001_event_log.up.sql".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
