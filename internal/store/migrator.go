package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

//go:embed migration
var migrationFS embed.FS

// MigrateFileNameSplit separates the patch number from the description in
// a migration file name, e.g. "01__init.sql".
const MigrateFileNameSplit = "__"

type migrationFile struct {
	version int
	name    string
}

// migrations returns the embedded migration files in version order.
func migrations() ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationFS, "migration")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), MigrateFileNameSplit)
		if !ok {
			return nil, errors.Errorf("invalid migration filename format (missing %s): %s", MigrateFileNameSplit, e.Name())
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, errors.Errorf("migration filename must start with a number: %s", e.Name())
		}
		files = append(files, migrationFile{version: v, name: e.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// SchemaVersion returns the highest applied migration, 0 for a fresh
// database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	return v, errors.Wrap(err, "read schema version")
}

// migrate applies every migration newer than the current schema version,
// each in its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT    NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	files, err := migrations()
	if err != nil {
		return err
	}

	for _, f := range files {
		if f.version <= current {
			continue
		}
		body, err := migrationFS.ReadFile("migration/" + f.name)
		if err != nil {
			return errors.Wrapf(err, "read %s", f.name)
		}
		err = s.inTx(ctx, func(tx *sqlx.Tx) error {
			for _, stmt := range splitStatements(string(body)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return errors.Wrapf(err, "%s", f.name)
				}
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", f.version, f.name)
			return errors.Wrapf(err, "record %s", f.name)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits a migration script on ";". Migration files must
// not put semicolons inside string literals or triggers.
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
