// Package db provides SQLite connection management and schema migrations.
package db

import (
	"database/sql"
	"embed"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cadencehq/listsync/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// Migrate brings the schema up to date, applying every embedded
// migration not yet recorded in schema_migrations. Each migration runs
// in its own transaction. A nil logger runs silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	files, err := migrationFiles()
	if err != nil {
		return err
	}

	applied := 0
	for _, name := range files {
		ran, err := applyMigration(db, name, logger)
		if err != nil {
			return err
		}
		if ran {
			applied++
		}
	}
	if logger != nil && applied > 0 {
		logger.Infow("schema migrated", "applied", applied, "total", len(files))
	}
	return nil
}

// migrationFiles returns the embedded migration names in version
// order. The 000 bootstrap creating schema_migrations sorts first.
func migrationFiles() ([]string, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func applyMigration(db *sql.DB, name string, logger *zap.SugaredLogger) (bool, error) {
	version, _, _ := strings.Cut(name, "_")

	var done bool
	err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)`, version).Scan(&done)
	if err != nil && version != "000" {
		// Only the bootstrap may run before schema_migrations exists.
		return false, errors.Wrapf(err, "check migration %s", name)
	}
	if done {
		return false, nil
	}

	body, err := migrationFS.ReadFile(migrationDir + "/" + name)
	if err != nil {
		return false, errors.Wrapf(err, "read migration %s", name)
	}
	if logger != nil {
		logger.Infow("applying migration", "migration", name)
	}

	tx, err := db.Begin()
	if err != nil {
		return false, errors.Wrapf(err, "begin migration %s", name)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return false, errors.Wrapf(err, "apply migration %s", name)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		return false, errors.Wrapf(err, "record migration %s", name)
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrapf(err, "commit migration %s", name)
	}
	return true, nil
}
