package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// connParams are applied by the driver to every connection it opens, so a
// recycled connection never loses them.
var connParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// migration upgrades a database to version. Databases created from the
// current schema.sql already contain every change; the statements must
// therefore be idempotent.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations are applied in order to databases whose user_version is
// below the migration's version.
var migrations = []migration{
	{
		version: 1,
		name:    "index machines by fleet group",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_machines_fleet_group ON machines(fleet_group)`,
	},
}

// currentSchemaVersion is the user_version of a fully migrated database.
var currentSchemaVersion = migrations[len(migrations)-1].version

// Store keeps machines and their reference datasets in one SQLite file.
// Datasets reference their machine and are removed with it.
type Store struct {
	db *sql.DB
}

// Open opens or creates the machine database at path and brings its
// schema up to date. Opening an existing database is safe.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	// a single connection serializes writers, as SQLite requires
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// newWithDB wraps an already configured handle.
func newWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs one migration and records its version atomically.
func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.stmt); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("migration %d (%s): set version: %w", m.version, m.name, err)
	}
	return tx.Commit()
}

// pragma reads the current value of a pragma.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value, nil
}
