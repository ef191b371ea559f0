package db

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	app "github.com/etitcombe/jpconnect"
	_ "github.com/mattn/go-sqlite3" // sqlite
)

//go:embed migration/*.sql
var migrationFS embed.FS

// OptionStore stores option blobs as JSON documents.
type OptionStore struct {
	db  *sql.DB
	dsn string
}

// NewOptionStore creates a new instance of an OptionStore.
func NewOptionStore(dsn string) (*OptionStore, error) {
	return &OptionStore{dsn: dsn}, nil
}

// Open opens the connection to the database.
func (s *OptionStore) Open() error {
	// Ensure a DSN is set before attempting to open the database.
	if s.dsn == "" {
		return fmt.Errorf("dsn required")
	}

	// Make the parent directory unless using an in-memory db.
	if s.dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.dsn), 0700); err != nil {
			return err
		}
	}

	var err error
	if s.db, err = sql.Open("sqlite3", s.dsn); err != nil {
		return err
	}

	// Every connection to :memory: is a separate database.
	if s.dsn == ":memory:" {
		s.db.SetMaxOpenConns(1)
	}

	if _, err := s.db.Exec(`PRAGMA journal_mode = wal;`); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}

	if err := s.migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	return nil
}

// Close closes the connection to the data store.
func (s *OptionStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the option blob stored under name. A missing option yields an
// empty blob.
func (s *OptionStore) Get(ctx context.Context, name string) (app.Options, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	return get(ctx, tx, name)
}

// Update replaces the option blob stored under name.
func (s *OptionStore) Update(ctx context.Context, name string, o app.Options) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsert(ctx, tx, name, o); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete deletes the option blob stored under name.
func (s *OptionStore) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM options WHERE name = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

func get(ctx context.Context, tx *sql.Tx, name string) (app.Options, error) {
	var value string
	err := tx.QueryRowContext(ctx, `SELECT value FROM options WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return app.Options{}, nil
	}
	if err != nil {
		return nil, err
	}

	o := app.Options{}
	if err := json.Unmarshal([]byte(value), &o); err != nil {
		return nil, fmt.Errorf("option %q: %w", name, err)
	}
	return o, nil
}

func upsert(ctx context.Context, tx *sql.Tx, name string, o app.Options) error {
	if o == nil {
		o = app.Options{}
	}
	value, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("option %q: %w", name, err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO options
		(name, value)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, string(value))
	return err
}

// migrate sets up migration tracking and executes pending migration files.
//
// Migration files are embedded from the migration folder and are executed
// in lexicographical order. Once a migration is run, its name is stored in
// the 'migrations' table so it is not re-executed.
func (s *OptionStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS migrations (name TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("cannot create migrations table: %w", err)
	}

	names, err := fs.Glob(migrationFS, "migration/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.migrateFile(name); err != nil {
			return fmt.Errorf("migration error: name=%q err=%w", name, err)
		}
	}
	return nil
}

// migrateFile runs a single migration file within a transaction. On success,
// the migration file name is saved to the "migrations" table.
func (s *OptionStore) migrateFile(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM migrations WHERE name = ?`, name).Scan(&n); err != nil {
		return err
	} else if n != 0 {
		return nil // already run migration, skip
	}

	if buf, err := migrationFS.ReadFile(name); err != nil {
		return err
	} else if _, err := tx.Exec(string(buf)); err != nil {
		return err
	}

	if _, err := tx.Exec(`INSERT INTO migrations (name) VALUES (?)`, name); err != nil {
		return err
	}

	return tx.Commit()
}
