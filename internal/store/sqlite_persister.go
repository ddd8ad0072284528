package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// SQLitePersister keeps the persisted keys in a single key/value table.
type SQLitePersister struct {
	db     *sql.DB
	dbPath string
}

// NewSQLitePersister opens (or creates) the database at path.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	p := &SQLitePersister{db: db, dbPath: path}
	if err := p.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *SQLitePersister) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := p.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (p *SQLitePersister) Path() string {
	return p.dbPath
}

// Load implements Persister.
func (p *SQLitePersister) Load() (State, error) {
	rows, err := p.db.Query(`SELECT key, value FROM kv WHERE key IN (?, ?, ?)`,
		SchemaVersionKey, ConversationsKey, SelectedKey)
	if err != nil {
		return State{}, fmt.Errorf("failed to query state: %w", err)
	}
	defer rows.Close()

	values := make(map[string][]byte)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return State{}, fmt.Errorf("failed to scan state row: %w", err)
		}
		values[key] = []byte(value)
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("failed to read state: %w", err)
	}

	return decodeState(values)
}

// Save implements Persister. All keys are written in one transaction.
func (p *SQLitePersister) Save(state State) error {
	values, err := encodeState(state)
	if err != nil {
		return err
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // No-op after commit
	}()

	stmt, err := tx.Prepare(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, key := range []string{SchemaVersionKey, ConversationsKey, SelectedKey} {
		if _, err := stmt.Exec(key, string(values[key]), now); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// Close implements Persister.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
