package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var _ Backend = (*SQLiteBackend)(nil)

// SQLiteBackend is the durable backend. One row per key; values survive
// process restarts.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the key/value database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("[store OpenSQLite] create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("[store OpenSQLite] open: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("[store OpenSQLite] %q: %w", stmt, err)
		}
	}

	return &SQLiteBackend{db: db, path: path}, nil
}

// OpenDurable opens the SQLite backend at path. When the host cannot provide
// durable storage it logs a warning and returns an in-memory backend, so the
// session lives for this process only. durable reports which one was used.
func OpenDurable(path string, log zerolog.Logger) (backend Backend, durable bool) {
	b, err := OpenSQLite(path)
	if err != nil {
		log.Warn().
			Err(fmt.Errorf("%w: %w", autherrors.ErrStorageUnavailable, err)).
			Str("path", path).
			Msg("[store OpenDurable] durable storage unavailable, using memory-only mode")
		return NewMemoryBackend(), false
	}
	return b, true
}

func (s *SQLiteBackend) Path() string {
	return s.path
}

func (s *SQLiteBackend) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, autherrors.Wrapf(err, "[SQLiteBackend Get]")
	}
	return value, true, nil
}

func (s *SQLiteBackend) Set(key, value string) error {
	if _, err := s.db.Exec(upsertSQL, key, value); err != nil {
		return autherrors.Wrapf(err, "[SQLiteBackend Set]")
	}
	return nil
}

func (s *SQLiteBackend) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return autherrors.Wrapf(err, "[SQLiteBackend Delete]")
	}
	return nil
}

func (s *SQLiteBackend) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, autherrors.Wrapf(err, "[SQLiteBackend Keys]")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("[SQLiteBackend Keys] scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteBackend) Apply(sets map[string]string, deletes []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("[SQLiteBackend Apply] begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range deletes {
		if _, err := tx.Exec("DELETE FROM kv WHERE key = ?", k); err != nil {
			return fmt.Errorf("[SQLiteBackend Apply] delete %s: %w", k, err)
		}
	}
	for k, v := range sets {
		if _, err := tx.Exec(upsertSQL, k, v); err != nil {
			return fmt.Errorf("[SQLiteBackend Apply] set %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("[SQLiteBackend Apply] commit: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

const upsertSQL = `INSERT INTO kv (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`
