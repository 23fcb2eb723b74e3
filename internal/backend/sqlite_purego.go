//go:build !cgo

package backend

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/lexlapax/statecore/internal/logging"
)

// SQLiteBackend is the durable reference Backend implementation, built
// here on modernc.org/sqlite's pure-Go driver for CGO_ENABLED=0 builds
// (cross-compiling, minimal container images). Otherwise identical to the
// cgo build in sqlite.go, down to the pragma discipline.
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSQLiteBackend opens (creating if necessary) a SQLite-backed Backend at
// path. Use ":memory:" for an ephemeral in-process database.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	timer := logging.StartTimer(logging.CategoryBackend, "NewSQLiteBackend")
	defer timer.Stop()

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("backend: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("backend: open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.BackendDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.BackendDebug("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.BackendDebug("failed to set synchronous=NORMAL: %v", err)
	}

	b := &SQLiteBackend{db: db, dbPath: path}
	if err := b.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("backend: initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initialize() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_store (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)
	`)
	return err
}

func (b *SQLiteBackend) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var val []byte
	err := b.db.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, string(key)).Scan(&val)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("backend: get %q: %w", key, err)
	}
	return val, true, nil
}

func (b *SQLiteBackend) Put(_ context.Context, key, val []byte) error {
	if len(val) > MaxValueBytes {
		return ErrValueTooLarge
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.db.Exec(`
		INSERT INTO kv_store (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, string(key), val)
	if err != nil {
		return fmt.Errorf("backend: put %q: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(_ context.Context, key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.db.Exec(`DELETE FROM kv_store WHERE key = ?`, string(key))
	if err != nil {
		return fmt.Errorf("backend: delete %q: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) ListPrefix(_ context.Context, prefix []byte) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows, err := b.db.Query(`SELECT key FROM kv_store WHERE key LIKE ? ESCAPE '\'`, escapeLike(string(prefix))+"%")
	if err != nil {
		return nil, fmt.Errorf("backend: list_prefix %q: %w", prefix, err)
	}
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("backend: scan key: %w", err)
		}
		out = append(out, []byte(k))
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Flush(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
