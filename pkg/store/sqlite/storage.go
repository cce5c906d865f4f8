package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/tablecache/pkg/models"
	"github.com/pario-ai/tablecache/pkg/store"
)

// Storage keeps every named cache store in a single SQLite database.
type Storage struct {
	db *sql.DB
}

var _ store.Storage = (*Storage)(nil)

const createTables = `
CREATE TABLE IF NOT EXISTS cache_stores (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_entries (
	store TEXT NOT NULL,
	key TEXT NOT NULL,
	status INTEGER NOT NULL,
	header TEXT NOT NULL,
	body BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (store, key)
);
CREATE INDEX IF NOT EXISTS idx_entries_key ON cache_entries(key);
`

// New opens (or creates) the cache database at dbPath.
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// A single connection serializes writers; concurrent puts then resolve
	// last-write-wins instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Storage{db: db}, nil
}

// Open returns the named store, registering it if it does not exist yet.
func (s *Storage) Open(ctx context.Context, name string) (store.Store, error) {
	if name == "" {
		return nil, fmt.Errorf("open store: name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_stores (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}
	return &Store{db: s.db, name: name}, nil
}

// Has reports whether the named store exists.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_stores WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup store %q: %w", name, err)
	}
	return n > 0, nil
}

// Names lists stores in creation order.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_stores ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan store name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete drops a store and its entries in one transaction.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete store %q: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM cache_stores WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete store %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE store = ?`, name); err != nil {
		return false, fmt.Errorf("delete store %q entries: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete store %q: %w", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete store %q: %w", name, err)
	}
	return n > 0, nil
}

// Match searches every store, oldest first.
func (s *Storage) Match(ctx context.Context, key string) (models.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT e.status, e.header, e.body, e.stored_at
		 FROM cache_entries e JOIN cache_stores s ON s.name = e.store
		 WHERE e.key = ? ORDER BY s.id LIMIT 1`,
		key,
	)
	return scanEntry(row)
}

// Close releases the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Store is one named store inside a Storage.
type Store struct {
	db   *sql.DB
	name string
}

// Name returns the store's version tag.
func (st *Store) Name() string { return st.name }

// Put writes entry under key. Writes to a store that has since been
// deleted are discarded.
func (st *Store) Put(ctx context.Context, key string, entry models.Entry) error {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}

	_, err = st.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (store, key, status, header, body, stored_at)
		 SELECT ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM cache_stores WHERE name = ?)`,
		st.name, key, entry.Status, string(header), body, storedAt.UnixNano(), st.name,
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Match returns the entry stored under key.
func (st *Store) Match(ctx context.Context, key string) (models.Entry, bool, error) {
	row := st.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM cache_entries WHERE store = ? AND key = ?`,
		st.name, key,
	)
	return scanEntry(row)
}

// Keys lists request keys in the store.
func (st *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := st.db.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE store = ? ORDER BY key`, st.name)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes one entry.
func (st *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := st.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE store = ? AND key = ?`, st.name, key)
	if err != nil {
		return false, fmt.Errorf("cache delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cache delete: %w", err)
	}
	return n > 0, nil
}

// Info returns entry count and total body size.
func (st *Store) Info(ctx context.Context) (models.StoreInfo, error) {
	info := models.StoreInfo{Name: st.name}
	err := st.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(body)), 0) FROM cache_entries WHERE store = ?`,
		st.name,
	).Scan(&info.Entries, &info.Bytes)
	if err != nil {
		return models.StoreInfo{}, fmt.Errorf("store info: %w", err)
	}
	return info, nil
}

func scanEntry(row *sql.Row) (models.Entry, bool, error) {
	var (
		e        models.Entry
		header   string
		storedAt int64
	)
	err := row.Scan(&e.Status, &header, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entry{}, false, nil
	}
	if err != nil {
		return models.Entry{}, false, fmt.Errorf("cache match: %w", err)
	}
	e.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return models.Entry{}, false, fmt.Errorf("decode header: %w", err)
	}
	if e.Header == nil {
		e.Header = http.Header{}
	}
	e.StoredAt = time.Unix(0, storedAt).UTC()
	return e, true, nil
}
