package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a cache has no entry for a URL
var ErrNotFound = errors.New("cache entry not found")

const sqliteDriverName = "sqlite"

const schemaCacheEntries = `
CREATE TABLE IF NOT EXISTS cache_entries (
    cache_name TEXT NOT NULL,
    url TEXT NOT NULL,
    status INTEGER NOT NULL,
    header TEXT NOT NULL,
    body BLOB NOT NULL,
    stored_at TIMESTAMP NOT NULL,
    PRIMARY KEY (cache_name, url)
);
`

const (
	selectEntrySQL = `
		SELECT url, status, header, body, stored_at
		FROM cache_entries WHERE cache_name = ? AND url = ?
	`

	upsertEntrySQL = `
		INSERT INTO cache_entries (cache_name, url, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_name, url) DO UPDATE SET
			status=excluded.status,
			header=excluded.header,
			body=excluded.body,
			stored_at=excluded.stored_at
	`

	selectKeysSQL = `SELECT url FROM cache_entries WHERE cache_name = ? ORDER BY url`
)

// Entry is a stored response
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Store persists cache entries
type Store interface {
	Get(ctx context.Context, cacheName, url string) (*Entry, error)
	// PutAll stores entries atomically: either all are stored or none
	PutAll(ctx context.Context, cacheName string, entries []Entry) error
	Keys(ctx context.Context, cacheName string) ([]string, error)
}

// SQLiteStore keeps cache entries in a SQLite table keyed by cache name
// and URL
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database. The schema must already exist;
// see OpenSQLite.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenSQLite opens or creates the cache database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite at %q", path)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "set %s", pragma)
		}
	}

	if _, err := db.Exec(schemaCacheEntries); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply cache schema")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the entry for url or ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, cacheName, url string) (*Entry, error) {
	var (
		entry  Entry
		header string
	)
	err := s.db.QueryRowContext(ctx, selectEntrySQL, cacheName, url).
		Scan(&entry.URL, &entry.Status, &header, &entry.Body, &entry.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query cache entry %s", url)
	}

	if err := json.Unmarshal([]byte(header), &entry.Header); err != nil {
		return nil, errors.Wrapf(err, "decode header of cache entry %s", url)
	}
	return &entry, nil
}

// PutAll stores entries in one transaction
func (s *SQLiteStore) PutAll(ctx context.Context, cacheName string, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin cache transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, e := range entries {
		header, err := json.Marshal(e.Header)
		if err != nil {
			return errors.Wrapf(err, "encode header of %s", e.URL)
		}
		body := e.Body
		if body == nil {
			body = []byte{}
		}
		storedAt := e.StoredAt
		if storedAt.IsZero() {
			storedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, upsertEntrySQL,
			cacheName, e.URL, e.Status, string(header), body, storedAt.UTC(),
		); err != nil {
			return errors.Wrapf(err, "store cache entry %s", e.URL)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit cache transaction")
	}
	return nil
}

// Keys lists the URLs stored in a cache
func (s *SQLiteStore) Keys(ctx context.Context, cacheName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, selectKeysSQL, cacheName)
	if err != nil {
		return nil, errors.Wrap(err, "query cache keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, errors.Wrap(err, "scan cache key")
		}
		keys = append(keys, url)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate cache keys")
	}
	return keys, nil
}
