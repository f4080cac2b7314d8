package nbvision

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"
)

//go:embed db/latest_schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

// DB is the local state database. It stores API keys (implementing
// SecretStore) and the remembered provider (implementing Preferences).
type DB struct {
	mu sync.Mutex
	db *sql.DB

	filepath string
}

var (
	_ SecretStore = &DB{}
	_ Preferences = &DB{}
)

func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.db.Close()
}

// NewDB opens the state database at fname, a file path or a "file:" URI, and
// brings its schema up to date.
func NewDB(ctx context.Context, fname string) (*DB, error) {
	dsn, path, err := dataSource(fname)
	if err != nil {
		return nil, err
	}

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection, otherwise every connection to :memory: sees its
	// own empty database.
	sqldb.SetMaxOpenConns(1)
	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	if err := schema.Apply(ctx, sqldb); err != nil {
		sqldb.Close()
		return nil, err
	}

	// The file holds API keys, keep it private to the user.
	if path != "" && path != ":memory:" {
		if err := os.Chmod(path, 0o600); err != nil {
			sqldb.Close()
			return nil, err
		}
	}

	return &DB{db: sqldb, filepath: path}, nil
}

// dataSource returns the driver DSN for fname with Go's cleaner timestamps
// turned on, and the path of the file it opens. A plain path containing '?'
// is turned into a "file:" URI so the driver doesn't read it as parameters.
func dataSource(fname string) (dsn, path string, err error) {
	if !strings.HasPrefix(fname, "file:") {
		dsn = fname
		if strings.Contains(fname, "?") {
			dsn = "file:" + (&url.URL{Path: fname}).EscapedPath()
		}
		return dsn + "?_time_format=sqlite", fname, nil
	}

	rest, query, hasQuery := strings.Cut(strings.TrimPrefix(fname, "file:"), "?")
	if authority, ok := strings.CutPrefix(rest, "//"); ok {
		// file://host/path, sqlite only accepts an empty host or localhost.
		_, p, _ := strings.Cut(authority, "/")
		rest = "/" + p
	}
	path, err = url.PathUnescape(rest)
	if err != nil {
		return "", "", fmt.Errorf("database URI %q: %w", fname, err)
	}
	if q, err := url.ParseQuery(query); err == nil && q.Get("mode") == "memory" {
		path = ""
	}
	if hasQuery {
		return fname + "&_time_format=sqlite", path, nil
	}
	return fname + "?_time_format=sqlite", path, nil
}

// Secret returns the secret stored under name, or "" if there is none.
func (db *DB) Secret(ctx context.Context, name string) (string, error) {
	return db.lookup(ctx, "SELECT secret FROM secrets WHERE key_name=?", name)
}

func (db *DB) StoreSecret(ctx context.Context, name, secret string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO secrets (key_name, secret, stored_at) VALUES ($1,$2,$3)
		ON CONFLICT(key_name) DO UPDATE SET secret=excluded.secret, stored_at=excluded.stored_at`,
		name, secret, time.Now())
	return err
}

// DeleteSecret removes the secret stored under name. Deleting a missing
// secret is not an error.
func (db *DB) DeleteSecret(ctx context.Context, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.db.ExecContext(ctx, "DELETE FROM secrets WHERE key_name=?", name)
	return err
}

// Preference returns the value stored under key, or "" if unset.
func (db *DB) Preference(ctx context.Context, key string) (string, error) {
	return db.lookup(ctx, "SELECT pref_value FROM preferences WHERE pref_key=?", key)
}

func (db *DB) SetPreference(ctx context.Context, key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO preferences (pref_key, pref_value, updated_at) VALUES ($1,$2,$3)
		ON CONFLICT(pref_key) DO UPDATE SET pref_value=excluded.pref_value, updated_at=excluded.updated_at`,
		key, value, time.Now())
	return err
}

func (db *DB) ClearPreference(ctx context.Context, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.db.ExecContext(ctx, "DELETE FROM preferences WHERE pref_key=?", key)
	return err
}

func (db *DB) lookup(ctx context.Context, query, key string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var value string
	err := db.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
