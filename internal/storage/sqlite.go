package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"

	_ "modernc.org/sqlite"
)

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv (
    namespace  TEXT NOT NULL,
    identifier TEXT NOT NULL,
    attr       TEXT NOT NULL,
    value      BLOB,
    PRIMARY KEY (namespace, identifier, attr)
)`

// markerAttr is the attribute of the row that reserves an identifier.
const markerAttr = ""

// Compile-time interface satisfaction check.
var _ Backend = (*SQLiteBackend)(nil)

// SQLiteBackend implements Backend in a single SQLite table. Attribute paths
// are stored joined with "/"; every identifier owns a marker row so that
// freshly allocated identifiers are visible before any attribute is written.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens the SQLite database at dbPath and runs migrations.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// In-memory databases are per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// dsn applies the busy timeout to every pooled connection, not only the one
// the PRAGMA in NewSQLiteBackend happens to run on.
func dsn(dbPath string) string {
	if dbPath == ":memory:" || strings.Contains(dbPath, "?") {
		return dbPath
	}
	return dbPath + "?_pragma=busy_timeout(5000)"
}

// Close closes the underlying database connection.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// scope returns the WHERE clause and arguments selecting key and everything
// below it.
func scope(key Key) (string, []any) {
	switch {
	case key.ID == "":
		return "namespace = ?", []any{key.Namespace}
	case len(key.Attr) == 0:
		return "namespace = ? AND identifier = ?", []any{key.Namespace, key.ID}
	default:
		attr := strings.Join(key.Attr, "/")
		prefix := attr + "/"
		return "namespace = ? AND identifier = ? AND (attr = ? OR substr(attr, 1, ?) = ?)",
			[]any{key.Namespace, key.ID, attr, utf8.RuneCountInString(prefix), prefix}
	}
}

// Exists reports whether any row lies at or below key.
func (s *SQLiteBackend) Exists(ctx context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, wrap("exists", key, err)
	}
	where, args := scope(key)
	var found bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM kv WHERE "+where+")", args...).Scan(&found)
	if err != nil {
		return false, wrap("exists", key, err)
	}
	return found, nil
}

// Get returns the value stored for key.
func (s *SQLiteBackend) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := key.requireAttr(); err != nil {
		return nil, false, wrap("get", key, err)
	}
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv WHERE namespace = ? AND identifier = ? AND attr = ?",
		key.Namespace, key.ID, strings.Join(key.Attr, "/"),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("get", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// Set upserts the value for key.
func (s *SQLiteBackend) Set(ctx context.Context, key Key, value []byte) error {
	if err := key.requireAttr(); err != nil {
		return wrap("set", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (namespace, identifier, attr, value) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, identifier, attr) DO UPDATE SET value = excluded.value`,
		key.Namespace, key.ID, strings.Join(key.Attr, "/"), value,
	)
	return wrap("set", key, err)
}

// Create inserts the value for key unless a row already holds it.
func (s *SQLiteBackend) Create(ctx context.Context, key Key, value []byte) (bool, error) {
	if err := key.requireAttr(); err != nil {
		return false, wrap("create", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (namespace, identifier, attr, value) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, identifier, attr) DO NOTHING`,
		key.Namespace, key.ID, strings.Join(key.Attr, "/"), value,
	)
	if err != nil {
		return false, wrap("create", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("create", key, err)
	}
	return n == 1, nil
}

// Delete removes every row at or below key.
func (s *SQLiteBackend) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return wrap("delete", key, err)
	}
	where, args := scope(key)
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE "+where, args...)
	return wrap("delete", key, err)
}

// NewIdentifier inserts the marker row of a fresh identifier. The primary
// key makes the insert fail if the identifier is taken.
func (s *SQLiteBackend) NewIdentifier(ctx context.Context, namespace, prefix string) (string, error) {
	key := NamespaceKey(namespace)
	if err := key.Validate(); err != nil {
		return "", wrap("new identifier", key, err)
	}
	if err := validPrefix(prefix); err != nil {
		return "", wrap("new identifier", key, err)
	}

	for range maxIdentifierAttempts {
		id := identifier(prefix, model.NewID())
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO kv (namespace, identifier, attr, value) VALUES (?, ?, ?, NULL)",
			namespace, id, markerAttr,
		)
		if err == nil {
			return id, nil
		}
		if !strings.Contains(err.Error(), "UNIQUE") {
			return "", wrap("new identifier", RecordKey(namespace, id), err)
		}
	}
	return "", wrap("new identifier", key, errors.New("identifier space exhausted"))
}

// Enumerate lists the distinct child names below key.
func (s *SQLiteBackend) Enumerate(ctx context.Context, key Key) ([]string, error) {
	if err := key.Validate(); err != nil {
		return nil, wrap("enumerate", key, err)
	}

	if key.ID == "" {
		return s.identifiers(ctx, key)
	}

	where, args := scope(key)
	rows, err := s.db.QueryContext(ctx, "SELECT attr FROM kv WHERE "+where, args...)
	if err != nil {
		return nil, wrap("enumerate", key, err)
	}
	defer rows.Close()

	var prefix string
	if len(key.Attr) > 0 {
		prefix = strings.Join(key.Attr, "/") + "/"
	}
	seen := make(map[string]bool)
	var names []string
	for rows.Next() {
		var attr string
		if err := rows.Scan(&attr); err != nil {
			return nil, wrap("enumerate", key, err)
		}
		rest, ok := strings.CutPrefix(attr, prefix)
		if !ok || rest == "" {
			continue
		}
		child, _, _ := strings.Cut(rest, "/")
		if !seen[child] {
			seen[child] = true
			names = append(names, child)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("enumerate", key, err)
	}
	slices.Sort(names)
	return names, nil
}

func (s *SQLiteBackend) identifiers(ctx context.Context, key Key) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT identifier FROM kv WHERE namespace = ? ORDER BY identifier", key.Namespace)
	if err != nil {
		return nil, wrap("enumerate", key, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("enumerate", key, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("enumerate", key, err)
	}
	return ids, nil
}
