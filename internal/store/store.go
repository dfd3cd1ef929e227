// Package store persists the identity record needed to resume background sync.
//
// The store is an embedded SQLite database holding a single row: the
// tag/device binding written by a foreground client. The database runs
// in WAL mode so an in-flight sync read never blocks a client write.
//
// Read semantics are deliberately soft: a missing row resolves to nil,
// never to an error. A device that was never bound to a tag is a normal
// state, not a failure.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// currentKey is the fixed key of the singleton identity row.
const currentKey = "current"

// Identity is the persisted tag/device binding.
//
// TagUID is required for any sync to proceed; DeviceInfo is free text
// and may be empty (the sync engine substitutes a placeholder).
type Identity struct {
	TagUID     string `json:"tagUid"`
	DeviceInfo string `json:"deviceInfo"`
}

// Store wraps the SQLite connection holding the identity record.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the identity database at the specified path.
//
// The schema is created if absent; this is the only migration step and
// runs idempotently on every open. The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	s := &Store{conn: conn, path: path}

	// WAL mode: concurrent readers during writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the identity table if it doesn't exist.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identity (
		key TEXT PRIMARY KEY,
		tag_uid TEXT NOT NULL,
		device_info TEXT NOT NULL DEFAULT ''
	);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.conn = nil
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Identity returns the current identity record, or nil if none was
// ever stored. The nil case is not an error.
func (s *Store) Identity(ctx context.Context) (*Identity, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT tag_uid, device_info FROM identity WHERE key = ?", currentKey)

	var rec Identity
	if err := row.Scan(&rec.TagUID, &rec.DeviceInfo); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}

	return &rec, nil
}

// SaveIdentity replaces the singleton identity record.
//
// The previous value is fully overwritten; there is no partial-field
// merge. Returns only after the write is committed.
func (s *Store) SaveIdentity(ctx context.Context, rec *Identity) error {
	if rec == nil {
		return fmt.Errorf("identity record cannot be nil")
	}

	query := `
	INSERT INTO identity (key, tag_uid, device_info)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		tag_uid = excluded.tag_uid,
		device_info = excluded.device_info
	`

	if _, err := s.conn.ExecContext(ctx, query, currentKey, rec.TagUID, rec.DeviceInfo); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	return nil
}

// IdentityCount returns the number of identity rows. Always 0 or 1;
// exposed for inspection and tests.
func (s *Store) IdentityCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM identity").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count identity rows: %w", err)
	}
	return count, nil
}
