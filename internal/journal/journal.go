// Package journal keeps the updater's local history in SQLite: every phase
// the update controller enters, and the artifacts that failed a security
// check and must not be fetched automatically again.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, WAL-friendly
)

// FileName is the journal database name inside the state directory.
const FileName = "update-journal.db"

// DefaultKeep is how many transitions Open retains.
const DefaultKeep = 1000

const schema = `
	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		phase TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS quarantine (
		name TEXT NOT NULL,
		digest TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL,
		at TEXT NOT NULL,
		PRIMARY KEY (name, digest)
	);
`

// Transition is one recorded phase change.
type Transition struct {
	At      time.Time
	Phase   string
	Version string
	Detail  string
}

// QuarantineEntry is an artifact barred from automatic download.
type QuarantineEntry struct {
	Name    string
	Digest  string
	Version string
	Reason  string
	At      time.Time
}

// Store is a journal backed by one SQLite file. It is safe for concurrent
// use.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// buildDSN creates a read-write WAL DSN for the given path.
func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(3000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Open opens (creating if needed) the journal at path and trims old
// transitions to DefaultKeep.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", buildDSN(trimmed))
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	s := &Store{db: db, path: trimmed, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Prune(ctx, DefaultKeep); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// RecordPhase appends a transition.
func (s *Store) RecordPhase(ctx context.Context, phase, version, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (at, phase, version, detail) VALUES (?, ?, ?, ?)`,
		s.timestamp(), phase, version, detail)
	if err != nil {
		return fmt.Errorf("record phase %s: %w", phase, err)
	}
	return nil
}

// History returns up to limit transitions, newest first. A non-positive
// limit returns all of them.
func (s *Store) History(ctx context.Context, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, phase, version, detail
		FROM transitions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Transition
	for rows.Next() {
		var (
			t  Transition
			at string
		)
		if err := rows.Scan(&at, &t.Phase, &t.Version, &t.Detail); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.At = parseTime(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune keeps only the newest keep transitions.
func (s *Store) Prune(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM transitions
		WHERE id NOT IN (SELECT id FROM transitions ORDER BY id DESC LIMIT ?)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune transitions: %w", err)
	}
	return nil
}

// Quarantine bars name with digest from automatic download. Recording the
// same artifact again refreshes its reason and time.
func (s *Store) Quarantine(ctx context.Context, name, digest, version, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantine (name, digest, version, reason, at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name, digest) DO UPDATE SET
			version = excluded.version,
			reason = excluded.reason,
			at = excluded.at
	`, name, strings.ToLower(digest), version, reason, s.timestamp())
	if err != nil {
		return fmt.Errorf("quarantine %s: %w", name, err)
	}
	return nil
}

// IsQuarantined reports whether name with digest is barred.
func (s *Store) IsQuarantined(ctx context.Context, name, digest string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM quarantine WHERE name = ? AND digest = ?`,
		name, strings.ToLower(digest)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query quarantine: %w", err)
	}
	return n > 0, nil
}

// Quarantined lists barred artifacts, newest first.
func (s *Store) Quarantined(ctx context.Context) ([]QuarantineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, digest, version, reason, at
		FROM quarantine
		ORDER BY at DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("query quarantine: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []QuarantineEntry
	for rows.Next() {
		var (
			e  QuarantineEntry
			at string
		)
		if err := rows.Scan(&e.Name, &e.Digest, &e.Version, &e.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan quarantine: %w", err)
		}
		e.At = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearQuarantine removes every quarantine entry and reports how many
// there were.
func (s *Store) ClearQuarantine(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quarantine`)
	if err != nil {
		return 0, fmt.Errorf("clear quarantine: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear quarantine: %w", err)
	}
	return n, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
