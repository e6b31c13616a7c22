package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists history in a SQLite database. The hash set is loaded
// into memory at open so Contains never queries the database.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu     sync.RWMutex
	hashes map[string]struct{}
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{
		db:     db,
		path:   path,
		hashes: make(map[string]struct{}),
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if err := s.loadHashes(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS visited (
		hash TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		filename TEXT,
		status TEXT NOT NULL,
		saved_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_visited_saved_at ON visited(saved_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) loadHashes(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT hash FROM visited")
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return fmt.Errorf("failed to scan history row: %w", err)
		}
		s.hashes[hash] = struct{}{}
	}
	return rows.Err()
}

// Path returns the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Contains(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hashes[hash]
	return ok
}

func (s *SQLiteStore) Get(ctx context.Context, hash string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT hash, url, filename, status, saved_at FROM visited WHERE hash = ?", hash)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get history entry: %w", err)
	}
	return e, true, nil
}

func (s *SQLiteStore) Add(ctx context.Context, e Entry) error {
	if e.Hash == "" {
		return errors.New("history entry without hash")
	}
	if s.Contains(e.Hash) {
		return nil
	}
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visited (hash, url, filename, status, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, e.Hash, e.URL, e.Filename, e.Status, e.SavedAt.UTC())

	// The in-memory set is updated either way so the URL is not re-crawled this run.
	s.mu.Lock()
	s.hashes[e.Hash] = struct{}{}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM visited WHERE hash = ?", hash)
	if err != nil {
		return false, fmt.Errorf("failed to delete history entry: %w", err)
	}

	s.mu.Lock()
	delete(s.hashes, hash)
	s.mu.Unlock()

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT hash, url, filename, status, saved_at FROM visited ORDER BY saved_at, hash")
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashes)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e        Entry
		filename sql.NullString
	)
	if err := row.Scan(&e.Hash, &e.URL, &filename, &e.Status, &e.SavedAt); err != nil {
		return Entry{}, err
	}
	e.Filename = filename.String
	return e, nil
}
