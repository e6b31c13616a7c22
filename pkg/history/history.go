// Package history persists the set of URLs already processed so that later
// runs never visit them again.
//
// Entries are keyed by the SHA-1 hex digest of the normalized URL. Two
// backends exist: a JSON document replaced atomically on every addition, and
// a SQLite database for large histories.
package history

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// ErrCorrupt is returned by Open when an existing history cannot be parsed.
var ErrCorrupt = errors.New("history is corrupt")

// Entry is the payload stored per visited URL.
type Entry struct {
	Hash     string    `json:"-"`
	URL      string    `json:"url"`
	Filename string    `json:"filename,omitempty"`
	Status   string    `json:"status"`
	SavedAt  time.Time `json:"saved_at"`
}

// Store is the visited set. Implementations are safe for concurrent use.
type Store interface {
	// Contains reports whether hash was recorded. It never touches disk.
	Contains(hash string) bool

	// Get returns the entry recorded for hash.
	Get(ctx context.Context, hash string) (Entry, bool, error)

	// Add records an entry. Adding a hash that is already present is a no-op.
	Add(ctx context.Context, e Entry) error

	// Remove deletes hash so that the URL is retried on a later run.
	Remove(ctx context.Context, hash string) (bool, error)

	// Entries returns every entry ordered by SavedAt.
	Entries(ctx context.Context) ([]Entry, error)

	Len() int
	Close() error
}

// Open returns the backend matching the file extension of path.
func Open(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	default:
		return OpenFile(path)
	}
}
