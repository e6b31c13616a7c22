package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/amosWeiskopf/snapcrawl/pkg/utils"
)

const (
	fileFormatVersion = 1
	legacyStatus      = "ok"
)

type fileDocument struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// FileStore keeps the whole history in memory and rewrites the JSON file
// after every addition. The file on disk is always either the previous or
// the new complete document.
type FileStore struct {
	path string

	// writeMu serializes snapshot+write so an older snapshot never lands last.
	writeMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]Entry
}

// OpenFile loads path, creating an empty history when it does not exist.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	s := &FileStore{
		path:    path,
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// An empty write proves the location is usable before any page runs.
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	if len(data) == 0 {
		return s, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	_, hasVersion := fields["version"]
	_, hasEntries := fields["entries"]
	if !hasVersion && !hasEntries {
		if err := s.importLegacy(fields); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		return s, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if doc.Version < 1 || doc.Version > fileFormatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, path, doc.Version)
	}
	for hash, e := range doc.Entries {
		e.Hash = hash
		s.entries[hash] = e
	}
	return s, nil
}

// legacyEntry is the URL-keyed layout of histories written before the
// versioned document. Every entry there is a saved page.
type legacyEntry struct {
	Filename string `json:"filename"`
	SHA1     string `json:"sha1"`
	SavedAt  string `json:"saved_at"`
}

// importLegacy loads a URL-keyed history. The next write stores it in the
// versioned layout.
func (s *FileStore) importLegacy(fields map[string]json.RawMessage) error {
	for rawURL, raw := range fields {
		var le legacyEntry
		if err := json.Unmarshal(raw, &le); err != nil {
			return fmt.Errorf("entry %q: %w", rawURL, err)
		}
		normalized, err := utils.NormalizeURL(rawURL, "")
		if err != nil {
			return fmt.Errorf("entry %q: %w", rawURL, err)
		}
		e := Entry{
			Hash:     utils.HashURL(normalized),
			URL:      normalized,
			Filename: le.Filename,
			Status:   legacyStatus,
		}
		if le.SavedAt != "" {
			if t, err := time.Parse(time.RFC3339Nano, le.SavedAt); err == nil {
				e.SavedAt = t.UTC()
			}
		}
		s.entries[e.Hash] = e
	}
	return nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Contains(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[hash]
	return ok
}

func (s *FileStore) Get(_ context.Context, hash string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[hash]
	return e, ok, nil
}

// Add inserts e and persists the history. When the write fails the entry
// stays in memory and the error is returned.
func (s *FileStore) Add(ctx context.Context, e Entry) error {
	if e.Hash == "" {
		return errors.New("history entry without hash")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, ok := s.entries[e.Hash]; ok {
		s.mu.Unlock()
		return nil
	}
	s.entries[e.Hash] = e
	s.mu.Unlock()

	return s.flush()
}

func (s *FileStore) Remove(_ context.Context, hash string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if _, ok := s.entries[hash]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.entries, hash)
	s.mu.Unlock()

	return true, s.flush()
}

func (s *FileStore) Entries(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sortEntries(out)
	return out, nil
}

func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op; every addition is already durable.
func (s *FileStore) Close() error {
	return nil
}

// flush writes the current document to a temp file and renames it over the
// target. Callers hold writeMu.
func (s *FileStore) flush() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(fileDocument{
		Version: fileFormatVersion,
		Entries: s.entries,
	}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	return writeFileAtomic(s.path, data)
}

func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp history: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync history: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close history: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace history: %w", err)
	}
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].SavedAt.Equal(entries[j].SavedAt) {
			return entries[i].Hash < entries[j].Hash
		}
		return entries[i].SavedAt.Before(entries[j].SavedAt)
	})
}
