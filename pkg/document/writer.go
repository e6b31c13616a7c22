// Package document stores rendered pages under collision-free names.
package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/amosWeiskopf/snapcrawl/pkg/utils"
)

// Writer saves documents into one directory. Names reserved during the run
// and names already on disk are never reused.
type Writer struct {
	dir       string
	ext       string
	maxLength int

	mu       sync.Mutex
	reserved map[string]bool
}

// NewWriter creates dir if needed. ext includes the leading dot.
func NewWriter(dir, ext string) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("output directory is empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if ext == "" {
		ext = ".pdf"
	}
	return &Writer{
		dir:       dir,
		ext:       ext,
		maxLength: utils.DefaultFilenameLength,
		reserved:  make(map[string]bool),
	}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Save writes data under a name derived from title and returns the file
// name relative to Dir.
func (w *Writer) Save(title string, data []byte) (string, error) {
	name, err := w.reserve(utils.SanitizeFilename(title, w.maxLength))
	if err != nil {
		return "", err
	}

	if err := writeFileAtomic(filepath.Join(w.dir, name), data); err != nil {
		w.release(name)
		return "", err
	}
	return name, nil
}

// reserve picks base+ext, or base_N+ext for the lowest free N.
func (w *Writer) reserve(base string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for n := 0; n < 100000; n++ {
		name := base + w.ext
		if n > 0 {
			name = base + "_" + strconv.Itoa(n) + w.ext
		}
		if w.reserved[name] {
			continue
		}
		_, err := os.Stat(filepath.Join(w.dir, name))
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to check %s: %w", name, err)
		}
		w.reserved[name] = true
		return name, nil
	}
	return "", fmt.Errorf("no free file name for %q", base)
}

func (w *Writer) release(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.reserved, name)
}

func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapcrawl-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync document: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close document: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set document mode: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move document into place: %w", err)
	}
	return nil
}
