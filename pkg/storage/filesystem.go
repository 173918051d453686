package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const partialPrefix = ".partial-"

// LocalStorage keeps rendered exports on disk, one directory per run.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates baseDir when missing.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create exports directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Save writes data under the relative name. The file appears atomically, so a download racing the
// render never sees a truncated export.
func (s *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare export directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return "", fmt.Errorf("write export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish export file: %w", err)
	}
	return filepath.ToSlash(filepath.Clean(filename)), nil
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(filename string) (*os.File, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return file, nil
}

// DeletePrefix removes a directory of exports, e.g. everything rendered for one run.
func (s *LocalStorage) DeletePrefix(prefix string) error {
	path, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete export directory: %w", err)
	}
	return nil
}

// CleanupOlderThan removes exports last written before now-ttl and prunes directories left empty.
// It returns the removed files relative to the base dir.
func (s *LocalStorage) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	var deleted, dirs []string
	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.baseDir {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		// in-flight writes are left to their writer
		if strings.HasPrefix(d.Name(), partialPrefix) && info.ModTime().After(cutoff.Add(-time.Hour)) {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			rel = path
		}
		deleted = append(deleted, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup exports: %w", err)
	}
	// deepest first so parents empty out before they are visited
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		_ = os.Remove(dir) // fails while non-empty
	}
	return deleted, nil
}

// resolve maps a relative name into the base dir and refuses anything that would leave it.
func (s *LocalStorage) resolve(filename string) (string, error) {
	if filename == "" || filepath.IsAbs(filename) {
		return "", fmt.Errorf("invalid export path %q", filename)
	}
	clean := filepath.Clean(filepath.FromSlash(filename))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid export path %q", filename)
	}
	return filepath.Join(s.baseDir, clean), nil
}
