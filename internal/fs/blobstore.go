package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"camstore/internal/station"
)

// OSBlobStore is the real filesystem implementation of station.BlobStore.
type OSBlobStore struct {
	patterns []string
}

// NewBlobStore creates a blob store. ignore is added to DefaultIgnorePatterns
// and to any patterns found in a directory's .camignore file when listing.
func NewBlobStore(ignore []string) *OSBlobStore {
	patterns := append([]string{}, DefaultIgnorePatterns...)
	patterns = append(patterns, ignore...)
	return &OSBlobStore{patterns: patterns}
}

// Size returns the size of dir/name.
func (s *OSBlobStore) Size(dir, name string) (int64, error) {
	info, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", name)
	}
	return info.Size(), nil
}

// Open opens dir/name for reading.
func (s *OSBlobStore) Open(dir, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return f, nil
}

// Copy copies srcDir/name into dstDir using atomic write (temp file + rename).
func (s *OSBlobStore) Copy(srcDir, dstDir, name string) (int64, error) {
	src, err := os.Open(filepath.Join(srcDir, name))
	if err != nil {
		return 0, fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	if err := WriteFileAtomic(filepath.Join(dstDir, name), src, info.Size()); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes dir/name.
func (s *OSBlobStore) Remove(dir, name string) error {
	if err := os.Remove(filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// List returns the names of regular files in dir that no ignore pattern
// matches, sorted. Subdirectories are not descended into.
func (s *OSBlobStore) List(dir string) ([]string, error) {
	extra, err := ParseIgnoreFile(filepath.Join(dir, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	matcher := NewIgnoreMatcher(append(append([]string{}, s.patterns...), extra...))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if matcher.Match(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// MkdirAll creates dir and any missing parents.
func (s *OSBlobStore) MkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

// DirExists reports whether dir exists and is a directory.
func (s *OSBlobStore) DirExists(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("not a directory: %s", dir)
	}
	return true, nil
}

// WriteFileAtomic writes data from r to destPath through a temp file in the
// same directory followed by a rename. expectedSize of -1 skips the size check.
func WriteFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if expectedSize >= 0 && written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that OSBlobStore implements station.BlobStore interface
var _ station.BlobStore = (*OSBlobStore)(nil)
