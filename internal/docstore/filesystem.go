package docstore

import (
	"bytes"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"

	"camstore/internal/fs"
	"camstore/internal/model"
	"camstore/internal/station"
)

// filesystemBackend stores each document as a JSON file next to the blobs
// it indexes:
//
//	<images_dir>/images.json
//	<videos_dir>/videos.json
//	<archive_dir>/<YYYYMMDD>/backup.json
type filesystemBackend struct {
	layout model.Layout
}

var _ backend = (*filesystemBackend)(nil)

func (b *filesystemBackend) load(key model.Key) ([]byte, error) {
	data, err := os.ReadFile(b.layout.DocumentPath(key))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, station.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// save writes through a temp file in the document's directory and renames
// it into place, so readers see either the old or the new document.
func (b *filesystemBackend) save(key model.Key, data []byte) error {
	dir := b.layout.Dir(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return fs.WriteFileAtomic(b.layout.DocumentPath(key), bytes.NewReader(data), int64(len(data)))
}

func (b *filesystemBackend) exists(key model.Key) bool {
	info, err := os.Stat(b.layout.DocumentPath(key))
	return err == nil && info.Mode().IsRegular()
}

func (b *filesystemBackend) keys(kind model.Kind) ([]model.Key, error) {
	if kind != model.KindBackup {
		key := model.Key{Kind: kind}
		if b.exists(key) {
			return []model.Key{key}, nil
		}
		return nil, nil
	}

	entries, err := os.ReadDir(b.layout.ArchiveDir)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading archive directory: %w", err)
	}

	var keys []model.Key
	for _, entry := range entries {
		if !entry.IsDir() || !model.ValidDate(entry.Name()) {
			continue
		}
		key := model.BackupKey(entry.Name())
		if _, err := os.Stat(filepath.Join(b.layout.Dir(key), model.DocumentName(model.KindBackup))); err == nil {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Date < keys[j].Date })
	return keys, nil
}

func (b *filesystemBackend) close() error { return nil }
