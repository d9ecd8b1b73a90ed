package station

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"camstore/internal/metrics"
	"camstore/internal/model"
)

// CleanupResult reports one reclaim run.
type CleanupResult struct {
	Key            string      `json:"key"`
	DeletedCount   int         `json:"deleted_count"`
	DeletedKeys    []string    `json:"deleted_keys"`
	OrphansRemoved []string    `json:"orphans_removed"`
	FilesUsed      int         `json:"files_used"`
	FilesUnused    int         `json:"files_unused"`
	Errors         []ItemError `json:"errors"`
}

// TriggerCleanup reclaims the entries of a collection that are marked for
// deletion, removing their blobs, and optionally every file in the
// collection's directory that no entry references. date is required for
// backup collections and must be empty otherwise.
//
// The whole run happens inside one transaction on the collection. The set
// of referenced files is taken before anything is removed, so the blobs of
// reclaimed entries are never counted as orphans and vice versa.
func (s *Service) TriggerCleanup(ctx context.Context, kind model.Kind, date string, deleteOrphans bool) (*CleanupResult, error) {
	key, err := model.NewKey(kind, date)
	if err != nil {
		return nil, err
	}

	params := key.String()
	if deleteOrphans {
		params += " orphans"
	}

	var result *CleanupResult
	err = s.run("cleanup", params, func() (string, error) {
		var err error
		result, err = s.cleanup(ctx, key, deleteOrphans)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d entries deleted, %d orphans removed, %d errors",
			result.DeletedCount, len(result.OrphansRemoved), len(result.Errors)), nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) cleanup(ctx context.Context, key model.Key, deleteOrphans bool) (*CleanupResult, error) {
	dir := s.layout.Dir(key)
	s.logger.Info("cleanup started", "key", key.String(), "orphans", deleteOrphans)

	var result *CleanupResult
	err := s.store.Apply(ctx, key, func(doc *model.Document) error {
		result = &CleanupResult{Key: key.String(), DeletedKeys: []string{}, OrphansRemoved: []string{}}
		referenced := doc.Files.ReferencedFiles()

		for _, id := range doc.Files.SortedIDs() {
			entry := doc.Files[id]
			if !entry.ToBeDeleted() {
				continue
			}
			if s.removeEntryFiles(dir, entry, result) {
				delete(doc.Files, id)
				result.DeletedKeys = append(result.DeletedKeys, id)
				result.DeletedCount++
			}
		}

		if err := s.countFiles(dir, referenced, deleteOrphans, result); err != nil {
			return err
		}

		if result.DeletedCount == 0 {
			return ErrSkipWrite
		}
		if doc.Info != nil {
			doc.Info.Count = len(doc.Files)
			var size int64
			for _, e := range doc.Files {
				size += e.Size
			}
			doc.Info.Size = size
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleaning up %s: %w", key, err)
	}

	s.logger.Info("cleanup complete", "key", key.String(), "deleted", result.DeletedCount,
		"orphans", len(result.OrphansRemoved), "errors", len(result.Errors))
	return result, nil
}

// removeEntryFiles deletes every blob an entry references. A file that is
// already gone counts as deleted. Returns false if any removal failed; the
// entry is then kept so a later run can retry.
func (s *Service) removeEntryFiles(dir string, entry *model.Entry, result *CleanupResult) bool {
	ok := true
	for _, name := range entry.Files() {
		err := s.blobs.Remove(dir, name)
		switch {
		case err == nil:
			metrics.ArchiveFilesDeleted.WithLabelValues("recycled").Inc()
		case errors.Is(err, fs.ErrNotExist):
			s.logger.Debug("blob already removed", "id", entry.ID, "file", name)
		default:
			ok = false
			result.Errors = append(result.Errors, newItemError(entry.ID, name, err))
			s.logger.Warn("removing blob", "id", entry.ID, "file", name, "error", err)
		}
	}
	return ok
}

// countFiles tallies the directory's files against the referenced set and,
// if deleteOrphans is set, removes the unreferenced ones.
func (s *Service) countFiles(dir string, referenced map[string]struct{}, deleteOrphans bool, result *CleanupResult) error {
	exists, err := s.blobs.DirExists(dir)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	names, err := s.blobs.List(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}

	for _, name := range names {
		if _, ok := referenced[name]; ok {
			result.FilesUsed++
			continue
		}
		result.FilesUnused++
		if !deleteOrphans {
			continue
		}
		err := s.blobs.Remove(dir, name)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, newItemError("", name, err))
			continue
		}
		metrics.ArchiveFilesDeleted.WithLabelValues("orphan").Inc()
		result.OrphansRemoved = append(result.OrphansRemoved, name)
	}
	return nil
}
