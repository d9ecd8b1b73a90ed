package station

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"camstore/internal/metrics"
	"camstore/internal/model"
	"camstore/internal/retention"
)

// BackupState is the state a date's archive directory is found in when a
// backup is triggered.
type BackupState int

const (
	// StateNoDirectory: nothing archived yet. A snapshot is built from the
	// images collection.
	StateNoDirectory BackupState = iota
	// StateDirectoryNoIndex: blobs exist but the snapshot document is
	// missing. It is rebuilt from the files.
	StateDirectoryNoIndex
	// StateIndexed: the snapshot exists and is left alone.
	StateIndexed
)

func (s BackupState) String() string {
	switch s {
	case StateNoDirectory:
		return "no_directory"
	case StateDirectoryNoIndex:
		return "directory_no_index"
	case StateIndexed:
		return "indexed"
	default:
		return fmt.Sprintf("BackupState(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s BackupState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *BackupState) UnmarshalText(b []byte) error {
	for _, st := range []BackupState{StateNoDirectory, StateDirectoryNoIndex, StateIndexed} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown backup state %q", b)
}

// BackupResult reports one backup run.
type BackupResult struct {
	Date       string              `json:"date"`
	State      BackupState         `json:"state"`
	Count      int                 `json:"count"`
	Size       int64               `json:"size"`
	Copied     int                 `json:"files_copied"`
	Retired    int                 `json:"retired"`
	Replicated int                 `json:"files_replicated"`
	Info       *model.SnapshotInfo `json:"info"`
	Errors     []ItemError         `json:"errors"`
}

// TriggerBackup archives one date. An empty date means today shifted by the
// configured day offset. Concurrent calls for the same date share a single
// run and its result. Once started, a run completes even if ctx is
// cancelled: a half-copied directory would be indexed as is on the next run.
func (s *Service) TriggerBackup(ctx context.Context, date string) (*BackupResult, error) {
	if date == "" {
		date = s.DefaultBackupDate()
	}
	key := model.BackupKey(date)
	if err := key.Validate(); err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	v, err, shared := s.backups.Do(date, func() (any, error) {
		var result *BackupResult
		err := s.run("backup", date, func() (string, error) {
			var err error
			result, err = s.backup(runCtx, key)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s: %d entries, %d bytes, %d errors", result.State, result.Count, result.Size, len(result.Errors)), nil
		})
		return result, err
	})
	if shared {
		s.logger.Debug("backup run shared", "date", date)
	}
	if err != nil {
		return nil, err
	}
	return v.(*BackupResult), nil
}

func (s *Service) backup(ctx context.Context, key model.Key) (*BackupResult, error) {
	dir := s.layout.Dir(key)
	state, err := s.backupState(key, dir)
	if err != nil {
		return nil, err
	}

	s.logger.Info("backup started", "date", key.Date, "state", state.String())
	result := &BackupResult{Date: key.Date, State: state}

	var (
		doc       *model.Document
		retirable map[string]struct{}
	)
	switch state {
	case StateIndexed:
		doc, err = s.store.ReadCached(key)
		if err != nil {
			return nil, fmt.Errorf("reading snapshot: %w", err)
		}
		s.fillResult(result, doc)
		s.logger.Info("backup already exists", "date", key.Date, "count", result.Count)
		return result, nil

	case StateNoDirectory:
		doc, retirable, err = s.createSnapshot(ctx, key, dir, result)
	case StateDirectoryNoIndex:
		doc, err = s.repairSnapshot(ctx, key, dir, result)
	}
	if err != nil {
		return nil, err
	}
	s.fillResult(result, doc)

	if state == StateNoDirectory && s.opts.RetireArchived {
		retired, err := s.retireArchived(ctx, retirable)
		if err != nil {
			// The snapshot is already committed.
			result.Errors = append(result.Errors, newItemError(model.ImagesKey().String(), "", fmt.Errorf("retiring archived entries: %w", err)))
		}
		result.Retired = retired
	}

	if s.replicator != nil {
		n, errs := s.replicator.ReplicateSnapshot(ctx, key.Date, dir, doc)
		result.Replicated = n
		result.Errors = append(result.Errors, errs...)
	}

	s.logger.Info("backup complete", "date", key.Date, "state", state.String(),
		"count", result.Count, "size", result.Size, "errors", len(result.Errors))
	return result, nil
}

func (s *Service) backupState(key model.Key, dir string) (BackupState, error) {
	exists, err := s.blobs.DirExists(dir)
	if err != nil {
		return 0, fmt.Errorf("checking archive directory: %w", err)
	}
	if !exists {
		return StateNoDirectory, nil
	}
	if s.store.Exists(key) {
		return StateIndexed, nil
	}
	return StateDirectoryNoIndex, nil
}

func (s *Service) fillResult(result *BackupResult, doc *model.Document) {
	result.Count = len(doc.Files)
	result.Info = doc.Info
	if doc.Info != nil {
		result.Size = doc.Info.Size
	}
}

// createSnapshot selects the day's retained frames from the images
// collection, copies their blobs and commits the snapshot document. No lock
// is held while copying.
//
// The returned set holds the working-set ids that are safe to retire: every
// entry of the day that was looked at, minus selected entries that lost a
// file in the copy or are absent from the committed snapshot.
func (s *Service) createSnapshot(ctx context.Context, key model.Key, dir string, result *BackupResult) (*model.Document, map[string]struct{}, error) {
	images, err := s.store.ReadCached(model.ImagesKey())
	if errors.Is(err, ErrNotFound) {
		images = model.NewDocument()
	} else if err != nil {
		return nil, nil, fmt.Errorf("reading images: %w", err)
	}

	if err := s.blobs.MkdirAll(dir); err != nil {
		return nil, nil, err
	}

	var day []*model.Entry
	for _, e := range images.Files {
		if e.Datestamp == key.Date {
			day = append(day, e)
		}
	}

	snapshot := model.NewDocument()
	thresholds := make(map[string]float64)
	retirable := make(map[string]struct{}, len(day))
	var selectedIDs []string
	for camera, entries := range retention.GroupByCamera(day) {
		policy := s.policies.For(camera)
		thresholds[camera] = policy.Threshold

		var selected []*model.Entry
		for _, e := range entries {
			retirable[e.ID] = struct{}{}
			if retention.Select(e, policy) {
				selected = append(selected, e)
				selectedIDs = append(selectedIDs, e.ID)
			}
		}

		copied, errs := s.copyEntries(camera, selected, dir)
		for _, e := range copied {
			snapshot.Files[e.ID] = e
			result.Copied += len(e.Files())
		}
		for _, ie := range errs {
			delete(retirable, ie.Key)
		}
		result.Errors = append(result.Errors, errs...)
	}

	snapshot.Info = snapshotInfo(key.Date, snapshot.Files, thresholds)
	committed, err := s.commitSnapshot(ctx, key, snapshot)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range selectedIDs {
		if _, ok := committed.Files[id]; !ok {
			delete(retirable, id)
		}
	}
	return committed, retirable, nil
}

// copyEntries copies the lowres and hires blobs of entries into dir with a
// bounded number of workers. An entry keeps only the files that copied;
// entries with no file copied are left out.
func (s *Service) copyEntries(camera string, entries []*model.Entry, dir string) ([]*model.Entry, []ItemError) {
	type slot struct {
		entry  *model.Entry
		lowres int64
		hires  int64
		failed [2]bool
	}

	slots := make([]*slot, len(entries))
	for i, e := range entries {
		slots[i] = &slot{entry: e.Clone()}
	}

	var (
		mu   sync.Mutex
		errs []ItemError
	)

	var g errgroup.Group
	g.SetLimit(s.opts.CopyWorkers)

	for _, sl := range slots {
		for i, name := range []string{sl.entry.LowresFile, sl.entry.HiresFile} {
			if name == "" {
				continue
			}
			g.Go(func() error {
				n, err := s.blobs.Copy(s.layout.ImagesDir, dir, name)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					sl.failed[i] = true
					errs = append(errs, newItemError(sl.entry.ID, name, err))
					return nil
				}
				if i == 0 {
					sl.lowres = n
				} else {
					sl.hires = n
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	var out []*model.Entry
	for _, sl := range slots {
		e := sl.entry
		if sl.failed[0] {
			e.LowresFile = ""
		}
		if sl.failed[1] {
			e.HiresFile = ""
		}
		if e.LowresFile == "" && e.HiresFile == "" {
			continue
		}
		e.Size = sl.lowres + sl.hires
		out = append(out, e)
	}

	files := 0
	for _, e := range out {
		files += len(e.Files())
	}
	metrics.ArchiveFilesCopied.WithLabelValues(camera).Add(float64(files))
	if len(errs) > 0 {
		s.logger.Warn("some blobs failed to copy", "camera", camera, "copied", files, "failed", len(errs))
	} else {
		s.logger.Debug("blobs copied", "camera", camera, "copied", files)
	}
	return out, errs
}

// repairSnapshot rebuilds a missing snapshot document from the blobs
// already in the archive directory. Similarity is recomputed per camera.
func (s *Service) repairSnapshot(ctx context.Context, key model.Key, dir string, result *BackupResult) (*model.Document, error) {
	names, err := s.blobs.List(dir)
	if err != nil {
		return nil, fmt.Errorf("listing archive directory: %w", err)
	}

	snapshot := model.NewDocument()
	for _, name := range names {
		blob, err := model.ParseBlobName(name)
		if err != nil {
			s.logger.Debug("skipping unrecognized file", "date", key.Date, "file", name)
			continue
		}
		size, err := s.blobs.Size(dir, name)
		if err != nil {
			result.Errors = append(result.Errors, newItemError("", name, err))
			continue
		}

		id := model.EntryID(blob.Camera, blob.Timestamp)
		entry, ok := snapshot.Files[id]
		if !ok {
			entry = model.NewEntry(blob.Camera, blob.Timestamp)
			snapshot.Files[id] = entry
		}
		if blob.Hires {
			entry.HiresFile = name
		} else {
			entry.LowresFile = name
		}
		entry.Size += size
	}

	entries := make([]*model.Entry, 0, len(snapshot.Files))
	for _, e := range snapshot.Files {
		entries = append(entries, e)
	}

	thresholds := make(map[string]float64)
	for camera, group := range retention.GroupByCamera(entries) {
		thresholds[camera] = s.policies.For(camera).Threshold
		for _, e := range retention.Recompute(ctx, group, s.imageLoader(dir), s.cmp) {
			result.Errors = append(result.Errors, newItemError(e.ID, "", e.Err))
		}
	}
	snapshot.Info = snapshotInfo(key.Date, snapshot.Files, thresholds)
	s.logger.Info("snapshot rebuilt from archive files", "date", key.Date, "count", len(snapshot.Files))
	return s.commitSnapshot(ctx, key, snapshot)
}

func (s *Service) imageLoader(dir string) retention.ImageLoader {
	return func(name string) (image.Image, error) {
		rc, err := s.blobs.Open(dir, name)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return retention.DecodeImage(rc)
	}
}

// commitSnapshot writes the snapshot unless one appeared in the meantime,
// in which case the existing document wins and is returned.
func (s *Service) commitSnapshot(ctx context.Context, key model.Key, snapshot *model.Document) (*model.Document, error) {
	committed := snapshot
	err := s.store.Apply(ctx, key, func(doc *model.Document) error {
		if len(doc.Files) > 0 || doc.Info != nil {
			committed = doc.Clone()
			return ErrSkipWrite
		}
		doc.Files = snapshot.Files
		doc.Info = snapshot.Info
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	if committed != snapshot {
		s.logger.Warn("snapshot written concurrently, keeping existing", "date", key.Date)
	}
	return committed, nil
}

// retireArchived marks the given working-set entries for reclaim. Entries
// that are gone by now are skipped. Returns the number of entries changed.
func (s *Service) retireArchived(ctx context.Context, ids map[string]struct{}) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	retired := 0
	err := s.store.Apply(ctx, model.ImagesKey(), func(doc *model.Document) error {
		retired = 0
		for id := range ids {
			e, ok := doc.Files[id]
			if ok && e.Override != model.OverrideRecycle {
				e.Override = model.OverrideRecycle
				retired++
			}
		}
		if retired == 0 {
			return ErrSkipWrite
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if retired > 0 {
		s.logger.Info("archived entries marked for reclaim", "count", retired)
	}
	return retired, nil
}

func snapshotInfo(date string, files model.Collection, thresholds map[string]float64) *model.SnapshotInfo {
	var size int64
	for _, e := range files {
		size += e.Size
	}
	display, err := model.DisplayDate(date)
	if err != nil {
		display = date
	}
	return &model.SnapshotInfo{
		Count:     len(files),
		Size:      size,
		Threshold: thresholds,
		Date:      display,
	}
}

func observeRun(operation string, err error, elapsed time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	metrics.ArchiveRuns.WithLabelValues(operation, status).Inc()
	metrics.ArchiveRunDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// sortedEntries returns the entries of c ordered by id.
func sortedEntries(c model.Collection) []*model.Entry {
	out := make([]*model.Entry, 0, len(c))
	for _, e := range c {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
