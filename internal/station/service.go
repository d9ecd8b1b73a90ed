package station

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"camstore/internal/model"
	"camstore/internal/retention"
)

// DefaultCopyWorkers bounds concurrent blob copies during a backup.
const DefaultCopyWorkers = 4

// Options tunes the archive engine.
type Options struct {
	CopyWorkers int
	// RetireArchived marks same-date working-set entries for reclaim once
	// their snapshot exists.
	RetireArchived bool
	// DayOffset is added to today's date when a backup is triggered without
	// one.
	DayOffset int
}

// Deps are the collaborators a Service needs. Comparator and Replicator are
// optional: a nil Comparator uses retention.PixelComparator and a nil
// Replicator disables offsite copies.
type Deps struct {
	Store      DocumentStore
	Queue      FlagQueue
	Blobs      BlobStore
	History    History
	Layout     model.Layout
	Policies   retention.PolicySet
	Comparator retention.Comparator
	Replicator *Replicator
	Logger     Logger
	Clock      Clock
}

// Service is the orchestration layer over the document store, the flag
// queue and the blob directories. It implements ingestion, flag changes,
// archive snapshots and reclaim for the CLI, the scheduler and the API.
type Service struct {
	store      DocumentStore
	queue      FlagQueue
	blobs      BlobStore
	history    History
	layout     model.Layout
	policies   retention.PolicySet
	cmp        retention.Comparator
	replicator *Replicator
	logger     Logger
	clock      Clock
	opts       Options

	backups singleflight.Group
}

// NewService creates a Service with the provided dependencies.
func NewService(deps Deps, opts Options) *Service {
	if opts.CopyWorkers <= 0 {
		opts.CopyWorkers = DefaultCopyWorkers
	}
	cmp := deps.Comparator
	if cmp == nil {
		cmp = retention.PixelComparator{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	clock := deps.Clock
	if clock == nil {
		clock = RealClock{}
	}
	return &Service{
		store:      deps.Store,
		queue:      deps.Queue,
		blobs:      deps.Blobs,
		history:    deps.History,
		layout:     deps.Layout,
		policies:   deps.Policies,
		cmp:        cmp,
		replicator: deps.Replicator,
		logger:     logger,
		clock:      clock,
		opts:       opts,
	}
}

// Observation is a captured frame reported by a capture collaborator.
type Observation struct {
	CameraID   string    `json:"camera_id"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	LowresFile string    `json:"lowres_file" validate:"required_without=HiresFile"`
	HiresFile  string    `json:"hires_file"`
	// Similarity to the camera's previous frame; nil if not compared.
	Similarity *float64 `json:"similarity" validate:"omitempty,gte=0,lte=100"`
}

// Ingest records a new frame in the images collection.
func (s *Service) Ingest(ctx context.Context, obs Observation) (*model.Entry, error) {
	if obs.Timestamp.IsZero() {
		return nil, fmt.Errorf("observation has no timestamp")
	}
	if obs.LowresFile == "" && obs.HiresFile == "" {
		return nil, fmt.Errorf("observation has no image file")
	}

	entry := model.NewEntry(obs.CameraID, obs.Timestamp)
	entry.LowresFile = obs.LowresFile
	entry.HiresFile = obs.HiresFile
	if obs.Similarity != nil {
		v := *obs.Similarity
		entry.Similarity = &v
	}

	err := s.store.Apply(ctx, model.ImagesKey(), func(doc *model.Document) error {
		if _, ok := doc.Files[entry.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, entry.ID)
		}
		doc.Files[entry.ID] = entry.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingesting %s: %w", entry.ID, err)
	}

	s.logger.Debug("frame ingested", "id", entry.ID, "camera", entry.CameraID)
	return entry, nil
}

// EnqueueFlagChange queues a flag edit after checking that the entry
// currently exists. The edit is applied on the queue's next drain.
func (s *Service) EnqueueFlagChange(key model.Key, entryID, field string, value bool) error {
	if err := key.Validate(); err != nil {
		return err
	}
	doc, err := s.store.ReadCached(key)
	if errors.Is(err, ErrNotFound) {
		return entryNotFound(entryID)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if _, ok := doc.Files[entryID]; !ok {
		return entryNotFound(entryID)
	}
	return s.queue.Enqueue(key, entryID, field, value)
}

// Collection returns the entries of the images or videos collection. A
// collection that was never written is empty.
func (s *Service) Collection(kind model.Kind) (model.Collection, error) {
	if kind == model.KindBackup {
		return nil, fmt.Errorf("backup collections are read with Snapshot")
	}
	doc, err := s.store.ReadCached(model.Key{Kind: kind})
	if errors.Is(err, ErrNotFound) {
		return model.Collection{}, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Files, nil
}

// Snapshot returns the archive snapshot of a date.
func (s *Service) Snapshot(date string) (*model.Document, error) {
	key := model.BackupKey(date)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.store.ReadCached(key)
}

// SnapshotSummary describes one archived date.
type SnapshotSummary struct {
	Date string              `json:"date"`
	Info *model.SnapshotInfo `json:"info"`
}

// ListSnapshots returns a summary of every archived date, oldest first.
func (s *Service) ListSnapshots() ([]SnapshotSummary, error) {
	keys, err := s.store.Keys(model.KindBackup)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	summaries := make([]SnapshotSummary, 0, len(keys))
	for _, key := range keys {
		doc, err := s.store.ReadCached(key)
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot", "date", key.Date, "error", err)
			continue
		}
		summaries = append(summaries, SnapshotSummary{Date: key.Date, Info: doc.Info})
	}
	return summaries, nil
}

// History returns the most recent archive runs, newest first.
func (s *Service) History(limit int) ([]*Operation, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListOperations(limit)
}

// DefaultBackupDate returns today shifted by the configured day offset.
func (s *Service) DefaultBackupDate() string {
	return s.clock.Now().AddDate(0, 0, s.opts.DayOffset).Format(model.DateLayout)
}

// run records an archive operation in history and metrics around fn.
// History failures are logged and never fail the run.
func (s *Service) run(operation, params string, fn func() (summary string, err error)) error {
	var op *Operation
	if s.history != nil {
		var err error
		op, err = s.history.CreateOperation(operation, params)
		if err != nil {
			s.logger.Warn("recording operation start", "operation", operation, "error", err)
		}
	}

	start := s.clock.Now()
	summary, runErr := fn()
	observeRun(operation, runErr, s.clock.Now().Sub(start))

	if op != nil {
		status := StatusSuccess
		if runErr != nil {
			status = StatusError
			summary = runErr.Error()
		}
		if err := s.history.FinishOperation(op.ID, status, summary); err != nil {
			s.logger.Warn("recording operation finish", "operation", operation, "error", err)
		}
	}
	return runErr
}
