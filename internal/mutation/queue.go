// Package mutation serializes flag edits coming from UI collaborators and
// applies them to the document store in batches.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"camstore/internal/metrics"
	"camstore/internal/model"
	"camstore/internal/station"
)

// DefaultInterval is how often Serve drains the queue.
const DefaultInterval = time.Second

// edit is one pending flag change.
type edit struct {
	EntryID string
	Field   string
	Value   bool
}

// DrainStats summarizes one Drain.
type DrainStats struct {
	Keys    int // collections written
	Applied int
	Dropped int // edits naming an entry the collection does not contain
	Failed  int // edits put back because their collection could not be written
}

// Queue holds a FIFO of edits per collection key. Producers call Enqueue
// from any goroutine; a single consumer calls Drain, usually through Serve.
type Queue struct {
	store    station.DocumentStore
	logger   station.Logger
	interval time.Duration

	mu      sync.Mutex
	pending map[model.Key][]edit
	drainMu sync.Mutex
}

var _ station.FlagQueue = (*Queue)(nil)

// NewQueue creates a queue that applies edits to store. A non-positive
// interval uses DefaultInterval.
func NewQueue(store station.DocumentStore, logger station.Logger, interval time.Duration) *Queue {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Queue{
		store:    store,
		logger:   logger,
		interval: interval,
		pending:  make(map[model.Key][]edit),
	}
}

// Enqueue appends a flag change to the key's queue. It never blocks on the
// store; unknown fields and invalid keys are rejected immediately.
func (q *Queue) Enqueue(key model.Key, entryID, field string, value bool) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if field != model.FieldFavorite && field != model.FieldToBeDeleted {
		return fmt.Errorf("%w: %q", model.ErrUnknownField, field)
	}
	if entryID == "" {
		return fmt.Errorf("entry id is required")
	}

	q.mu.Lock()
	q.pending[key] = append(q.pending[key], edit{EntryID: entryID, Field: field, Value: value})
	q.mu.Unlock()

	metrics.QueueEnqueued.Inc()
	metrics.QueuePending.Inc()
	return nil
}

// Len returns the number of edits waiting to be applied.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, edits := range q.pending {
		n += len(edits)
	}
	return n
}

// Drain applies every pending edit. Each key's batch is written with a
// single Apply; a batch whose Apply fails is put back at the head of its
// queue and retried on the next Drain. The returned error joins the
// per-key failures.
func (q *Queue) Drain(ctx context.Context) (DrainStats, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	batches := q.pending
	q.pending = make(map[model.Key][]edit)
	q.mu.Unlock()

	keys := make([]model.Key, 0, len(batches))
	for key := range batches {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var stats DrainStats
	var errs []error
	for _, key := range keys {
		batch := batches[key]
		applied, dropped, err := q.applyBatch(ctx, key, batch)
		if err != nil {
			q.requeue(key, batch)
			stats.Failed += len(batch)
			errs = append(errs, fmt.Errorf("applying %d edits to %s: %w", len(batch), key, err))
			continue
		}

		stats.Keys++
		stats.Applied += applied
		stats.Dropped += dropped
		metrics.QueuePending.Sub(float64(len(batch)))
		metrics.QueueApplied.WithLabelValues("applied").Add(float64(applied))
		metrics.QueueApplied.WithLabelValues("dropped").Add(float64(dropped))
	}

	return stats, errors.Join(errs...)
}

func (q *Queue) applyBatch(ctx context.Context, key model.Key, batch []edit) (applied, dropped int, err error) {
	err = q.store.Apply(ctx, key, func(doc *model.Document) error {
		applied, dropped = 0, 0
		for _, e := range batch {
			entry, ok := doc.Files[e.EntryID]
			if !ok {
				q.logger.Warn("dropping flag change for missing entry", "key", key.String(), "id", e.EntryID, "field", e.Field)
				dropped++
				continue
			}
			if err := entry.SetFlag(e.Field, e.Value); err != nil {
				q.logger.Warn("dropping invalid flag change", "key", key.String(), "id", e.EntryID, "error", err)
				dropped++
				continue
			}
			applied++
		}
		if applied == 0 {
			return station.ErrSkipWrite
		}
		return nil
	})
	return applied, dropped, err
}

// requeue puts a failed batch back in front of anything enqueued since.
func (q *Queue) requeue(key model.Key, batch []edit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[key] = append(batch, q.pending[key]...)
}

// Serve drains the queue on a fixed interval until ctx is canceled, then
// performs a final drain. It implements suture.Service.
func (q *Queue) Serve(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.drainAndLog(ctx)
		case <-ctx.Done():
			// The run context is gone; give the final drain a fresh one.
			final, cancel := context.WithTimeout(context.Background(), q.interval*5)
			q.drainAndLog(final)
			cancel()
			return ctx.Err()
		}
	}
}

func (q *Queue) drainAndLog(ctx context.Context) {
	if q.Len() == 0 {
		return
	}
	stats, err := q.Drain(ctx)
	if err != nil {
		q.logger.Error("draining flag queue", "error", err, "requeued", stats.Failed)
	}
	if stats.Applied > 0 || stats.Dropped > 0 {
		q.logger.Debug("flag queue drained", "collections", stats.Keys, "applied", stats.Applied, "dropped", stats.Dropped)
	}
}

func (q *Queue) String() string { return "mutation-queue" }
