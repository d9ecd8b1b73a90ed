// Package docstore persists collection documents with a read cache and a
// per-collection writer lock.
package docstore

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

// Options tunes lock waiting and shutdown.
type Options struct {
	// LockTimeout bounds how long a writer waits for a collection lock
	// before failing with station.ErrLockTimeout.
	LockTimeout time.Duration
	// LockWarnAfter is how long a writer waits before a warning is logged.
	LockWarnAfter time.Duration
	// ShutdownGrace bounds how long Close waits for held locks.
	ShutdownGrace time.Duration
}

// DefaultOptions returns the standard lock and shutdown timings.
func DefaultOptions() Options {
	return Options{
		LockTimeout:   30 * time.Second,
		LockWarnAfter: 2 * time.Second,
		ShutdownGrace: 5 * time.Second,
	}
}

// Store implements station.DocumentStore over a pluggable backend.
//
// Each key has a one-slot semaphore that writers hold for the whole
// load-modify-write cycle. Readers never take it: they are served from the
// cache, which is replaced only by committed writes. A generation counter
// per key keeps a slow Read from caching a document older than the last
// commit.
type Store struct {
	backend backend
	logger  station.Logger
	opts    Options

	mu      sync.Mutex
	cache   map[model.Key]*model.Document
	gens    map[model.Key]uint64
	locks   map[model.Key]chan struct{}
	holders map[model.Key]int
	closed  bool
	active  sync.WaitGroup
}

var _ station.DocumentStore = (*Store)(nil)

func newStore(b backend, logger station.Logger, opts Options) *Store {
	def := DefaultOptions()
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = def.LockTimeout
	}
	if opts.LockWarnAfter <= 0 {
		opts.LockWarnAfter = def.LockWarnAfter
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = def.ShutdownGrace
	}
	return &Store{
		backend: b,
		logger:  logger,
		opts:    opts,
		cache:   make(map[model.Key]*model.Document),
		gens:    make(map[model.Key]uint64),
		locks:   make(map[model.Key]chan struct{}),
		holders: make(map[model.Key]int),
	}
}

// NewFilesystemStore creates a store that keeps JSON documents in the
// directories of layout.
func NewFilesystemStore(layout model.Layout, logger station.Logger, opts Options) *Store {
	return newStore(&filesystemBackend{layout: layout}, logger, opts)
}

// NewBadgerStore creates a store backed by a badger database in dir.
// An empty dir opens an in-memory database.
func NewBadgerStore(dir string, logger station.Logger, opts Options) (*Store, error) {
	b, err := openBadger(dir, logger)
	if err != nil {
		return nil, err
	}
	return newStore(b, logger, opts), nil
}

// NewMemoryStore creates a store that keeps documents in memory.
func NewMemoryStore(logger station.Logger, opts Options) *Store {
	return newStore(newMemoryBackend(), logger, opts)
}

// Read loads a document from the backend and refreshes the cache.
func (s *Store) Read(key model.Key) (*model.Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	gen := s.gens[key]
	s.mu.Unlock()

	doc, err := s.load(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.gens[key] == gen {
		s.cache[key] = doc
	}
	s.mu.Unlock()

	return doc.Clone(), nil
}

// ReadCached returns a copy of the cached document, loading it on a miss.
func (s *Store) ReadCached(key model.Key) (*model.Document, error) {
	s.mu.Lock()
	doc, ok := s.cache[key]
	s.mu.Unlock()

	if ok {
		metrics.StoreCacheLookups.WithLabelValues("hit").Inc()
		return doc.Clone(), nil
	}
	metrics.StoreCacheLookups.WithLabelValues("miss").Inc()
	return s.Read(key)
}

// Exists reports whether a document is persisted under key.
func (s *Store) Exists(key model.Key) bool {
	s.mu.Lock()
	_, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return true
	}
	return s.backend.exists(key)
}

// Keys lists the persisted keys of a kind.
func (s *Store) Keys(kind model.Kind) ([]model.Key, error) {
	keys, err := s.backend.keys(kind)
	if err != nil {
		return nil, err
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// Write replaces the document under key.
func (s *Store) Write(ctx context.Context, key model.Key, doc *model.Document) error {
	if err := key.Validate(); err != nil {
		return err
	}

	unlock, err := s.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	return s.commit(key, doc.Clone())
}

// Apply runs fn on a private copy of the current document while holding the
// key's lock and commits the result with a single write. A missing document
// starts out empty.
func (s *Store) Apply(ctx context.Context, key model.Key, fn station.ApplyFunc) error {
	if err := key.Validate(); err != nil {
		return err
	}

	unlock, err := s.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.current(key)
	if err != nil {
		return err
	}

	work := current.Clone()
	if err := fn(work); err != nil {
		if errors.Is(err, station.ErrSkipWrite) {
			return nil
		}
		return err
	}

	return s.commit(key, work)
}

// Close refuses new writers, waits up to the shutdown grace period for
// writers already holding or waiting on a lock, then closes the backend.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()

	grace := time.NewTimer(s.opts.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		s.logAbandoned()
	case <-ctx.Done():
		s.logAbandoned()
	}

	if err := s.backend.close(); err != nil {
		return fmt.Errorf("closing store backend: %w", err)
	}
	return nil
}

// current returns the committed document for key, from the cache if
// present. Must be called with the key's lock held.
func (s *Store) current(key model.Key) (*model.Document, error) {
	s.mu.Lock()
	doc, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return doc, nil
	}

	doc, err := s.load(key)
	if errors.Is(err, station.ErrNotFound) {
		return model.NewDocument(), nil
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = doc
	s.mu.Unlock()
	return doc, nil
}

func (s *Store) load(key model.Key) (*model.Document, error) {
	data, err := s.backend.load(key)
	if errors.Is(err, station.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues(string(key.Kind), "read").Inc()
		return nil, &station.IOError{Op: "read", Key: key, Err: err}
	}

	doc, err := decode(key, data)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(string(key.Kind), "decode").Inc()
		return nil, &station.IOError{Op: "decode", Key: key, Err: err}
	}
	return doc, nil
}

// commit persists doc and publishes it to the cache. Must be called with
// the key's lock held; doc must not be shared with callers.
func (s *Store) commit(key model.Key, doc *model.Document) error {
	data, err := encode(key, doc)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(string(key.Kind), "encode").Inc()
		return &station.IOError{Op: "encode", Key: key, Err: err}
	}

	if err := s.backend.save(key, data); err != nil {
		metrics.StoreErrors.WithLabelValues(string(key.Kind), "write").Inc()
		return &station.IOError{Op: "write", Key: key, Err: err}
	}

	s.mu.Lock()
	s.gens[key]++
	s.cache[key] = doc
	s.mu.Unlock()

	metrics.StoreWrites.WithLabelValues(string(key.Kind)).Inc()
	s.logger.Debug("document committed", "key", key.String(), "entries", len(doc.Files))
	return nil
}

// lock acquires the key's semaphore. A warning is logged once the wait
// passes LockWarnAfter; after LockTimeout the wait fails.
func (s *Store) lock(ctx context.Context, key model.Key) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, station.ErrStoreClosed
	}
	sem, ok := s.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[key] = sem
	}
	s.active.Add(1)
	s.mu.Unlock()

	start := time.Now()
	if err := s.wait(ctx, key, sem); err != nil {
		s.active.Done()
		return nil, err
	}
	metrics.StoreLockWait.WithLabelValues(string(key.Kind)).Observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.holders[key]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.holders[key]--
			if s.holders[key] == 0 {
				delete(s.holders, key)
			}
			s.mu.Unlock()
			<-sem
			s.active.Done()
		})
	}, nil
}

func (s *Store) wait(ctx context.Context, key model.Key, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	default:
	}

	start := time.Now()
	warn := time.NewTimer(s.opts.LockWarnAfter)
	defer warn.Stop()
	timeout := time.NewTimer(s.opts.LockTimeout)
	defer timeout.Stop()

	for {
		select {
		case sem <- struct{}{}:
			return nil
		case <-warn.C:
			s.logger.Warn("waiting for collection lock", "key", key.String(), "waited", time.Since(start).Round(time.Millisecond))
		case <-timeout.C:
			metrics.StoreLockTimeouts.WithLabelValues(string(key.Kind)).Inc()
			return fmt.Errorf("%w: %s after %s", station.ErrLockTimeout, key, s.opts.LockTimeout)
		case <-ctx.Done():
			return fmt.Errorf("waiting for lock on %s: %w", key, ctx.Err())
		}
	}
}

func (s *Store) logAbandoned() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, n := range s.holders {
		s.logger.Warn("closing store with collection lock held", "key", key.String(), "holders", n)
	}
}
