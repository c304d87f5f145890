// Package store keeps finalized fingerprint records in memory, keyed by
// session id, until their TTL runs out.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/twmb/murmur3"
	"go.uber.org/zap"
)

const (
	shardCount       = 64
	minSweepInterval = 30 * time.Second
)

// ErrNotFound is returned by Get for unknown and expired session ids
var ErrNotFound = errors.New("fingerprint not found")

type shard struct {
	mu      sync.RWMutex
	records map[string]Record
}

// Store is a concurrent TTL map from session id to Record. Keys are spread
// over independently locked shards so that busy connections do not all
// queue on one lock.
type Store struct {
	shards     [shardCount]*shard
	ttl        time.Duration
	sweepEvery time.Duration
	now        func() time.Time
	logger     *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	sweepWG  sync.WaitGroup
}

type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithSweepInterval overrides the default sweep period of max(30s, ttl/2).
func WithSweepInterval(every time.Duration) Option {
	return func(s *Store) {
		s.sweepEvery = every
	}
}

// New creates a store and, when ttl is positive, starts the background
// sweep. Call Shutdown to stop it.
func New(ttl time.Duration, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(zap.String("component", "store")),
		stopCh: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]Record)}
	}
	for _, opt := range opts {
		opt(s)
	}

	if ttl > 0 {
		if s.sweepEvery <= 0 {
			s.sweepEvery = sweepInterval(ttl)
		}
		s.sweepWG.Add(1)
		go s.sweepLoop(s.sweepEvery)
	}
	return s
}

func sweepInterval(ttl time.Duration) time.Duration {
	return max(minSweepInterval, ttl/2)
}

func (s *Store) shardFor(sessionID string) *shard {
	return s.shards[murmur3.Sum32([]byte(sessionID))%shardCount]
}

// Put stores rec, replacing whatever was kept for the same session id.
func (s *Store) Put(rec Record) {
	sh := s.shardFor(rec.SessionID)
	sh.mu.Lock()
	sh.records[rec.SessionID] = rec
	sh.mu.Unlock()
}

// Get returns the record for sessionID. Expired records are removed on the
// way out and reported as ErrNotFound.
func (s *Store) Get(sessionID string) (Record, error) {
	sh := s.shardFor(sessionID)

	sh.mu.RLock()
	rec, ok := sh.records[sessionID]
	sh.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}

	now := s.now()
	if !rec.Expired(now, s.ttl) {
		return rec, nil
	}

	sh.mu.Lock()
	// A Put may have landed between the two locks, only drop what is still stale
	if current, ok := sh.records[sessionID]; ok && current.Expired(now, s.ttl) {
		delete(sh.records, sessionID)
	}
	sh.mu.Unlock()
	return Record{}, ErrNotFound
}

// Len counts stored records, expired ones that were not swept yet included.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.records)
		sh.mu.RUnlock()
	}
	return total
}

// Shutdown stops the background sweep. The store stays usable afterwards.
func (s *Store) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.sweepWG.Wait()
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer s.sweepWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeSweep()
		case <-s.stopCh:
			return
		}
	}
}

// safeSweep keeps the loop alive if a sweep blows up
func (s *Store) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("fingerprint sweep failed", zap.Any("panic", r))
		}
	}()
	if removed := s.sweep(); removed > 0 {
		s.logger.Debug("swept expired fingerprints", zap.Int("removed", removed))
	}
}

func (s *Store) sweep() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, rec := range sh.records {
			if rec.Expired(now, s.ttl) {
				delete(sh.records, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
