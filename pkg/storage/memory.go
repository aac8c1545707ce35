package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory.
// It is safe for concurrent use by multiple goroutines.
//
// If TTL is configured, a background goroutine removes results whose
// CompletedAt is older than the TTL. Use RedisStore when several dashboard
// instances serve the same sessions.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[string]Record
	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopped       bool
	stopMu        sync.Mutex
}

// NewMemoryStore creates a store with no TTL.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// NewMemoryStoreWithTTL creates a store that drops results older than ttl.
// The cleanup goroutine runs every cleanupInterval (one minute if <= 0) and
// must be released with Stop.
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	store := &MemoryStore{
		records:       make(map[string]Record),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	go store.runCleanup()

	return store
}

// Stop shuts down the cleanup goroutine and blocks until it exits.
// Calling Stop multiple times or on a store without TTL is safe.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return
	}

	close(s.stopCleanup)
	<-s.cleanupDone
	s.cleanupTicker.Stop()
	s.stopped = true
}

// Close implements io.Closer so callers can release any store the same way.
func (s *MemoryStore) Close() error {
	s.Stop()
	return nil
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return
	}

	for session, record := range s.records {
		if now.Sub(record.CompletedAt) > s.ttl {
			delete(s.records, session)
		}
	}
}

// Put stores record for its session, replacing any previous result.
func (s *MemoryStore) Put(ctx context.Context, record Record) error {
	if err := ValidateSession(record.Session); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.Session] = record
	return nil
}

// GetLatest returns the current result of a session. found is false when
// the session has no result.
func (s *MemoryStore) GetLatest(ctx context.Context, session string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, found := s.records[session]
	return record, found, nil
}

// Delete clears the result of a session. Deleting a missing session is not
// an error.
func (s *MemoryStore) Delete(ctx context.Context, session string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, session)
	return nil
}

// Len returns the number of stored results.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
