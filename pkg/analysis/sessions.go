package analysis

import (
	"sync"
	"time"

	"github.com/HatiCode/sensorboard/pkg/storage"
)

// Sessions lazily creates one Pipeline per dashboard session.
type Sessions struct {
	analyzer Analyzer
	store    storage.Store
	opts     PipelineOptions

	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

// NewSessions returns an empty registry. Every pipeline shares analyzer,
// store and opts.
func NewSessions(analyzer Analyzer, store storage.Store, opts PipelineOptions) *Sessions {
	return &Sessions{
		analyzer:  analyzer,
		store:     store,
		opts:      opts,
		pipelines: make(map[string]*Pipeline),
	}
}

// Get returns the pipeline of session, creating it on first use.
func (s *Sessions) Get(session string) (*Pipeline, error) {
	if err := storage.ValidateSession(session); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pipelines[session]
	if !ok {
		p = NewPipeline(session, s.analyzer, s.store, s.opts)
		s.pipelines[session] = p
	}
	return p, nil
}

// Len returns the number of live pipelines.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipelines)
}

// Prune drops pipelines idle for longer than maxIdle and returns how many
// were removed. Stored results are left to the store's own TTL.
func (s *Sessions) Prune(now time.Time, maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, p := range s.pipelines {
		if now.Sub(p.idleSince()) > maxIdle {
			p.Close()
			delete(s.pipelines, id)
			removed++
		}
	}
	return removed
}
