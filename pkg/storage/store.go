// Package storage holds the current analysis result of each dashboard
// session.
//
// A session owns at most one result at a time. Put replaces it wholesale and
// Delete clears it. MemoryStore serves single-instance deployments;
// RedisStore shares results across dashboard replicas.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Record is the stored form of an analysis result together with the request
// that produced it.
type Record struct {
	Session             string          `json:"session"`
	Streams             []string        `json:"streams"`
	Start               string          `json:"start"`
	End                 string          `json:"end"`
	ExpectedCorrelation float64         `json:"expectedCorrelation"`
	Body                json.RawMessage `json:"body"`
	CompletedAt         time.Time       `json:"completedAt"`
	// Generation is the submission counter of the pipeline that stored the
	// record.
	Generation uint64 `json:"generation"`
}

// Store persists the latest Record per session.
type Store interface {
	Put(ctx context.Context, record Record) error
	GetLatest(ctx context.Context, session string) (Record, bool, error)
	Delete(ctx context.Context, session string) error
}

// ErrSessionRequired is returned for records without a session id.
var ErrSessionRequired = errors.New("session id required")

// ValidateSession checks that a session id is safe to use as a key:
// 1-128 characters, alphanumeric, hyphens and underscores only.
func ValidateSession(session string) error {
	if session == "" {
		return ErrSessionRequired
	}
	if len(session) > 128 {
		return fmt.Errorf("invalid session id: longer than 128 characters")
	}
	for _, c := range session {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid session id %q: only alphanumeric, hyphens, and underscores allowed", session)
		}
	}
	return nil
}
