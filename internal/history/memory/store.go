// Package memory keeps upload history rows in memory for development.
package memory

import (
	"context"
	"sync"

	"github.com/Exponenture/SlypStream/internal/history"
)

// Store is an in-memory history.Recorder.
type Store struct {
	mu      sync.Mutex
	records []history.Record
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// RecordUpload appends the record.
func (s *Store) RecordUpload(_ context.Context, rec history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (s *Store) Records() []history.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Close is a no-op.
func (s *Store) Close() {}
