package store

import (
	"context"
	"sync"

	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
)

// MemoryCallRecords keeps 1:1 call records in process memory, one per
// conversation, with last-writer-wins semantics matching the remote store.
type MemoryCallRecords struct {
	mu        sync.Mutex
	records   map[string]domain.CallRecord
	listeners map[string]map[int]func(domain.CallRecord)
	nextID    int
}

func NewMemoryCallRecords() *MemoryCallRecords {
	return &MemoryCallRecords{
		records:   make(map[string]domain.CallRecord),
		listeners: make(map[string]map[int]func(domain.CallRecord)),
	}
}

func (s *MemoryCallRecords) notify(conversationID string, rec domain.CallRecord) {
	fns := make([]func(domain.CallRecord), 0, len(s.listeners[conversationID]))
	for _, fn := range s.listeners[conversationID] {
		fns = append(fns, fn)
	}
	go func() {
		for _, fn := range fns {
			fn(rec)
		}
	}()
}

func (s *MemoryCallRecords) PutCall(_ context.Context, rec domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ConversationID] = rec
	s.notify(rec.ConversationID, rec)
	return nil
}

func (s *MemoryCallRecords) GetCall(_ context.Context, conversationID string) (*domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[conversationID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return &rec, nil
}

func (s *MemoryCallRecords) SetCallStatus(_ context.Context, conversationID, callID string, status domain.CallStatus, durationSec *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[conversationID]
	if !ok || rec.CallID != callID {
		return domain.ErrCallNotFound
	}
	rec.Status = status
	if durationSec != nil {
		d := *durationSec
		rec.DurationSec = &d
	}
	s.records[conversationID] = rec
	s.notify(conversationID, rec)
	return nil
}

func (s *MemoryCallRecords) ListenToCall(_ context.Context, conversationID string, fn func(domain.CallRecord)) (func(), error) {
	s.mu.Lock()
	lid := s.nextID
	s.nextID++
	if s.listeners[conversationID] == nil {
		s.listeners[conversationID] = make(map[int]func(domain.CallRecord))
	}
	s.listeners[conversationID][lid] = fn
	rec, ok := s.records[conversationID]
	s.mu.Unlock()

	if ok {
		go fn(rec)
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[conversationID], lid)
		if len(s.listeners[conversationID]) == 0 {
			delete(s.listeners, conversationID)
		}
	}, nil
}

var _ core.CallRecordStore = (*MemoryCallRecords)(nil)
