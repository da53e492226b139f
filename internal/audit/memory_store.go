package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	byExt  map[string]*Record
	nextID int64
}

// NewMemoryStore creates an in-memory transaction record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byExt: make(map[string]*Record)}
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byExt[rec.ExternalTxnID]; exists {
		return ErrDuplicate
	}

	s.nextID++
	rec.ID = s.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	cp := *rec
	s.byExt[rec.ExternalTxnID] = &cp
	return nil
}

func (s *MemoryStore) GetByExternalID(_ context.Context, externalID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byExt[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) CountFlagged(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, rec := range s.byExt {
		if rec.UserID == userID && rec.Flagged {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
