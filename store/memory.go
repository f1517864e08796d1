package store

import (
	"context"
	"sync"
	"time"
)

// MemoryOTPStore is an in-memory [OTPStore] for tests and single-process
// deployments.
type MemoryOTPStore struct {
	mu      sync.Mutex
	records map[string]*OTPRecord
}

// NewMemoryOTPStore returns an empty in-memory store.
func NewMemoryOTPStore() *MemoryOTPStore {
	return &MemoryOTPStore{records: make(map[string]*OTPRecord)}
}

// Create inserts a new record.
func (s *MemoryOTPStore) Create(_ context.Context, rec *OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

// FindValid returns the newest valid record for the phone and purpose.
func (s *MemoryOTPStore) FindValid(_ context.Context, phone string, purpose Purpose) (*OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *OTPRecord
	for _, rec := range s.records {
		if rec.Phone != phone || rec.Purpose != purpose || rec.State != OTPValid {
			continue
		}
		if newest == nil || rec.CreatedAt.After(newest.CreatedAt) {
			newest = rec
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}

	clone := *newest
	return &clone, nil
}

// SupersedeValid retires every valid record for the phone and purpose.
func (s *MemoryOTPStore) SupersedeValid(_ context.Context, phone string, purpose Purpose) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.records {
		if rec.Phone == phone && rec.Purpose == purpose && rec.State == OTPValid {
			rec.State = OTPSuperseded
			n++
		}
	}
	return n, nil
}

// IncrementAttempts bumps the attempt counter and returns the new count.
func (s *MemoryOTPStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return 0, ErrNotFound
	}
	rec.Attempts++
	return rec.Attempts, nil
}

// MarkVerified transitions a valid record to verified.
func (s *MemoryOTPStore) MarkVerified(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.State != OTPValid {
		return ErrNotFound
	}
	rec.State = OTPVerified
	stamp := at
	rec.VerifiedAt = &stamp
	return nil
}

// PurgeExpired deletes records older than the cutoff.
func (s *MemoryOTPStore) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.records {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// MemoryTokenStore is an in-memory [TokenStore] for tests and
// single-process deployments.
type MemoryTokenStore struct {
	mu      sync.Mutex
	records map[string]*TokenRecord
}

// NewMemoryTokenStore returns an empty in-memory store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{records: make(map[string]*TokenRecord)}
}

// Create inserts a new record.
func (s *MemoryTokenStore) Create(_ context.Context, rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	clone.Abilities = append([]string(nil), rec.Abilities...)
	s.records[rec.ID] = &clone
	return nil
}

// FindByID returns the token record.
func (s *MemoryTokenStore) FindByID(_ context.Context, id string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	clone := *rec
	clone.Abilities = append([]string(nil), rec.Abilities...)
	return &clone, nil
}

// Touch stamps the record's last-use instant.
func (s *MemoryTokenStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	stamp := at
	rec.LastUsedAt = &stamp
	return nil
}

// Delete removes the token record.
func (s *MemoryTokenStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// DeleteBySubject removes every token of the subject.
func (s *MemoryTokenStore) DeleteBySubject(_ context.Context, subjectID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.records {
		if rec.SubjectID == subjectID {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}
