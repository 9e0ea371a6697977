// Package oauth implements the client-credentials token endpoint and the
// volatile token store backing bearer authentication.
package oauth

import (
	"sync"
	"time"
)

// Record is the server-side state of an issued token, keyed by the
// token's correlation subject.
type Record struct {
	ClientID string
	ExpireAt time.Time
	ReadOnly bool
	Tenants  []string
}

// Expired reports whether the record is past its lifetime at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpireAt.IsZero() && now.After(r.ExpireAt)
}

// AllowsTenant reports whether the record grants access to a tenant. An
// empty tenant list grants all tenants.
func (r Record) AllowsTenant(tenant string) bool {
	if len(r.Tenants) == 0 {
		return true
	}
	for _, t := range r.Tenants {
		if t == tenant {
			return true
		}
	}
	return false
}

// Store holds issued-token records. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(subject string) (Record, bool)
	Put(subject string, rec Record)
	Evict(subject string)
}

// MemoryStore is the default volatile Store. Tokens do not survive a
// restart; clients simply re-authenticate. Expired records are evicted
// lazily on read.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(subject string) (Record, bool) {
	s.mu.RLock()
	rec, ok := s.records[subject]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	if rec.Expired(s.now()) {
		s.Evict(subject)
		return Record{}, false
	}
	return rec, true
}

func (s *MemoryStore) Put(subject string, rec Record) {
	s.mu.Lock()
	s.records[subject] = rec
	s.mu.Unlock()
}

func (s *MemoryStore) Evict(subject string) {
	s.mu.Lock()
	delete(s.records, subject)
	s.mu.Unlock()
}

// Len reports the live record count, evicting expired entries on the way.
func (s *MemoryStore) Len() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for subject, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, subject)
		}
	}
	return len(s.records)
}
