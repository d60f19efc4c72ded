// Package cache implements the CredentialCache port with a redis-backed
// distributed backend, an in-process fallback, and a wrapper that selects
// between them so callers never observe which backend served a request.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
	"github.com/Ranjithdurai451/spark-code/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialCache = (*Memory)(nil)

// Memory is the in-process CredentialCache backend. Entries older than the
// TTL are treated as absent on read and removed. Put replaces the whole
// record under the lock, so readers never see a partially written entry.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]model.CachedCredential
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates an in-process cache with the given entry TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]model.CachedCredential),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the entry for userID, or ok=false if absent or expired.
func (m *Memory) Get(_ context.Context, userID string) (model.CachedCredential, bool, error) {
	m.mu.RLock()
	cred, ok := m.entries[userID]
	m.mu.RUnlock()

	if !ok {
		return model.CachedCredential{}, false, nil
	}
	if cred.Expired(m.now(), m.ttl) {
		m.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have
		// refreshed the entry.
		if cur, ok := m.entries[userID]; ok && cur.Expired(m.now(), m.ttl) {
			delete(m.entries, userID)
		}
		m.mu.Unlock()
		return model.CachedCredential{}, false, nil
	}
	return cred, true, nil
}

// Put stores the entry, replacing any previous one.
func (m *Memory) Put(_ context.Context, userID string, cred model.CachedCredential) error {
	m.mu.Lock()
	m.entries[userID] = cred
	m.mu.Unlock()
	return nil
}

// Invalidate removes the entry for userID.
func (m *Memory) Invalidate(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.entries, userID)
	m.mu.Unlock()
	return nil
}
