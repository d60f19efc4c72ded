// Package keypool implements per-service round-robin rotation over the
// deployment's upstream API keys.
package keypool

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoKeys is returned by Register when a service is configured with an
// empty key list. For required services this is a fatal startup error.
var ErrNoKeys = errors.New("no API keys configured")

// ErrUnknownService is returned by Next for a service that was never
// registered.
var ErrUnknownService = errors.New("unknown service")

type ring struct {
	keys []string
	// cursor is the index of the next key to hand out; lastIssued is the
	// index of the most recently handed-out key. Invariant: both stay in
	// [0, len(keys)).
	cursor     int
	lastIssued int
}

// Pool holds one key ring per external service. Rotation state is
// process-local and never persisted: losing it on restart only resets
// load-spreading fairness, not correctness.
type Pool struct {
	mu    sync.Mutex
	rings map[string]*ring
}

// New creates an empty pool. Services are added with Register at startup.
func New() *Pool {
	return &Pool{rings: make(map[string]*ring)}
}

// Register installs the key list for a service. The list is copied and
// immutable afterwards. Returns ErrNoKeys for an empty list.
func (p *Pool) Register(service string, keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("service %q: %w", service, ErrNoKeys)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rings[service] = &ring{keys: append([]string(nil), keys...)}
	return nil
}

// Size returns the number of keys registered for a service, 0 if the
// service is unknown.
func (p *Pool) Size(service string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.rings[service]; ok {
		return len(r.keys)
	}
	return 0
}

// Next returns the key at the cursor and advances it. Rotation happens on
// every call, not only on failure, so sequential calls fan load out across
// all configured keys.
func (p *Pool) Next(service string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.rings[service]
	if !ok {
		return "", fmt.Errorf("service %q: %w", service, ErrUnknownService)
	}

	key := r.keys[r.cursor]
	r.lastIssued = r.cursor
	r.cursor = (r.cursor + 1) % len(r.keys)
	return key, nil
}

// ReportQuotaError advances the cursor past the key that just reported a
// quota failure, so an exhausted key is skipped ahead of its natural turn.
// Always returns true for a registered service, even when the pool has a
// single key and the advance is a state-wise no-op: callers must not assume
// rotation guarantees a different key for a pool of size 1.
func (p *Pool) ReportQuotaError(service string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.rings[service]
	if !ok {
		return false
	}

	r.cursor = (r.lastIssued + 1) % len(r.keys)
	return true
}
