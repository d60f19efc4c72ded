package cache

import (
	"context"
	"log/slog"

	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
	"github.com/Ranjithdurai451/spark-code/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialCache = (*Fallback)(nil)

// Fallback prefers a distributed backend and silently falls back to an
// in-process one when the primary fails. Cache misses caused by a primary
// outage only cost an extra decrypt; they never surface to callers.
type Fallback struct {
	primary  driven.CredentialCache
	fallback driven.CredentialCache
	logger   *slog.Logger
}

// NewFallback wraps primary with fallback. logger records primary failures.
func NewFallback(primary, fallback driven.CredentialCache, logger *slog.Logger) *Fallback {
	return &Fallback{primary: primary, fallback: fallback, logger: logger}
}

// Get reads from the primary backend, falling back on error.
func (f *Fallback) Get(ctx context.Context, userID string) (model.CachedCredential, bool, error) {
	cred, ok, err := f.primary.Get(ctx, userID)
	if err == nil {
		return cred, ok, nil
	}
	f.logger.Warn("credential cache primary get failed, using fallback", "error", err)
	return f.fallback.Get(ctx, userID)
}

// Put writes to the primary backend, falling back on error.
func (f *Fallback) Put(ctx context.Context, userID string, cred model.CachedCredential) error {
	if err := f.primary.Put(ctx, userID, cred); err != nil {
		f.logger.Warn("credential cache primary put failed, using fallback", "error", err)
		return f.fallback.Put(ctx, userID, cred)
	}
	return nil
}

// Invalidate removes the entry from both backends: an earlier Put may have
// landed in the fallback while the primary was down, and a known-bad entry
// must not survive in either.
func (f *Fallback) Invalidate(ctx context.Context, userID string) error {
	if err := f.primary.Invalidate(ctx, userID); err != nil {
		f.logger.Warn("credential cache primary invalidate failed", "error", err)
	}
	return f.fallback.Invalidate(ctx, userID)
}
