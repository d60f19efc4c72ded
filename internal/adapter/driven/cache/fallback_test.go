package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
)

// failingCache simulates an unreachable distributed backend.
type failingCache struct {
	err error
}

func (f *failingCache) Get(context.Context, string) (model.CachedCredential, bool, error) {
	return model.CachedCredential{}, false, f.err
}

func (f *failingCache) Put(context.Context, string, model.CachedCredential) error {
	return f.err
}

func (f *failingCache) Invalidate(context.Context, string) error {
	return f.err
}

func TestFallback_PrimaryHealthy(t *testing.T) {
	primary := NewMemory(time.Hour)
	secondary := NewMemory(time.Hour)
	f := NewFallback(primary, secondary, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	require.NoError(t, f.Put(ctx, "user-1", testCredential("user-1", time.Now())))

	cred, ok, err := f.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "key-a", cred.Secrets[model.ServiceGemini])

	// The fallback backend was never written.
	_, ok, err = secondary.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFallback_PrimaryDown(t *testing.T) {
	primary := &failingCache{err: errors.New("dial tcp: connection refused")}
	secondary := NewMemory(time.Hour)
	f := NewFallback(primary, secondary, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	// Callers never see the primary failure.
	require.NoError(t, f.Put(ctx, "user-1", testCredential("user-1", time.Now())))

	cred, ok, err := f.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-1", cred.UserID)
}

func TestFallback_InvalidateClearsBothBackends(t *testing.T) {
	primary := NewMemory(time.Hour)
	secondary := NewMemory(time.Hour)
	f := NewFallback(primary, secondary, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	require.NoError(t, primary.Put(ctx, "user-1", testCredential("user-1", time.Now())))
	require.NoError(t, secondary.Put(ctx, "user-1", testCredential("user-1", time.Now())))

	require.NoError(t, f.Invalidate(ctx, "user-1"))

	_, ok, _ := primary.Get(ctx, "user-1")
	assert.False(t, ok)
	_, ok, _ = secondary.Get(ctx, "user-1")
	assert.False(t, ok)
}

func TestFallback_InvalidateSurvivesPrimaryFailure(t *testing.T) {
	primary := &failingCache{err: errors.New("connection reset")}
	secondary := NewMemory(time.Hour)
	f := NewFallback(primary, secondary, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	require.NoError(t, secondary.Put(ctx, "user-1", testCredential("user-1", time.Now())))
	require.NoError(t, f.Invalidate(ctx, "user-1"))

	_, ok, _ := secondary.Get(ctx, "user-1")
	assert.False(t, ok)
}
