package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
)

func testCredential(userID string, cachedAt time.Time) model.CachedCredential {
	return model.CachedCredential{
		UserID:   userID,
		Secrets:  map[string]string{model.ServiceGemini: "key-a", model.ServiceJudge0: "key-b"},
		Mode:     model.KeyModeLocal,
		CachedAt: cachedAt,
	}
}

func TestMemory_PutGet(t *testing.T) {
	m := NewMemory(time.Hour)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "user-1", testCredential("user-1", time.Now())))

	cred, ok, err := m.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "key-a", cred.Secrets[model.ServiceGemini])
	assert.Equal(t, model.KeyModeLocal, cred.Mode)
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory(time.Hour)

	_, ok, err := m.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_TTLBoundary(t *testing.T) {
	m := NewMemory(time.Hour)
	ctx := context.Background()

	writtenAt := time.Now()
	require.NoError(t, m.Put(ctx, "user-1", testCredential("user-1", writtenAt)))

	// One second before expiry the entry is served.
	m.now = func() time.Time { return writtenAt.Add(time.Hour - time.Second) }
	_, ok, err := m.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// One second after expiry it is absent, not stale.
	m.now = func() time.Time { return writtenAt.Add(time.Hour + time.Second) }
	_, ok, err = m.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// And it stays absent even if the clock moves back within the window.
	m.now = time.Now
	_, ok, err = m.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_Invalidate(t *testing.T) {
	m := NewMemory(time.Hour)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "user-1", testCredential("user-1", time.Now())))
	require.NoError(t, m.Invalidate(ctx, "user-1"))

	_, ok, err := m.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_PutReplacesWholeRecord(t *testing.T) {
	m := NewMemory(time.Hour)
	ctx := context.Background()

	first := testCredential("user-1", time.Now())
	require.NoError(t, m.Put(ctx, "user-1", first))

	second := model.CachedCredential{
		UserID:   "user-1",
		Secrets:  map[string]string{model.ServiceGemini: "rotated"},
		Mode:     model.KeyModeLocal,
		CachedAt: time.Now(),
	}
	require.NoError(t, m.Put(ctx, "user-1", second))

	cred, ok, err := m.Get(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rotated", cred.Secrets[model.ServiceGemini])
	// No field-level merge: the judge0 key from the first record is gone.
	_, hasJudge0 := cred.Secrets[model.ServiceJudge0]
	assert.False(t, hasJudge0)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	m := NewMemory(time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = m.Put(ctx, "user-1", testCredential("user-1", time.Now()))
				cred, ok, err := m.Get(ctx, "user-1")
				if err != nil {
					t.Error(err)
					return
				}
				// Last write wins, but a served record is always whole.
				if ok && cred.Secrets[model.ServiceGemini] != "key-a" {
					t.Errorf("torn record: %v", cred.Secrets)
					return
				}
				_ = i
			}
		}(i)
	}
	wg.Wait()
}
