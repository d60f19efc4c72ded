package driven

import (
	"context"

	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
)

// CredentialCache defines the driven port for the per-user TTL cache of
// decrypted secrets. Callers must not need to know whether a distributed
// or an in-process backend served the request.
type CredentialCache interface {
	// Get returns the cached entry for the user. An entry older than the
	// cache TTL is reported as absent (ok=false), never as stale data.
	Get(ctx context.Context, userID string) (cred model.CachedCredential, ok bool, err error)

	// Put replaces the whole entry atomically. Concurrent writers for the
	// same user may race; last write wins, but readers never observe a
	// partially written record.
	Put(ctx context.Context, userID string, cred model.CachedCredential) error

	// Invalidate removes the entry. Called on sign-out and on decrypt
	// failure so a known-bad entry is not served again within the TTL.
	Invalidate(ctx context.Context, userID string) error
}
