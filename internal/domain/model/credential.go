package model

import "time"

// KeyMode selects how upstream credentials are resolved for a request.
type KeyMode string

const (
	// KeyModeManaged uses the deployment's own key pool for all users.
	KeyModeManaged KeyMode = "managed"
	// KeyModeLocal ("bring your own key") uses per-user secrets supplied by
	// the user and stored client-side in encrypted form.
	KeyModeLocal KeyMode = "local"
)

// CachedCredential holds a user's decrypted upstream secrets for the
// duration of one cache window. It is a cache entry, not a store: it is
// never persisted across restarts, and an expired entry must be treated
// as absent rather than stale.
type CachedCredential struct {
	UserID   string            `json:"user_id"`
	Secrets  map[string]string `json:"secrets"`
	Mode     KeyMode           `json:"mode"`
	CachedAt time.Time         `json:"cached_at"`
}

// Expired reports whether the entry has aged out of the cache window.
func (c CachedCredential) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CachedAt) >= ttl
}
