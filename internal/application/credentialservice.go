package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ranjithdurai451/spark-code/internal/crypto"
	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
	"github.com/Ranjithdurai451/spark-code/internal/domain/port/driven"
)

// ErrCredentialsMissing is returned when a bring-your-own-key request
// carries no usable encrypted credentials. The user must (re)supply keys.
var ErrCredentialsMissing = errors.New("no upstream credentials supplied")

// EncryptedKeyBundle is the session-scoped blob of a user's own encrypted
// upstream keys, as read from or written to the session collaborator. Each
// record is individually produced by the Cipher.
type EncryptedKeyBundle struct {
	Gemini    *crypto.Record `json:"gemini,omitempty"`
	Judge0    *crypto.Record `json:"judge0,omitempty"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// CredentialService resolves a user's decrypted upstream secrets: cache
// first, decrypt-and-repopulate on miss. A decrypt failure proactively
// invalidates the cache entry so a retried request does not repeat the same
// failure inside the TTL window.
type CredentialService struct {
	cache  driven.CredentialCache
	cipher *crypto.Cipher
	logger *slog.Logger
	now    func() time.Time
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(cache driven.CredentialCache, cipher *crypto.Cipher, logger *slog.Logger) *CredentialService {
	return &CredentialService{
		cache:  cache,
		cipher: cipher,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve returns the user's decrypted secrets. Concurrent requests for the
// same user may both miss and both decrypt; last cache write wins, which is
// harmless because both decrypt the same records.
func (s *CredentialService) Resolve(ctx context.Context, userID string, bundle *EncryptedKeyBundle) (model.CachedCredential, error) {
	cred, ok, err := s.cache.Get(ctx, userID)
	if err != nil {
		// A cache failure is only a missed optimization.
		s.logger.Warn("credential cache read failed, falling through to decrypt", "error", err)
	}
	if ok {
		return cred, nil
	}

	if bundle == nil {
		return model.CachedCredential{}, ErrCredentialsMissing
	}

	secrets := make(map[string]string)
	for service, rec := range map[string]*crypto.Record{
		model.ServiceGemini: bundle.Gemini,
		model.ServiceJudge0: bundle.Judge0,
	} {
		if rec == nil {
			continue
		}
		plaintext, err := s.cipher.Decrypt(*rec, userID)
		if err != nil {
			// Drop any stale entry before reporting failure: serving a
			// known-bad record on the next request would repeat it.
			if invErr := s.cache.Invalidate(ctx, userID); invErr != nil {
				s.logger.Warn("invalidate after decrypt failure", "error", invErr)
			}
			return model.CachedCredential{}, fmt.Errorf("decrypt %s credential: %w", service, err)
		}
		secrets[service] = plaintext
	}

	if len(secrets) == 0 {
		return model.CachedCredential{}, ErrCredentialsMissing
	}

	cred = model.CachedCredential{
		UserID:   userID,
		Secrets:  secrets,
		Mode:     model.KeyModeLocal,
		CachedAt: s.now(),
	}
	if err := s.cache.Put(ctx, userID, cred); err != nil {
		s.logger.Warn("credential cache write failed", "error", err)
	}
	return cred, nil
}

// EncryptBundle seals the user-supplied plaintext keys into a bundle for
// the session collaborator to store. Empty keys are omitted.
func (s *CredentialService) EncryptBundle(userID, geminiKey, judge0Key string) (*EncryptedKeyBundle, error) {
	bundle := &EncryptedKeyBundle{UserID: userID, Timestamp: s.now().UTC()}

	if geminiKey != "" {
		rec, err := s.cipher.Encrypt(geminiKey, userID)
		if err != nil {
			return nil, fmt.Errorf("encrypt gemini credential: %w", err)
		}
		bundle.Gemini = &rec
	}
	if judge0Key != "" {
		rec, err := s.cipher.Encrypt(judge0Key, userID)
		if err != nil {
			return nil, fmt.Errorf("encrypt judge0 credential: %w", err)
		}
		bundle.Judge0 = &rec
	}

	if bundle.Gemini == nil && bundle.Judge0 == nil {
		return nil, ErrCredentialsMissing
	}
	return bundle, nil
}

// Invalidate drops the user's cached secrets. Called on sign-out and key
// replacement.
func (s *CredentialService) Invalidate(ctx context.Context, userID string) error {
	return s.cache.Invalidate(ctx, userID)
}
