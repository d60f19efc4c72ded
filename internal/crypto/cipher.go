// Package crypto implements authenticated encryption of per-user secrets.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrIntegrity is returned by Decrypt when the record does not belong to the
// requesting user or the authentication tag does not verify. Decryption
// fails closed: no plaintext is ever returned alongside this error.
var ErrIntegrity = errors.New("credential record failed integrity check")

// ErrMasterSecretNotSet is returned by New when no master secret is
// configured. This is a startup-time configuration error, not a per-request
// condition.
var ErrMasterSecretNotSet = errors.New("master secret not configured: set MASTER_SECRET")

// keyDerivationLabel domain-separates derived keys from any other use of the
// master secret.
const keyDerivationLabel = "spark-code/credential-key/v1:"

// Record is the encrypted-at-rest shape of one secret. IV, Ciphertext, and
// AuthTag round-trip through JSON as base64. UserID binds the record to its
// owner; Decrypt rejects a record presented by any other user.
type Record struct {
	IV         []byte    `json:"iv"`
	Ciphertext []byte    `json:"ciphertext"`
	AuthTag    []byte    `json:"auth_tag"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Cipher encrypts and decrypts secret strings with AES-256-GCM under a
// per-user key derived from the master secret. It holds no mutable state
// and is safe for concurrent use.
type Cipher struct {
	master []byte
}

// New creates a Cipher from the server-side master secret.
func New(masterSecret string) (*Cipher, error) {
	if masterSecret == "" {
		return nil, ErrMasterSecretNotSet
	}
	return &Cipher{master: []byte(masterSecret)}, nil
}

// deriveKey produces the 32-byte AES-256 key for a user. The derivation is
// one-way: no two users share a key, and the master secret alone cannot
// decrypt a record without the owning user id.
func (c *Cipher) deriveKey(userID string) []byte {
	mac := hmac.New(sha256.New, c.master)
	mac.Write([]byte(keyDerivationLabel + userID))
	return mac.Sum(nil)
}

// Encrypt seals plaintext for the given user and returns the record to be
// stored client-side.
func (c *Cipher) Encrypt(plaintext, userID string) (Record, error) {
	block, err := aes.NewCipher(c.deriveKey(userID))
	if err != nil {
		return Record{}, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Record{}, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Record{}, fmt.Errorf("rand iv: %w", err)
	}

	// Seal produces ciphertext || tag; store the tag separately so the
	// record shape is explicit about what is authenticated.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), []byte(userID))
	tagStart := len(sealed) - gcm.Overhead()

	return Record{
		IV:         iv,
		Ciphertext: sealed[:tagStart],
		AuthTag:    sealed[tagStart:],
		UserID:     userID,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Decrypt opens a record for the given user. Returns ErrIntegrity (wrapped)
// if the record belongs to a different user or the tag does not verify.
func (c *Cipher) Decrypt(rec Record, userID string) (string, error) {
	if rec.UserID != userID {
		return "", fmt.Errorf("record owner %q does not match user %q: %w", rec.UserID, userID, ErrIntegrity)
	}

	block, err := aes.NewCipher(c.deriveKey(userID))
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	if len(rec.IV) != gcm.NonceSize() || len(rec.AuthTag) != gcm.Overhead() {
		return "", fmt.Errorf("malformed record: %w", ErrIntegrity)
	}

	sealed := make([]byte, 0, len(rec.Ciphertext)+len(rec.AuthTag))
	sealed = append(sealed, rec.Ciphertext...)
	sealed = append(sealed, rec.AuthTag...)

	plaintext, err := gcm.Open(nil, rec.IV, sealed, []byte(userID))
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", ErrIntegrity)
	}

	return string(plaintext), nil
}
