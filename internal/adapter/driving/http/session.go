// Package httphandler is the HTTP driving adapter: it resolves the session,
// parses request bodies, and maps gate outcomes to JSON responses. All
// gating decisions live in the application layer.
package httphandler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const sessionCookieName = "spark_session"

// ErrNoSession is returned by Verify when the request carries no session
// cookie.
var ErrNoSession = errors.New("no session")

// ErrInvalidSession is returned by Verify for an expired, malformed, or
// forged session token.
var ErrInvalidSession = errors.New("invalid session")

// SessionManager issues and verifies HMAC-signed session tokens carried in
// an HTTP-only, same-site cookie. It stands in for the deployment's real
// sign-in collaborator: token issuance here is a dev endpoint, while
// verification is what the gate relies on.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionManager creates a SessionManager signing with the master secret.
func NewSessionManager(masterSecret string, ttl time.Duration) *SessionManager {
	return &SessionManager{secret: []byte(masterSecret), ttl: ttl}
}

// sign computes the token signature over userID and expiry.
func (s *SessionManager) sign(userID string, expiry int64) []byte {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", userID, expiry)
	return mac.Sum(nil)
}

// Issue sets the session cookie for userID on the response.
func (s *SessionManager) Issue(w http.ResponseWriter, userID string) {
	expiry := time.Now().Add(s.ttl).Unix()
	token := strings.Join([]string{
		base64.RawURLEncoding.EncodeToString([]byte(userID)),
		strconv.FormatInt(expiry, 10),
		base64.RawURLEncoding.EncodeToString(s.sign(userID, expiry)),
	}, ".")

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Clear removes the session cookie.
func (s *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Verify returns the authenticated user id from the request's session
// cookie. Returns ErrNoSession when the cookie is absent and
// ErrInvalidSession for anything that fails verification.
func (s *SessionManager) Verify(r *http.Request) (string, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", ErrNoSession
	}

	parts := strings.Split(cookie.Value, ".")
	if len(parts) != 3 {
		return "", ErrInvalidSession
	}

	userBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidSession
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrInvalidSession
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidSession
	}

	userID := string(userBytes)
	if !hmac.Equal(sig, s.sign(userID, expiry)) {
		return "", ErrInvalidSession
	}
	if time.Now().Unix() >= expiry {
		return "", ErrInvalidSession
	}
	return userID, nil
}
