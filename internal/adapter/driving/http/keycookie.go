package httphandler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Ranjithdurai451/spark-code/internal/application"
)

const keysCookieName = "spark_keys"

// writeKeyBundleCookie stores the user's encrypted key bundle client-side.
// The bundle fields are individually encrypted; the cookie itself only adds
// base64 framing. HTTP-only and same-site match the session cookie.
func writeKeyBundleCookie(w http.ResponseWriter, bundle *application.EncryptedKeyBundle, ttl time.Duration) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode key bundle: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     keysCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// readKeyBundleCookie returns the encrypted key bundle from the request, or
// nil when the cookie is absent. A malformed cookie is reported as an error
// so the caller can treat it like a decrypt failure.
func readKeyBundleCookie(r *http.Request) (*application.EncryptedKeyBundle, error) {
	cookie, err := r.Cookie(keysCookieName)
	if err != nil {
		return nil, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("decode key bundle cookie: %w", err)
	}

	var bundle application.EncryptedKeyBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse key bundle cookie: %w", err)
	}
	return &bundle, nil
}

// clearKeyBundleCookie removes the key bundle cookie.
func clearKeyBundleCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     keysCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}
