package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/sdkqual/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// Auth guards operator endpoints with a single bearer token whose bcrypt
// hash is configured at startup.
type Auth struct {
	hash []byte
}

// NewAuth returns nil when tokenHash is empty so callers can leave guarded
// routes unmounted.
func NewAuth(tokenHash string) *Auth {
	if tokenHash == "" {
		return nil
	}
	return &Auth{hash: []byte(tokenHash)}
}

// Authenticate rejects requests whose bearer token does not match the hash.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
