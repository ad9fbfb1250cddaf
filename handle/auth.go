package handle

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Role is what a caller may do. Higher roles include the lower ones.
type Role int

const (
	Anonymous Role = iota
	Tenant
	Staff
	Admin
)

func (r Role) String() string {
	switch r {
	case Tenant:
		return "tenant"
	case Staff:
		return "staff"
	case Admin:
		return "admin"
	default:
		return "anonymous"
	}
}

// Authenticator resolves a bearer token to a role.
type Authenticator interface {
	Authenticate(token string) (Role, bool)
}

// StaticTokens maps fixed tokens (from configuration) to roles. Empty tokens
// are ignored.
type StaticTokens map[string]Role

func (s StaticTokens) Authenticate(token string) (Role, bool) {
	if token == "" {
		return Anonymous, false
	}
	for t, role := range s {
		if t != "" && subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return role, true
		}
	}
	return Anonymous, false
}

type roleKey struct{}

// RoleFrom returns the role RequireRole stored on the request context.
func RoleFrom(ctx context.Context) Role {
	if r, ok := ctx.Value(roleKey{}).(Role); ok {
		return r
	}
	return Anonymous
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireRole rejects requests whose token is unknown (401) or below min (403).
func RequireRole(auth Authenticator, min Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := auth.Authenticate(bearerToken(r))
			if !ok {
				deny(w, http.StatusUnauthorized, "missing or unknown token")
				return
			}
			if role < min {
				logrus.WithFields(logrus.Fields{"path": r.URL.Path, "role": role.String()}).Info("forbidden")
				deny(w, http.StatusForbidden, "requires "+min.String())
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey{}, role)))
		})
	}
}

// Allow is RequireRole for a single handler.
func Allow(auth Authenticator, min Role, h http.HandlerFunc) http.Handler {
	return RequireRole(auth, min)(h)
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
