package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Middleware resolves the request principal. A valid bearer token yields
// its principal; no token yields Guest; an invalid token is rejected. With
// enabled=false every request runs as Administrator.
func Middleware(issuer *Issuer, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Administrator())))
				return
			}

			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Guest())))
				return
			}

			principal, err := issuer.Verify(token)
			if err != nil {
				logrus.WithError(err).WithField("remote_ip", r.RemoteAddr).Warn("Rejected bearer token")
				writeDenied(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireUser rejects guest requests
func RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).IsGuest() {
			writeDenied(w, "Login required", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// RequireRole rejects requests whose principal lacks role
func RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return RequireUser(func(w http.ResponseWriter, r *http.Request) {
		if !FromContext(r.Context()).HasRole(role) {
			writeDenied(w, "Insufficient permissions", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func writeDenied(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   true,
		"message": message,
	})
}
