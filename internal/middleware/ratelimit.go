package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/aidawidget/aidawidget/internal/auth"
	"github.com/sirupsen/logrus"
)

// Limiter decides whether a request keyed by client IP may proceed
type Limiter interface {
	Allow(key string) bool
}

// GuestRateLimit throttles unauthenticated callers by client IP.
// Authenticated principals are never limited. onLimited, if set, is
// called for every rejected request.
func GuestRateLimit(limiter Limiter, onLimited func(r *http.Request)) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !auth.FromContext(r.Context()).IsGuest() {
				next(w, r)
				return
			}

			ip := requestIP(r)
			if limiter.Allow(ip) {
				next(w, r)
				return
			}

			logrus.WithFields(logrus.Fields{
				"remote_ip":  ip,
				"path":       r.URL.Path,
				"request_id": GetRequestID(r.Context()),
			}).Warn("Guest request rate limited")
			if onLimited != nil {
				onLimited(r)
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   true,
				"message": "Too many requests. Please wait a moment and try again.",
			})
		}
	}
}
