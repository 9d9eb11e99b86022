package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// CredentialRateLimit limits requests per client IP on the credential
// endpoints (login, register) to slow brute-force attempts. Sliding window.
func CredentialRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeAuthError(w, http.StatusTooManyRequests, "Too many attempts. Try again shortly.")
		}),
	)
}
