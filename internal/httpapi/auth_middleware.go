package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/shipyard/bay/internal/apierr"
)

const bearerPrefix = "Bearer "

// authMiddleware enforces Authorization: Bearer <token> against a single
// static secret, compared in constant time.
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				writeError(w, apierr.New(apierr.Unauthorized, "missing bearer token"))
				return
			}
			presented := strings.TrimPrefix(header, bearerPrefix)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeError(w, apierr.New(apierr.Unauthorized, "invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
