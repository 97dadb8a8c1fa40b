package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards the REST surface with the single static token minted
// at first start. The comparison is constant time so the token cannot be
// probed byte by byte.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "request lacks a valid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
