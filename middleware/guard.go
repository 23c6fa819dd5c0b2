package middleware

import (
	"net/http"
)

// RequireUser rejects Guest requests with 401. It must run inside Gate.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, ok := RequestFromContext(r.Context())
		if !ok || req.IsGuest() {
			writeError(w, http.StatusUnauthorized, msgNotLoggedIn)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSystemUser admits only desk users.
func RequireSystemUser(next http.Handler) http.Handler {
	return RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, _ := RequestFromContext(r.Context())
		if !req.IsSystemUser() {
			writeError(w, http.StatusForbidden, msgNotPermitted)
			return
		}
		next.ServeHTTP(w, r)
	}))
}
