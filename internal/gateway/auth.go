package gateway

import (
	"log"
	"net/http"

	"github.com/pquerna/otp/totp"
)

// AuthHeader carries the TOTP code on mutating requests.
const AuthHeader = "X-Auth-Code"

// RequireTOTP wraps a handler with TOTP verification against the admin
// secret. An empty secret disables auth (development mode) with a startup
// warning left to the caller.
func RequireTOTP(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			next(w, r)
			return
		}
		code := r.Header.Get(AuthHeader)
		if code == "" || !totp.Validate(code, secret) {
			log.Printf("[api_gateway] rejected %s %s: invalid auth code", r.Method, r.URL.Path)
			http.Error(w, `{"error":"invalid or missing auth code"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
