package gateway

import (
	"crypto/subtle"
	"strings"
)

// AuthHandler checks bearer tokens against a shared secret. An empty secret
// disables authentication.
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// Enabled reports whether requests must carry a token.
func (a *AuthHandler) Enabled() bool {
	return a.sharedSecret != ""
}

// Verify checks an Authorization header value of the form "Bearer <token>".
func (a *AuthHandler) Verify(header string) bool {
	if !a.Enabled() {
		return true
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	token = strings.TrimSpace(token)

	// Use constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.sharedSecret)) == 1
}
