package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// APIKeyVerifier accepts exactly one shared key. An empty Expected key
// rejects everything.
type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(apiKey string) error {
	if apiKey == "" {
		return ErrMissingCredentials
	}
	if v.Expected == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(v.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// VerifyRequest pulls the key out of r and verifies it.
func (v APIKeyVerifier) VerifyRequest(r *http.Request) error {
	return v.Verify(CredentialFromRequest(r))
}
