// Package auth guards the operator endpoints.
package auth

import (
	"net/http"
	"strings"
)

const APIKeyHeader = "X-API-Key"

// CredentialFromRequest returns the API key carried by r, looking at the
// X-API-Key header, then a bearer token, then the apiKey query parameter.
func CredentialFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	if authz := r.Header.Get("Authorization"); authz != "" {
		scheme, token, ok := strings.Cut(strings.TrimSpace(authz), " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	return r.URL.Query().Get("apiKey")
}
