package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCredentialFromRequest(t *testing.T) {
	cases := []struct {
		name   string
		target string
		header map[string]string
		want   string
	}{
		{name: "header", target: "/admin/rooms", header: map[string]string{APIKeyHeader: " k1 "}, want: "k1"},
		{name: "bearer", target: "/admin/rooms", header: map[string]string{"Authorization": "bearer k2"}, want: "k2"},
		{name: "basic ignored", target: "/admin/rooms?apiKey=k3", header: map[string]string{"Authorization": "Basic Zm9v"}, want: "k3"},
		{name: "query", target: "/admin/rooms?apiKey=k4", want: "k4"},
		{name: "header wins", target: "/admin/rooms?apiKey=q", header: map[string]string{APIKeyHeader: "h", "Authorization": "Bearer b"}, want: "h"},
		{name: "none", target: "/admin/rooms", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.target, nil)
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}
			if got := CredentialFromRequest(r); got != tc.want {
				t.Fatalf("credential=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestAPIKeyVerifier(t *testing.T) {
	v := APIKeyVerifier{Expected: "secret"}
	if err := v.Verify("secret"); err != nil {
		t.Fatalf("Verify(valid)=%v", err)
	}
	if err := v.Verify("nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Verify(wrong)=%v, want ErrInvalidCredentials", err)
	}
	if err := v.Verify(""); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("Verify(empty)=%v, want ErrMissingCredentials", err)
	}
	if err := (APIKeyVerifier{}).Verify("anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty verifier accepted a key: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/admin/rooms", nil)
	r.Header.Set(APIKeyHeader, "secret")
	if err := v.VerifyRequest(r); err != nil {
		t.Fatalf("VerifyRequest=%v", err)
	}
}
