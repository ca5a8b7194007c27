// Package turnrest mints coturn-compatible ephemeral TURN credentials
// (the "TURN REST API" scheme, draft-uberti-behave-turn-rest):
//
//	username   = <unix expiry>:<prefix>:<id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Now            func() time.Time
	// NewID names each credential; defaults to a random uuid.
	NewID func() string
}

type Issuer struct {
	secret []byte
	ttl    int64
	prefix string
	now    func() time.Time
	newID  func() string
}

type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	switch {
	case cfg.SharedSecret == "":
		return nil, errors.New("turnrest: shared secret is required")
	case cfg.TTLSeconds <= 0:
		return nil, errors.New("turnrest: ttl must be > 0")
	case cfg.UsernamePrefix == "":
		return nil, errors.New("turnrest: username prefix is required")
	case strings.Contains(cfg.UsernamePrefix, ":"):
		return nil, errors.New("turnrest: username prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Issuer{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTLSeconds,
		prefix: cfg.UsernamePrefix,
		now:    cfg.Now,
		newID:  cfg.NewID,
	}, nil
}

// Issue mints credentials for id, or for a fresh random id when id is empty.
func (i *Issuer) Issue(id string) (Credentials, error) {
	if id == "" {
		id = i.newID()
	}
	if strings.Contains(id, ":") {
		return Credentials{}, fmt.Errorf("turnrest: id %q must not contain ':'", id)
	}
	expiry := i.now().UTC().Unix() + i.ttl
	username := fmt.Sprintf("%d:%s:%s", expiry, i.prefix, id)

	mac := hmac.New(sha1.New, i.secret)
	_, _ = mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:  time.Unix(expiry, 0).UTC(),
	}, nil
}

// Apply returns a copy of servers with creds set on every entry that has a
// turn: or turns: URL. STUN entries are left untouched.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for n, s := range servers {
		out[n] = s
		if hasTURNURL(s) {
			out[n].Username = creds.Username
			out[n].Credential = creds.Credential
		}
	}
	return out
}

func hasTURNURL(s webrtc.ICEServer) bool {
	for _, url := range s.URLs {
		scheme, _, _ := strings.Cut(strings.TrimSpace(url), ":")
		if strings.EqualFold(scheme, "turn") || strings.EqualFold(scheme, "turns") {
			return true
		}
	}
	return false
}
