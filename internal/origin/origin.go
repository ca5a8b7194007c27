// Package origin checks browser Origin headers against an allow-list.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates an Origin header and returns it as
// scheme://host[:port] along with the host[:port] part. Default ports are
// dropped and the scheme and hostname are lowercased.
//
// The opaque origin "null" is accepted and returned unchanged with an empty
// host.
func NormalizeHeader(header string) (normalized, host string, ok bool) {
	header = strings.TrimSpace(header)
	switch header {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(header)
	if err != nil || u.Host == "" || u.Opaque != "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy decides whether a request Origin may use the coordinator.
//
// With an empty Allowed list only same-host origins pass. The scheme is not
// compared so TLS-terminating proxies in front of the server still work.
// "*" in Allowed admits every origin.
type Policy struct {
	Allowed []string
}

// Check reports whether a request carrying originHeader for requestHost is
// admitted. Requests without an Origin header come from non-browser clients
// and are always admitted.
func (p Policy) Check(originHeader, requestHost string) bool {
	if strings.TrimSpace(originHeader) == "" {
		return true
	}
	normalized, host, ok := NormalizeHeader(originHeader)
	if !ok {
		return false
	}
	return IsAllowed(normalized, host, requestHost, p.Allowed)
}

// IsAllowed is Check for an origin already passed through NormalizeHeader.
func IsAllowed(normalized, originHost, requestHost string, allowed []string) bool {
	if len(allowed) > 0 {
		for _, a := range allowed {
			if a == "*" || a == normalized {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalized, "://")
	if !found || originHost == "" {
		return false
	}
	reqHost, ok := canonicalHost(requestHost, scheme)
	return ok && reqHost == originHost
}

// canonicalHost lowercases an authority, validates its port and strips the
// scheme's default port. IPv6 literals keep their brackets.
func canonicalHost(authority, scheme string) (string, bool) {
	authority = strings.ToLower(strings.TrimSpace(authority))
	hostname, port, ok := splitAuthority(authority)
	if !ok || hostname == "" {
		return "", false
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == "" {
		return hostname, true
	}
	return hostname + ":" + port, true
}

func splitAuthority(authority string) (hostname, port string, ok bool) {
	if rest, isV6 := strings.CutPrefix(authority, "["); isV6 {
		hostname, rest, found := strings.Cut(rest, "]")
		if !found {
			return "", "", false
		}
		if rest == "" {
			return hostname, "", true
		}
		port, hasPort := strings.CutPrefix(rest, ":")
		if !hasPort || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ := strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}
