package main

import (
	"context"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/config"
)

// fetchICEServers asks the coordinator for ICE servers, falling back to the
// public STUN defaults.
func fetchICEServers(ctx context.Context) []webrtc.ICEServer {
	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := getJSON(ctx, "/webrtc/ice", &body); err != nil || len(body.ICEServers) == 0 {
		return config.DefaultICEServers()
	}
	return usableICEServers(body.ICEServers)
}

// usableICEServers drops TURN entries without complete credentials, which
// pion refuses when constructing a PeerConnection.
func usableICEServers(servers []webrtc.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		if !iceServerHasTURNURL(server) {
			out = append(out, server)
			continue
		}
		if strings.TrimSpace(server.Username) == "" {
			continue
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			continue
		}
		out = append(out, server)
	}
	return out
}

func iceServerHasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		url := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			return true
		}
	}
	return false
}
