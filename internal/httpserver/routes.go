package httpserver

import (
	"net/http"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/turnrest"
)

type healthResponse struct {
	Status string         `json:"status"`
	Stats  protocol.Stats `json:"stats"`
}

type roomsResponse struct {
	Rooms []coordinator.RoomView `json:"rooms"`
	Queue int                    `json:"queue"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.State.Snapshot(r.Context())
	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Stats: snap.Stats})
}

// handleAdminRooms lists live rooms. With no key configured it is open in dev
// mode and hidden in prod.
func (s *Server) handleAdminRooms(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminAPIKey == "" {
		if s.cfg.Mode == config.ModeProd {
			http.NotFound(w, r)
			return
		}
	} else if err := (auth.APIKeyVerifier{Expected: s.cfg.AdminAPIKey}).VerifyRequest(r); err != nil {
		WriteJSON(w, http.StatusUnauthorized, protocol.Error{Code: "UNAUTHORIZED", Message: err.Error()})
		return
	}

	snap, err := s.deps.State.Snapshot(r.Context())
	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	rooms := snap.Rooms
	if rooms == nil {
		rooms = []coordinator.RoomView{}
	}
	WriteJSON(w, http.StatusOK, roomsResponse{Rooms: rooms, Queue: snap.Queue})
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	servers := s.cfg.ICEServers
	if s.deps.TURN != nil {
		creds, err := s.deps.TURN.Issue("")
		if err != nil {
			s.log.Error("issue turn credentials", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to issue TURN credentials"})
			return
		}
		servers = turnrest.Apply(servers, creds)
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}
