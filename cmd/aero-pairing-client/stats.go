package main

import (
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show online, waiting and chatting counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var body struct {
			Status string         `json:"status"`
			Stats  protocol.Stats `json:"stats"`
		}
		if err := getJSON(cmd.Context(), "/health", &body); err != nil {
			return err
		}
		renderStats(cmd.OutOrStdout(), body.Stats)
		return nil
	},
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List live rooms (requires --api-key when the coordinator sets one)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var body struct {
			Rooms []coordinator.RoomView `json:"rooms"`
			Queue int                    `json:"queue"`
		}
		if err := getJSON(cmd.Context(), "/admin/rooms", &body); err != nil {
			return err
		}
		renderRooms(cmd.OutOrStdout(), body.Rooms, body.Queue)
		return nil
	},
}
