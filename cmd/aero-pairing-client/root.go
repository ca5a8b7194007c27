package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/signaling"
)

var (
	flagServer    string
	flagOrigin    string
	flagInterests []string
	flagNoVideo   bool
	flagLogLevel  string
	flagAPIKey    string
	flagUserID    string
)

var rootCmd = &cobra.Command{
	Use:   "aero-pairing-client",
	Short: "Chat with a random stranger through an aero pairing coordinator",
	Long: `aero-pairing-client joins the pairing queue of a coordinator, chats with
whoever it is matched with and negotiates a WebRTC media link alongside the
text conversation.

Examples:
  aero-pairing-client chat --interests music,art
  aero-pairing-client stats --server https://pairing.example.com
  aero-pairing-client rooms --api-key $ADMIN_API_KEY`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServer, "server", "http://127.0.0.1:3001", "coordinator base URL")
	pf.StringVar(&flagOrigin, "origin", "", "Origin header sent to the coordinator")
	pf.StringSliceVar(&flagInterests, "interests", nil, "interest tags used for matching")
	pf.BoolVar(&flagNoVideo, "no-video", false, "offer audio only")
	pf.StringVar(&flagLogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVar(&flagAPIKey, "api-key", "", "admin API key for the rooms listing")
	pf.StringVar(&flagUserID, "user-id", "", "stable user id (uuid) to keep partner history across runs")

	rootCmd.AddCommand(chatCmd, statsCmd, roomsCmd)
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(flagLogLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", flagLogLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func baseURL() (*url.URL, error) {
	raw := strings.TrimSpace(flagServer)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --server: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	return u, nil
}

func endpoint(path string) (string, error) {
	u, err := baseURL()
	if err != nil {
		return "", err
	}
	if path == signaling.Path && strings.HasSuffix(u.Path, signaling.Path) {
		return u.String(), nil
	}
	u.Path += path
	return u.String(), nil
}

// getJSON fetches path from the coordinator and decodes the body into v.
func getJSON(ctx context.Context, path string, v any) error {
	target, err := endpoint(path)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if flagOrigin != "" {
		req.Header.Set("Origin", flagOrigin)
	}
	if flagAPIKey != "" {
		req.Header.Set(auth.APIKeyHeader, flagAPIKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		detail := body.Message
		if detail == "" {
			detail = body.Error
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, detail)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
