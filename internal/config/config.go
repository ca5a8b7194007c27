package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/origin"
)

const (
	envVarListenAddr      = "AERO_PAIRING_LISTEN_ADDR"
	envVarLogFormat       = "AERO_PAIRING_LOG_FORMAT"
	envVarLogLevel        = "AERO_PAIRING_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_PAIRING_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_PAIRING_MODE"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Abuse limits.
	envVarConnectionLimit       = "RATE_LIMIT_MAX_CONNECTIONS"
	envVarConnectionLimitWindow = "RATE_LIMIT_WINDOW_MS"
	envVarMessageLimit          = "RATE_LIMIT_MAX_MESSAGES"
	envVarMessageLimitWindow    = "RATE_LIMIT_MESSAGE_WINDOW_MS"
	envVarTrustProxyHeaders     = "TRUST_PROXY_HEADERS"

	// Matching and payload bounds.
	envVarPartnerHistoryCapacity = "PARTNER_HISTORY_CAPACITY"
	envVarMaxInterests           = "MAX_INTERESTS"
	envVarMaxMessageChars        = "MAX_MESSAGE_CHARS"

	// Duplex channel hardening.
	envVarSignalingWSIdleTimeout       = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval      = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes     = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingFramesPerSecond  = "MAX_SIGNALING_FRAMES_PER_SECOND"
	envVarSignalingSendQueue           = "SIGNALING_SEND_QUEUE"
	envVarAdminAPIKey                  = "ADMIN_API_KEY"
	envVarTURNRESTSharedSecret         = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds           = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix       = "TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTRealm                = "TURN_REST_REALM"
	DefaultListenAddr                  = "127.0.0.1:3001"
	DefaultShutdown                    = 15 * time.Second
	DefaultMode                   Mode = ModeDev

	DefaultConnectionLimit       = 10
	DefaultConnectionLimitWindow = 60 * time.Second
	DefaultMessageLimit          = 30
	DefaultMessageLimitWindow    = 10 * time.Second

	DefaultPartnerHistoryCapacity = 15
	DefaultMaxInterests           = 10
	DefaultMaxMessageChars        = 2000

	DefaultSignalingWSIdleTimeout      = 20 * time.Second
	DefaultSignalingWSPingInterval     = 10 * time.Second
	DefaultMaxSignalingMessageBytes    = int64(64 * 1024)
	DefaultMaxSignalingFramesPerSecond = 50
	DefaultSignalingSendQueue          = 256

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "pairing"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// RateLimit is a fixed-window budget. Max <= 0 disables the limiter.
type RateLimit struct {
	Max    int
	Window time.Duration
}

func (r RateLimit) Enabled() bool { return r.Max > 0 && r.Window > 0 }

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	ConnectionLimit   RateLimit
	MessageLimit      RateLimit
	TrustProxyHeaders bool

	PartnerHistoryCapacity int
	MaxInterests           int
	MaxMessageChars        int

	SignalingWSIdleTimeout      time.Duration
	SignalingWSPingInterval     time.Duration
	MaxSignalingMessageBytes    int64
	MaxSignalingFramesPerSecond int
	SignalingSendQueue          int

	// AdminAPIKey guards GET /admin/rooms. When empty the listing is open in
	// dev mode and disabled in prod.
	AdminAPIKey string

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError reports a bad ICE server configuration. It is kept out of
// Load's error so the coordinator can still start; /readyz surfaces it.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))
	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	adminAPIKey := envOrDefault(lookup, envVarAdminAPIKey, "")

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRESTRealm := envOrDefault(lookup, envVarTURNRESTRealm, "")
	turnRESTTTLSeconds, err := envInt64OrDefault(lookup, envVarTURNRESTTTLSeconds, DefaultTURNRESTTTLSeconds)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}

	connLimit, err := envIntOrDefault(lookup, envVarConnectionLimit, DefaultConnectionLimit)
	if err != nil {
		return Config{}, err
	}
	connWindow, err := envMillisOrDefault(lookup, envVarConnectionLimitWindow, DefaultConnectionLimitWindow)
	if err != nil {
		return Config{}, err
	}
	msgLimit, err := envIntOrDefault(lookup, envVarMessageLimit, DefaultMessageLimit)
	if err != nil {
		return Config{}, err
	}
	msgWindow, err := envMillisOrDefault(lookup, envVarMessageLimitWindow, DefaultMessageLimitWindow)
	if err != nil {
		return Config{}, err
	}
	trustProxyHeaders, err := envBoolOrDefault(lookup, envVarTrustProxyHeaders, true)
	if err != nil {
		return Config{}, err
	}

	historyCapacity, err := envIntOrDefault(lookup, envVarPartnerHistoryCapacity, DefaultPartnerHistoryCapacity)
	if err != nil {
		return Config{}, err
	}
	maxInterests, err := envIntOrDefault(lookup, envVarMaxInterests, DefaultMaxInterests)
	if err != nil {
		return Config{}, err
	}
	maxMessageChars, err := envIntOrDefault(lookup, envVarMaxMessageChars, DefaultMaxMessageChars)
	if err != nil {
		return Config{}, err
	}

	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envInt64OrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxFramesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingFramesPerSecond, DefaultMaxSignalingFramesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueue, err := envIntOrDefault(lookup, envVarSignalingSendQueue, DefaultSignalingSendQueue)
	if err != nil {
		return Config{}, err
	}

	fs := pflag.NewFlagSet("aero-webrtc-pairing", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var modeStr, logFormatStr, logLevelStr string

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port) (env "+envVarListenAddr+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout")

	fs.IntVar(&connLimit, "rate-limit-max-connections", connLimit, "New connections allowed per client address per window (0 = unlimited; env "+envVarConnectionLimit+")")
	fs.DurationVar(&connWindow, "rate-limit-window", connWindow, "Connection rate limit window (env "+envVarConnectionLimitWindow+" in ms)")
	fs.IntVar(&msgLimit, "rate-limit-max-messages", msgLimit, "message:send events allowed per connection per window (0 = unlimited; env "+envVarMessageLimit+")")
	fs.DurationVar(&msgWindow, "rate-limit-message-window", msgWindow, "Message rate limit window (env "+envVarMessageLimitWindow+" in ms)")
	fs.BoolVar(&trustProxyHeaders, "trust-proxy-headers", trustProxyHeaders, "Key the connection limiter on the first X-Forwarded-For hop (env "+envVarTrustProxyHeaders+")")

	fs.IntVar(&historyCapacity, "partner-history-capacity", historyCapacity, "Recent partners remembered per user (env "+envVarPartnerHistoryCapacity+")")
	fs.IntVar(&maxInterests, "max-interests", maxInterests, "Maximum interest tags per queue:join (env "+envVarMaxInterests+")")
	fs.IntVar(&maxMessageChars, "max-message-chars", maxMessageChars, "Maximum characters per chat message after sanitisation (env "+envVarMaxMessageChars+")")

	fs.DurationVar(&wsIdleTimeout, "signaling-ws-idle-timeout", wsIdleTimeout, "Close duplex connections after this long without a pong (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "signaling-ws-ping-interval", wsPingInterval, "Ping interval on duplex connections (must be < idle timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxMessageBytes, "max-signaling-message-bytes", maxMessageBytes, "Max inbound frame size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxFramesPerSecond, "max-signaling-frames-per-second", maxFramesPerSecond, "Inbound frames per second before a connection is closed (0 = unlimited; env "+envVarMaxSignalingFramesPerSecond+")")
	fs.IntVar(&sendQueue, "signaling-send-queue", sendQueue, "Outbound events buffered per connection before it is dropped (env "+envVarSignalingSendQueue+")")
	fs.StringVar(&adminAPIKey, "admin-api-key", adminAPIKey, "API key required by GET /admin/rooms (env "+envVarAdminAPIKey+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")
	fs.StringVar(&turnRESTRealm, "turn-rest-realm", turnRESTRealm, "TURN realm ("+envVarTURNRESTRealm+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	// A --mode flag without explicit log settings picks that mode's defaults.
	if fs.Changed("mode") {
		if !fs.Changed("log-format") && !envSet(lookup, envVarLogFormat) {
			logFormatStr = defaultLogFormatForMode(string(mode))
		}
		if !fs.Changed("log-level") && !envSet(lookup, envVarLogLevel) {
			logLevelStr = defaultLogLevelForMode(string(mode))
		}
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	if shutdownTimeout <= 0 {
		return Config{}, errors.New("--shutdown-timeout must be > 0")
	}
	if connLimit > 0 && connWindow <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0 when %s is set", envVarConnectionLimitWindow, envVarConnectionLimit)
	}
	if msgLimit > 0 && msgWindow <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0 when %s is set", envVarMessageLimitWindow, envVarMessageLimit)
	}
	if historyCapacity <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarPartnerHistoryCapacity)
	}
	if maxInterests <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxInterests)
	}
	if maxMessageChars <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxMessageChars)
	}
	if wsIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSignalingWSIdleTimeout)
	}
	if wsPingInterval <= 0 || wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s must be > 0 and < %s", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxSignalingMessageBytes)
	}
	if sendQueue <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSignalingSendQueue)
	}
	if strings.Contains(turnRESTUsernamePrefix, ":") {
		return Config{}, fmt.Errorf("%s must not contain ':'", envVarTURNRESTUsernamePrefix)
	}
	if strings.TrimSpace(turnRESTSharedSecret) != "" && turnRESTTTLSeconds <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarTURNRESTTTLSeconds)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		ConnectionLimit:   RateLimit{Max: connLimit, Window: connWindow},
		MessageLimit:      RateLimit{Max: msgLimit, Window: msgWindow},
		TrustProxyHeaders: trustProxyHeaders,

		PartnerHistoryCapacity: historyCapacity,
		MaxInterests:           maxInterests,
		MaxMessageChars:        maxMessageChars,

		SignalingWSIdleTimeout:      wsIdleTimeout,
		SignalingWSPingInterval:     wsPingInterval,
		MaxSignalingMessageBytes:    maxMessageBytes,
		MaxSignalingFramesPerSecond: maxFramesPerSecond,
		SignalingSendQueue:          sendQueue,
		AdminAPIKey:                 adminAPIKey,

		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
			Realm:          turnRESTRealm,
		},
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential, cfg.TURNREST.Enabled())
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}
	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
}

func envSet(lookup func(string) (string, bool), key string) bool {
	v, ok := lookup(key)
	return ok && strings.TrimSpace(v) != ""
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

// envMillisOrDefault reads a window given either as a bare integer number of
// milliseconds or as a Go duration string.
func envMillisOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: expected milliseconds or a duration like 10s", key, raw)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
