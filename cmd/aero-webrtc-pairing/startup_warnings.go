package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if !cfg.ConnectionLimit.Enabled() {
		logger.Warn("startup security warning: connection rate limit is disabled",
			"warning_code", "connection_rate_limit_disabled",
			"rate_limit_max_connections", cfg.ConnectionLimit.Max,
			"rate_limit_window", cfg.ConnectionLimit.Window,
			"mode", cfg.Mode,
		)
	}
	if !cfg.MessageLimit.Enabled() {
		logger.Warn("startup security warning: message rate limit is disabled",
			"warning_code", "message_rate_limit_disabled",
			"rate_limit_max_messages", cfg.MessageLimit.Max,
			"rate_limit_message_window", cfg.MessageLimit.Window,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.TrustProxyHeaders {
		logger.Warn("startup security warning: TRUST_PROXY_HEADERS=true keys the connection limiter on X-Forwarded-For (spoofable unless a proxy overwrites it)",
			"warning_code", "trust_proxy_headers",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeDev && cfg.AdminAPIKey == "" {
		logger.Warn("startup security warning: ADMIN_API_KEY is unset; /admin/rooms is open in dev mode",
			"warning_code", "admin_rooms_open",
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /readyz will fail",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}
}
