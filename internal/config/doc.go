// Package config handles configuration loading for pdfchat-gateway.
//
// # Configuration File
//
// The CLI looks for the file in this order:
//
//  1. --config flag
//  2. PDFCHAT_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/pdfchat/gateway.yaml (or ~/.config/pdfchat/gateway.yaml)
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	auth:
//	  jwt_secret: "${PDFCHAT_JWT_SECRET}"
//	provider:
//	  api_key: "${GEMINI_API_KEY}"
//
// Unset variables expand to the empty string. PDFCHAT_DB_PATH, when set,
// overrides database.path after the file is parsed.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:8080"
//
//	database:
//	  path: "~/.local/share/pdfchat/gateway.db"
//
//	auth:
//	  jwt_secret: "${PDFCHAT_JWT_SECRET}"   # at least 32 bytes
//	  google_client_id: "1234.apps.googleusercontent.com"
//	  session_ttl: "168h"
//
//	provider:
//	  kind: "gemini"                        # gemini, echo
//	  api_key: "${GEMINI_API_KEY}"
//	  model: "gemini-flash-latest"
//	  timeout: "120s"                       # "0" disables the bound
//	  requests_per_second: 1
//	  burst: 2
//
//	conversation:
//	  history_turns: 0                      # prior turns folded into the prompt
//	  append_timeout: "10s"
//	  replay_window: "5m"
//
//	uploads:
//	  max_bytes: 20971520
//
//	tailscale:
//	  enabled: false
//	  hostname: "pdfchat"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
//	logging:
//	  level: "info"                         # debug, info, warn, error
//	  format: "text"                        # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
//	mcp:
//	  enabled: false
//	  path: "/mcp"
//
// Durations use time.ParseDuration syntax.
package config
