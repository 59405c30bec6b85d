// Package config handles configuration loading for daisyd.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (selected by file
// extension) with environment variable expansion. The package provides
// validation and sensible defaults for all timing values.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${DAISY_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	claims:
//	  ttl: "120s"
//	sessions:
//	  poll_interval: "300ms"
//	  startup_timeout: "10s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8420"
//
//	database:
//	  path: "~/.local/share/daisy/daisy.db"
//
//	sessions:
//	  command: "claude"
//	  backend: "tmux"        # tmux or pty
//
//	tailscale:
//	  enabled: false
//	  hostname: "daisy"
//	  auth_key: "${TS_AUTHKEY}"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
