// Package config handles configuration loading for coven-console.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CONSOLE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/console.yaml
//  3. ~/.config/coven/console.yaml
//
// Files ending in .toml are decoded as TOML; everything else is YAML. Both
// formats use the same keys.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  token: "${COVEN_TOKEN}"
//
// When auth.token is empty after expansion, COVEN_CONSOLE_TOKEN is used.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax and must be positive:
//
//	stream:
//	  heartbeat_interval: "30s"
//	sync:
//	  optimistic_window: "5s"
//	  just_sent_ttl: "60s"
//	handover:
//	  recency_window: "60s"
//	  refresh_interval: "3s"
//	reply:
//	  awaiting_after: "5s"
//	  error_after: "60s"
//
// # Configuration Sections
//
//	server:
//	  base_url: "https://platform.example.com"   # required
//	identity:
//	  participant_id: "console"
//	  workflow_type: "support"
//	  workflow_id: ""
//	pagination:
//	  message_page_size: 15
//	  list_page_size: 50
//	logging:
//	  level: "info"     # debug, info, warn, error
//	  format: "text"    # text, json
//	metrics:
//	  enabled: false
//	  addr: "127.0.0.1:9464"
package config
