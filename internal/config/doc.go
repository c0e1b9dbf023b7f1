// Package config handles configuration loading for toolgate.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Files ending in .toml decode as TOML; everything else as YAML.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOOLGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/toolgate/toolgate.yaml
//  3. ~/.config/toolgate/toolgate.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	servers:
//	  - name: search
//	    headers:
//	      Authorization: "Bearer ${SEARCH_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	transports:
//	  handshake_timeout: "30s"
//	  invoke_timeout: "60s"
//	  stop_grace: "5s"
//	  reconnect_backoff: "500ms"
//
// # Configuration Sections
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Introspection HTTP surface (optional, off by default):
//
//	introspect:
//	  enabled: true
//	  addr: "127.0.0.1:8420"
//
// Tool servers:
//
//	servers:
//	  - name: files
//	    kind: process
//	    command: file-server
//	    args: ["--root", "/data"]
//	    env:
//	      LOG_LEVEL: warn
//	  - name: search
//	    kind: stream
//	    url: "http://localhost:9000/events"
//	    headers:
//	      Authorization: "Bearer ${SEARCH_TOKEN}"
//
// # Validation
//
// This package only checks that the file parses and durations are valid.
// Structural validation of server entries (unique names, kind-required
// fields) lives in the descriptor package, which collects every violation
// instead of stopping at the first.
//
// # Usage
//
//	cfg, err := config.Load("/etc/toolgate/toolgate.yaml")
//	store, err := descriptor.Load(cfg.Descriptors())
package config
