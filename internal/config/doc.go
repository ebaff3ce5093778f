// Package config handles configuration loading for the gate client.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; a missing file is
// not an error for callers that use Default().
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  base_url: "${COCOGATE_SERVER}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  timeout: "30s"
//	chat:
//	  settings_redirect_delay: "2s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  base_url: "http://localhost:8080"
//	  timeout: "30s"
//
// Credential database:
//
//	store:
//	  path: "~/.config/cocogate/credentials.db"
//
// Chat view:
//
//	chat:
//	  history_limit: 10
//	  settings_redirect_delay: "2s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/cocogate/client.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
