// Package config handles configuration loading for inboxd.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${INBOX_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	gateway:
//	  timeout: "30s"
//	delivery:
//	  dispatch_timeout: "45s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API and event stream
//
// Database:
//
//	database:
//	  path: "/var/lib/inboxd/inbox.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${INBOX_JWT_SECRET}"
//
// Outbound provider gateway:
//
//	gateway:
//	  base_url: "https://gateway.example.com"
//	  token: "${INBOX_GATEWAY_TOKEN}"
//	  timeout: "30s"
//
// Object storage for media (optional):
//
//	blob:
//	  endpoint: "minio.example.com:9000"
//	  access_key: "${MINIO_ACCESS_KEY}"
//	  secret_key: "${MINIO_SECRET_KEY}"
//	  bucket: "inbox-media"
//	  public_url: "https://media.example.com"
//	  use_ssl: true
//
// Cross-instance event fanout (optional):
//
//	redis:
//	  enabled: true
//	  addr: "localhost:6379"
//	  channel: "inbox-events"
//
// Assignment behavior:
//
//	routing:
//	  enforce_capacity: true
//	  distribution: false
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
//	cfg, err := config.Load("/etc/inboxd/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
