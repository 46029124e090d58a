// ABOUTME: Package documentation for relay configuration
// ABOUTME: Describes the YAML layout and environment variable expansion

// Package config handles configuration loading for prepchat-relay.
//
// Configuration is loaded from a YAML file with ${VAR_NAME} environment
// variable expansion. Duration values use Go's time.ParseDuration syntax.
//
// Example:
//
//	server:
//	  http_addr: ":8080"
//
//	upstream:
//	  base_url: "https://gateway.example.com"
//	  timeout: "55s"
//
//	auth:
//	  jwt_secret: "${PREPCHAT_JWT_SECRET}"
//
//	logging:
//	  level: "info"
//	  format: "text"
//
// The upstream timeout defaults to 55 seconds when unset, leaving room to
// return a structured gateway_timeout error before edge proxies give up.
package config
