// Package config loads the server configuration from a YAML file with
// WHARF_* environment overrides.
//
// # Configuration File
//
//	server:
//	  port: "4873"
//	observability:
//	  log_level: info
//	  health_schedule: "@every 30s"
//	plugins:
//	  - module: sql-database
//	    config:
//	      driver: postgres
//	      dsn: postgres://localhost/wharf?sslmode=disable
//	  - module: memory-cache
//	  - id: cache
//	    module: redis-cache
//	    config:
//	      url: redis://localhost:6379/0
//	  - module: default-response
//	preferences:
//	  cache: cache
//	response_cache:
//	  enabled: true
//	  ttl: 5m
//
// The plugins list is ordered; that order breaks ties when plugins are sorted
// by their load constraints.
//
// # Environment Overrides
//
//	WHARF_HOST, WHARF_PORT, WHARF_READ_TIMEOUT, WHARF_WRITE_TIMEOUT
//	WHARF_LOG_LEVEL, WHARF_LOG_FORMAT, WHARF_METRICS_ENABLED
//	WHARF_OTEL_ENABLED, WHARF_OTEL_ENDPOINT
//	WHARF_RESPONSE_CACHE_ENABLED, WHARF_RESPONSE_CACHE_TTL
//
// # Usage Example
//
//	cfg, err := config.Load(path)
//	if err != nil {
//		log.Fatal(err)
//	}
//	rc, err := cfg.Runtime()
//
// # Related Packages
//
//   - pkg/plugins: Consumes the runtime configuration
//   - pkg/observability: Uses observability configuration
package config
