// Package cli provides the wharf command-line interface.
//
// # Commands
//
// serve: Initialize the configured plugins and start the registry
//
//	wharf serve --config wharf.yaml
//
// The server answers /health, /health/live, /health/ready and /metrics
// itself and hands every other request to the plugin dispatcher.
//
// plan: Resolve a configuration without initializing any plugin
//
//	wharf plan --config wharf.yaml
//
// Prints the initialization order and the plugin selected for each
// capability. Schema, cycle and ambiguity errors are reported exactly as
// serve would report them.
//
// modules: List the plugin modules compiled into the binary
//
//	wharf modules
//
// # Configuration
//
// The configuration file path may also be given as WHARF_CONFIG. Server and
// observability settings can be overridden with WHARF_* variables; see
// pkg/config.
package cli
