// Package logging provides structured logging for the Gray Logic publisher.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the service, its transports and
// the status API.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stderr, stdout, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	svc.SetLogger(logger.With("component", "messaging"))
//
// Never log broker passwords or the InfluxDB token.
package logging
