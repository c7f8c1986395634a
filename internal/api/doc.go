// Package api implements the status HTTP server of the Gray Logic publisher.
//
// This package provides:
//   - Liveness and connection health at /api/v1/health
//   - Service and publisher status with transmit counters at /api/v1/status
//   - The dead-letter journal at /api/v1/dead-letters (list and purge)
//   - Prometheus metrics at /metrics
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Graceful Degradation
//
// The journal is optional: without a dead-letter repository the
// /api/v1/dead-letters routes answer 404 and the rest of the API works.
//
// The server binds to 127.0.0.1 by default and has no authentication; put
// it behind a reverse proxy before exposing it.
package api
