package influxdb

import "errors"

var (
	// ErrDisabled is returned by Open when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: telemetry disabled")

	// ErrUnreachable means the server did not answer a ping.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrClosed is returned by HealthCheck once the telemetry sink is closed.
	ErrClosed = errors.New("influxdb: telemetry closed")
)
