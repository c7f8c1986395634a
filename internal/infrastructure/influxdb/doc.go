// Package influxdb records publisher telemetry in InfluxDB.
//
// A Telemetry is opened for one messaging service and tags every point with
// that service's client_id. It writes three measurements:
//   - publisher_stats: periodic counter samples, tagged with the connection state
//   - connection_events: reconnecting, reconnected and service_down events
//   - publish_failures: undelivered messages, tagged with topic and reason
//
// # Usage
//
//	tel, err := influxdb.Open(ctx, cfg.InfluxDB, svc.ApplicationID())
//	if err != nil {
//	    return err
//	}
//	defer tel.Close()
//
//	reporter := influxdb.NewStatsReporter(svc, tel, cfg.GetReportInterval())
//	g.Go(func() error { return reporter.Run(ctx) })
//
// Writes are batched and never block the caller. Batch errors are delivered
// to the OnWriteError callback; Open and HealthCheck return errors directly.
package influxdb
