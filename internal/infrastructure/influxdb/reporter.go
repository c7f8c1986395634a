package influxdb

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

const defaultReportInterval = 10 * time.Second

// StatsRecorder accepts statistics samples. *Telemetry implements it.
type StatsRecorder interface {
	RecordStats(stats messaging.Stats, state messaging.ConnectionState)
}

// StatsReporter periodically samples the counters of a messaging service.
type StatsReporter struct {
	source   messaging.StatsSource
	sink     StatsRecorder
	interval time.Duration
}

// NewStatsReporter creates a reporter. Intervals of zero or less use 10s.
func NewStatsReporter(source messaging.StatsSource, sink StatsRecorder, interval time.Duration) *StatsReporter {
	if interval <= 0 {
		interval = defaultReportInterval
	}
	return &StatsReporter{
		source:   source,
		sink:     sink,
		interval: interval,
	}
}

// Run reports every interval until ctx ends, then writes a final sample.
// It always returns nil so it can run under an errgroup.
func (r *StatsReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Report()
			return nil
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report writes one sample immediately.
func (r *StatsReporter) Report() {
	r.sink.RecordStats(r.source.Stats(), r.source.State())
}
