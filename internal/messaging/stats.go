package messaging

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a snapshot of the transmit counters of a Service, summed over
// all of its publishers.
type Stats struct {
	Published              uint64 `json:"published"`
	WouldBlock             uint64 `json:"would_block"`
	Overflow               uint64 `json:"overflow"`
	Failed                 uint64 `json:"failed"`
	Dropped                uint64 `json:"dropped"`
	ReadinessNotifications uint64 `json:"readiness_notifications"`
	Reconnects             uint64 `json:"reconnects"`
	ReconnectAttempts      uint64 `json:"reconnect_attempts"`
	ServiceDown            uint64 `json:"service_down"`
}

type counters struct {
	published              atomic.Uint64
	wouldBlock             atomic.Uint64
	overflow               atomic.Uint64
	failed                 atomic.Uint64
	dropped                atomic.Uint64
	readinessNotifications atomic.Uint64
	reconnects             atomic.Uint64
	reconnectAttempts      atomic.Uint64
	serviceDown            atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Published:              c.published.Load(),
		WouldBlock:             c.wouldBlock.Load(),
		Overflow:               c.overflow.Load(),
		Failed:                 c.failed.Load(),
		Dropped:                c.dropped.Load(),
		ReadinessNotifications: c.readinessNotifications.Load(),
		Reconnects:             c.reconnects.Load(),
		ReconnectAttempts:      c.reconnectAttempts.Load(),
		ServiceDown:            c.serviceDown.Load(),
	}
}

// StatsSource is implemented by *Service.
type StatsSource interface {
	Stats() Stats
	State() ConnectionState
}

// StatsCollector exposes a StatsSource as Prometheus metrics.
type StatsCollector struct {
	source StatsSource

	published   *prometheus.Desc
	wouldBlock  *prometheus.Desc
	overflow    *prometheus.Desc
	failed      *prometheus.Desc
	dropped     *prometheus.Desc
	readiness   *prometheus.Desc
	reconnects  *prometheus.Desc
	attempts    *prometheus.Desc
	serviceDown *prometheus.Desc
	connected   *prometheus.Desc
}

// NewStatsCollector creates a collector; constLabels are attached to every metric.
func NewStatsCollector(source StatsSource, constLabels prometheus.Labels) *StatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("graylogic_pub_"+name, help, nil, constLabels)
	}
	return &StatsCollector{
		source:      source,
		published:   desc("messages_published_total", "Messages accepted by the transport."),
		wouldBlock:  desc("publish_would_block_total", "Publish attempts the transport answered with would-block."),
		overflow:    desc("publish_overflow_total", "Publish calls rejected by back-pressure."),
		failed:      desc("publish_failed_total", "Messages that failed with a transport or service-down error."),
		dropped:     desc("messages_dropped_total", "Buffered messages dropped when a publisher terminated."),
		readiness:   desc("readiness_notifications_total", "Readiness listener invocations."),
		reconnects:  desc("reconnects_total", "Sessions re-established by the transport."),
		attempts:    desc("reconnect_attempts_total", "Reconnection attempts started by the transport."),
		serviceDown: desc("service_down_total", "Service-down notifications from the transport."),
		connected:   desc("connected", "1 while the service is connected."),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.published, c.wouldBlock, c.overflow, c.failed, c.dropped,
		c.readiness, c.reconnects, c.attempts, c.serviceDown, c.connected,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.published, s.Published)
	counter(c.wouldBlock, s.WouldBlock)
	counter(c.overflow, s.Overflow)
	counter(c.failed, s.Failed)
	counter(c.dropped, s.Dropped)
	counter(c.readiness, s.ReadinessNotifications)
	counter(c.reconnects, s.Reconnects)
	counter(c.attempts, s.ReconnectAttempts)
	counter(c.serviceDown, s.ServiceDown)

	connected := 0.0
	if c.source.State() == Connected {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)
}
