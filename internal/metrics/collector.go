// Package metrics exports engine counters to Prometheus and serves a small
// status API next to them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"netstress/internal/backend"
	"netstress/internal/engine"
)

// StatsSource is the part of *engine.Engine the collector reads.
type StatsSource interface {
	Stats() engine.Stats
	IsRunning() bool
}

// BackendSource reports the active backend. *backend.Selector implements it.
type BackendSource interface {
	CurrentBackend() backend.Type
}

// Collector reads the engine on every scrape, so values are never stale
// and the send path does no extra work.
type Collector struct {
	stats   StatsSource
	backend BackendSource

	packets *prometheus.Desc
	bytes   *prometheus.Desc
	errors  *prometheus.Desc
	pps     *prometheus.Desc
	bps     *prometheus.Desc
	running *prometheus.Desc
	active  *prometheus.Desc
}

// NewCollector returns a collector over stats. b may be nil when no
// selector is in use.
func NewCollector(stats StatsSource, b BackendSource) *Collector {
	return &Collector{
		stats:   stats,
		backend: b,
		packets: prometheus.NewDesc("netstress_packets_sent_total", "Packets sent in the current run.", nil, nil),
		bytes:   prometheus.NewDesc("netstress_bytes_sent_total", "Bytes sent in the current run.", nil, nil),
		errors:  prometheus.NewDesc("netstress_errors_total", "Send and setup errors in the current run.", nil, nil),
		pps:     prometheus.NewDesc("netstress_packets_per_second", "Average packets per second over the run.", nil, nil),
		bps:     prometheus.NewDesc("netstress_bytes_per_second", "Average bytes per second over the run.", nil, nil),
		running: prometheus.NewDesc("netstress_engine_running", "1 while the engine is running.", nil, nil),
		active:  prometheus.NewDesc("netstress_backend_active", "Active send backend.", []string{"backend"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packets
	ch <- c.bytes
	ch <- c.errors
	ch <- c.pps
	ch <- c.bps
	ch <- c.running
	ch <- c.active
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats.Stats()
	ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(st.PacketsSent))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(st.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(st.Errors))
	ch <- prometheus.MustNewConstMetric(c.pps, prometheus.GaugeValue, float64(st.PPS))
	ch <- prometheus.MustNewConstMetric(c.bps, prometheus.GaugeValue, float64(st.BPS))

	running := 0.0
	if c.stats.IsRunning() {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)
	if c.backend != nil {
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, 1, c.backend.CurrentBackend().String())
	}
}
