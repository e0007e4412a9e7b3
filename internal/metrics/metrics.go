// Package metrics exposes the server's rendering statistics as a
// prometheus collector that gathers from the sinks at scrape time.
package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SinkStatsEntry is one sink's statistics snapshot.
type SinkStatsEntry struct {
	Name          string
	State         string
	RenderedBytes uint64
	RenderCycles  uint64
	Underruns     uint64
	RewoundBytes  uint64
	LatencySec    float64
	LatencyOK     bool
}

// SinkStatsProvider exposes per-sink statistics.
type SinkStatsProvider interface {
	SinkStats() []SinkStatsEntry
}

// Collector is a prometheus.Collector that gathers mixerd metrics at
// scrape time.
type Collector struct {
	sinks     SinkStatsProvider
	startTime time.Time

	// Metric descriptors.
	sinkStateDesc     *prometheus.Desc
	renderedBytesDesc *prometheus.Desc
	renderCyclesDesc  *prometheus.Desc
	underrunsDesc     *prometheus.Desc
	rewoundBytesDesc  *prometheus.Desc
	latencyDesc       *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewCollector creates a new metrics collector.
func NewCollector(sinks SinkStatsProvider, startTime time.Time) *Collector {
	return &Collector{
		sinks:     sinks,
		startTime: startTime,

		sinkStateDesc: prometheus.NewDesc(
			"mixerd_sink_state",
			"Sink state (1=running, 0=other)",
			[]string{"sink", "state"}, nil,
		),
		renderedBytesDesc: prometheus.NewDesc(
			"mixerd_sink_rendered_bytes_total",
			"Total bytes of audio rendered by the sink",
			[]string{"sink"}, nil,
		),
		renderCyclesDesc: prometheus.NewDesc(
			"mixerd_sink_render_cycles_total",
			"Total render cycles executed by the sink's device thread",
			[]string{"sink"}, nil,
		),
		underrunsDesc: prometheus.NewDesc(
			"mixerd_sink_underruns_total",
			"Render cycles where connected inputs delivered less audio than requested",
			[]string{"sink"}, nil,
		),
		rewoundBytesDesc: prometheus.NewDesc(
			"mixerd_sink_rewound_bytes_total",
			"Total bytes of already-rendered audio thrown away by rewinds",
			[]string{"sink"}, nil,
		),
		latencyDesc: prometheus.NewDesc(
			"mixerd_sink_latency_seconds",
			"Predicted buffered duration ahead of the wall clock",
			[]string{"sink"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"mixerd_uptime_seconds",
			"Seconds since the mixerd process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sinkStateDesc
	ch <- c.renderedBytesDesc
	ch <- c.renderCyclesDesc
	ch <- c.underrunsDesc
	ch <- c.rewoundBytesDesc
	ch <- c.latencyDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries the sinks at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sinks == nil {
		slog.Error("metrics: no sink stats provider configured")
		return
	}

	for _, s := range c.sinks.SinkStats() {
		val := 0.0
		if s.State == "running" {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.sinkStateDesc, prometheus.GaugeValue, val,
			s.Name, s.State,
		)
		ch <- prometheus.MustNewConstMetric(
			c.renderedBytesDesc, prometheus.CounterValue,
			float64(s.RenderedBytes), s.Name,
		)
		ch <- prometheus.MustNewConstMetric(
			c.renderCyclesDesc, prometheus.CounterValue,
			float64(s.RenderCycles), s.Name,
		)
		ch <- prometheus.MustNewConstMetric(
			c.underrunsDesc, prometheus.CounterValue,
			float64(s.Underruns), s.Name,
		)
		ch <- prometheus.MustNewConstMetric(
			c.rewoundBytesDesc, prometheus.CounterValue,
			float64(s.RewoundBytes), s.Name,
		)
		if s.LatencyOK {
			ch <- prometheus.MustNewConstMetric(
				c.latencyDesc, prometheus.GaugeValue,
				s.LatencySec, s.Name,
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
