package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ModeProvider exposes the current operating mode as a gauge-friendly
// discriminant.
type ModeProvider interface {
	Mode() string
}

// QueueDepthProvider exposes the pending-packet queue depth.
type QueueDepthProvider interface {
	PendingDepth() int
}

// EventCounter exposes lifetime and retained event counts.
type EventCounter interface {
	EventCount() int
	RetainedEventCount() int
}

// WSClientsProvider exposes the number of connected WebSocket clients.
type WSClientsProvider interface {
	ClientCount() int
}

// Collector is a prometheus.Collector that gathers soundtri metrics at
// scrape time.
type Collector struct {
	mode      ModeProvider
	queue     QueueDepthProvider
	events    EventCounter
	ws        WSClientsProvider
	startTime time.Time

	modeDesc           *prometheus.Desc
	pendingDesc        *prometheus.Desc
	eventsTotalDesc    *prometheus.Desc
	eventsRetainedDesc *prometheus.Desc
	wsClientsDesc      *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil
// if unavailable.
func NewCollector(
	mode ModeProvider,
	queue QueueDepthProvider,
	events EventCounter,
	ws WSClientsProvider,
	startTime time.Time,
) *Collector {
	return &Collector{
		mode:      mode,
		queue:     queue,
		events:    events,
		ws:        ws,
		startTime: startTime,

		modeDesc: prometheus.NewDesc(
			"soundtri_mode",
			"Current operating mode (1=sync, 0=localize)",
			nil, nil,
		),
		pendingDesc: prometheus.NewDesc(
			"soundtri_pending_packets",
			"Number of packets currently awaiting peers in the correlation queue",
			nil, nil,
		),
		eventsTotalDesc: prometheus.NewDesc(
			"soundtri_events_total",
			"Total number of acoustic events committed since startup",
			nil, nil,
		),
		eventsRetainedDesc: prometheus.NewDesc(
			"soundtri_events_retained",
			"Number of events currently retained in memory",
			nil, nil,
		),
		wsClientsDesc: prometheus.NewDesc(
			"soundtri_ws_clients",
			"Number of connected WebSocket observers",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"soundtri_uptime_seconds",
			"Seconds since the localization server started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.modeDesc
	ch <- c.pendingDesc
	ch <- c.eventsTotalDesc
	ch <- c.eventsRetainedDesc
	ch <- c.wsClientsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.mode != nil {
		val := 0.0
		if c.mode.Mode() == "sync" {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.modeDesc, prometheus.GaugeValue, val)
	}

	if c.queue != nil {
		ch <- prometheus.MustNewConstMetric(
			c.pendingDesc, prometheus.GaugeValue, float64(c.queue.PendingDepth()),
		)
	}

	if c.events != nil {
		ch <- prometheus.MustNewConstMetric(
			c.eventsTotalDesc, prometheus.CounterValue, float64(c.events.EventCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.eventsRetainedDesc, prometheus.GaugeValue, float64(c.events.RetainedEventCount()),
		)
	}

	if c.ws != nil {
		ch <- prometheus.MustNewConstMetric(
			c.wsClientsDesc, prometheus.GaugeValue, float64(c.ws.ClientCount()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds(),
	)
}
