package zenohmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "zenohpico"
	subsystem = "session"
)

// Label names for session/transport metrics.
const (
	labelPeerZID = "peer_zid"
	labelKind    = "kind"
)

// -------------------------------------------------------------------------
// Collector — Prometheus session/transport/registry metrics
// -------------------------------------------------------------------------

// Collector holds all zenohd Prometheus metrics.
//
//   - Sessions/Subscriptions/Queryables gauges track currently live
//     registry entries.
//   - FramesSent/FramesReceived/FramesDropped counters track transport
//     volume per peer.
//   - CloseReasons counts why transports terminated, for alerting on
//     unexpected lease expiry or protocol errors.
type Collector struct {
	// Sessions tracks the number of currently open unicast/multicast
	// transports. cmd/zenohd increments it (RegisterTransport) once its
	// session is open and decrements it (UnregisterTransport) on close; the
	// transport package does not update it.
	Sessions prometheus.Gauge

	// Subscriptions tracks the number of currently declared local
	// subscriptions (including liveliness subscribers).
	Subscriptions prometheus.Gauge

	// Queryables tracks the number of currently declared local queryables.
	Queryables prometheus.Gauge

	// FramesSent counts FRAME messages transmitted per peer.
	FramesSent *prometheus.CounterVec

	// FramesReceived counts FRAME messages received per peer.
	FramesReceived *prometheus.CounterVec

	// FramesDropped counts FRAME payloads dropped due to decode failure,
	// out-of-order sequence numbers, or defragmentation overflow.
	FramesDropped *prometheus.CounterVec

	// CloseReasons counts transport closures labeled by zerr.CloseReason.
	CloseReasons *prometheus.CounterVec

	// ScoutHellos counts HELLO records collected by Scout calls.
	ScoutHellos prometheus.Counter
}

// NewCollector creates a Collector with all metrics registered against the
// provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.Subscriptions,
		c.Queryables,
		c.FramesSent,
		c.FramesReceived,
		c.FramesDropped,
		c.CloseReasons,
		c.ScoutHellos,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	peerLabels := []string{labelPeerZID}

	return &Collector{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transports_open",
			Help:      "Number of currently open unicast/multicast transports.",
		}),

		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions",
			Help:      "Number of currently declared local subscriptions.",
		}),

		Queryables: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queryables",
			Help:      "Number of currently declared local queryables.",
		}),

		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_sent_total",
			Help:      "Total FRAME messages transmitted.",
		}, peerLabels),

		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_received_total",
			Help:      "Total FRAME messages received.",
		}, peerLabels),

		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_dropped_total",
			Help:      "Total FRAME payloads dropped (decode failure, SN rejection, defrag overflow).",
		}, peerLabels),

		CloseReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "close_reasons_total",
			Help:      "Total transport closures, labeled by close reason.",
		}, []string{labelKind}),

		ScoutHellos: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scout",
			Name:      "hellos_total",
			Help:      "Total HELLO records collected across all Scout calls.",
		}),
	}
}

// -------------------------------------------------------------------------
// Transport lifecycle
// -------------------------------------------------------------------------

// RegisterTransport increments the open-transports gauge.
func (c *Collector) RegisterTransport() { c.Sessions.Inc() }

// UnregisterTransport decrements the open-transports gauge.
func (c *Collector) UnregisterTransport() { c.Sessions.Dec() }

// -------------------------------------------------------------------------
// Registry gauges
// -------------------------------------------------------------------------

// SetSubscriptions sets the currently-declared subscription count.
func (c *Collector) SetSubscriptions(n int) { c.Subscriptions.Set(float64(n)) }

// SetQueryables sets the currently-declared queryable count.
func (c *Collector) SetQueryables(n int) { c.Queryables.Set(float64(n)) }

// -------------------------------------------------------------------------
// Frame counters
// -------------------------------------------------------------------------

// IncFramesSent increments the transmitted-frames counter for peerZID.
func (c *Collector) IncFramesSent(peerZID string) {
	c.FramesSent.WithLabelValues(peerZID).Inc()
}

// IncFramesReceived increments the received-frames counter for peerZID.
func (c *Collector) IncFramesReceived(peerZID string) {
	c.FramesReceived.WithLabelValues(peerZID).Inc()
}

// IncFramesDropped increments the dropped-frames counter for peerZID.
func (c *Collector) IncFramesDropped(peerZID string) {
	c.FramesDropped.WithLabelValues(peerZID).Inc()
}

// -------------------------------------------------------------------------
// Closure / scout
// -------------------------------------------------------------------------

// RecordCloseReason increments the close-reason counter labeled by reason.
func (c *Collector) RecordCloseReason(reason string) {
	c.CloseReasons.WithLabelValues(reason).Inc()
}

// AddScoutHellos adds n to the scout HELLO counter.
func (c *Collector) AddScoutHellos(n int) {
	c.ScoutHellos.Add(float64(n))
}
