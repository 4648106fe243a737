package zenohmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	zenohmetrics "github.com/zenoh-pico-go/zenohpico/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zenohmetrics.NewCollector(reg)

	if c.Sessions == nil {
		t.Error("Sessions is nil")
	}
	if c.Subscriptions == nil {
		t.Error("Subscriptions is nil")
	}
	if c.Queryables == nil {
		t.Error("Queryables is nil")
	}
	if c.FramesSent == nil {
		t.Error("FramesSent is nil")
	}
	if c.FramesReceived == nil {
		t.Error("FramesReceived is nil")
	}
	if c.FramesDropped == nil {
		t.Error("FramesDropped is nil")
	}
	if c.CloseReasons == nil {
		t.Error("CloseReasons is nil")
	}
	if c.ScoutHellos == nil {
		t.Error("ScoutHellos is nil")
	}

	// Verify all metrics are registered by gathering them.
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestRegisterUnregisterTransport(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zenohmetrics.NewCollector(reg)

	c.RegisterTransport()
	c.RegisterTransport()
	if val := plainGaugeValue(t, c.Sessions); val != 2 {
		t.Errorf("after two RegisterTransport: sessions gauge = %v, want 2", val)
	}

	c.UnregisterTransport()
	if val := plainGaugeValue(t, c.Sessions); val != 1 {
		t.Errorf("after UnregisterTransport: sessions gauge = %v, want 1", val)
	}
}

func TestRegistryGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zenohmetrics.NewCollector(reg)

	c.SetSubscriptions(3)
	c.SetQueryables(1)

	if val := plainGaugeValue(t, c.Subscriptions); val != 3 {
		t.Errorf("Subscriptions = %v, want 3", val)
	}
	if val := plainGaugeValue(t, c.Queryables); val != 1 {
		t.Errorf("Queryables = %v, want 1", val)
	}

	c.SetSubscriptions(0)
	if val := plainGaugeValue(t, c.Subscriptions); val != 0 {
		t.Errorf("Subscriptions after reset = %v, want 0", val)
	}
}

func TestFrameCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zenohmetrics.NewCollector(reg)

	const peerZID = "a1a1a1a1"

	c.IncFramesSent(peerZID)
	c.IncFramesSent(peerZID)
	c.IncFramesSent(peerZID)
	if val := counterValue(t, c.FramesSent, peerZID); val != 3 {
		t.Errorf("FramesSent = %v, want 3", val)
	}

	c.IncFramesReceived(peerZID)
	c.IncFramesReceived(peerZID)
	if val := counterValue(t, c.FramesReceived, peerZID); val != 2 {
		t.Errorf("FramesReceived = %v, want 2", val)
	}

	c.IncFramesDropped(peerZID)
	if val := counterValue(t, c.FramesDropped, peerZID); val != 1 {
		t.Errorf("FramesDropped = %v, want 1", val)
	}
}

func TestCloseReasonsAndScoutHellos(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zenohmetrics.NewCollector(reg)

	c.RecordCloseReason("expired")
	c.RecordCloseReason("expired")
	c.RecordCloseReason("generic")

	if val := counterValue(t, c.CloseReasons, "expired"); val != 2 {
		t.Errorf("CloseReasons(expired) = %v, want 2", val)
	}
	if val := counterValue(t, c.CloseReasons, "generic"); val != 1 {
		t.Errorf("CloseReasons(generic) = %v, want 1", val)
	}

	c.AddScoutHellos(3)
	c.AddScoutHellos(2)

	m := &dto.Metric{}
	if err := c.ScoutHellos.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 5 {
		t.Errorf("ScoutHellos = %v, want 5", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// plainGaugeValue reads the current value of an unlabeled Gauge.
func plainGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
