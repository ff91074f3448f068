package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionLifecycleMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSessionOpened("Net1")
	m.RecordSessionOpened("Net1")
	m.RecordSessionClosed("Net1", ReasonIdle, 1.5)

	if got := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("Net1")); got != 1 {
		t.Errorf("Expected 1 active session, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsClosed.WithLabelValues("Net1", ReasonIdle)); got != 1 {
		t.Errorf("Expected 1 idle close, got %v", got)
	}
}

func TestNetworkUp(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetNetworkUp("Net1", true)
	if got := testutil.ToFloat64(m.NetworkUp.WithLabelValues("Net1")); got != 1 {
		t.Errorf("Expected network up, got %v", got)
	}

	m.SetNetworkUp("Net1", false)
	if got := testutil.ToFloat64(m.NetworkUp.WithLabelValues("Net1")); got != 0 {
		t.Errorf("Expected network down, got %v", got)
	}
	if got := testutil.ToFloat64(m.NetworkDisconnects.WithLabelValues("Net1")); got != 1 {
		t.Errorf("Expected 1 disconnect, got %v", got)
	}
}

func TestIndependentRegistries(t *testing.T) {
	// Registering twice on separate registries must not panic
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
