package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SessionStateChanged("", "running")
		m.IncDisconnects()
		m.ObserveTokenWait("evaluation", time.Millisecond)
		NewTimer(m, "evaluate").Stop("ok")
		m.SetPool(1, 1)
		m.IncTracerStops("breakpoint")
	})
}

func TestSessionStateChanged(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SessionStateChanged("", "connecting")
	m.SessionStateChanged("connecting", "running")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsByState.WithLabelValues("connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsByState.WithLabelValues("running")))
}

func TestTimerTracksPending(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	timer := NewTimer(m, "children")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingRequests))

	timer.Stop("ok")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PendingRequests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("children", "ok")))
}
