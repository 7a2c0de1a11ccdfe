package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Update("message")
	m.Request("text", "ok")
	m.Backend("text", time.Second)
	m.Broadcast("daily", 1, 2)
	require.Nil(t, m.Registry())
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Request("text", "ok")
	m.Request("text", "ok")
	m.Broadcast("manual", 2, 3)

	require.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("text", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.broadcastResults.WithLabelValues("manual", "failed")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	require.Contains(t, string(body), "umabot_dispatch_requests_total")

	// Instances do not share a registry.
	require.NotPanics(t, func() { _ = New() })
}
