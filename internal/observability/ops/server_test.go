package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"umabot/internal/metrics"
)

func TestHealthzReportsProbes(t *testing.T) {
	s := New(Config{}, Deps{Probes: map[string]Probe{
		"batches": func() any { return 3 },
	}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var h Health
	require.NoError(t, json.NewDecoder(res.Body).Decode(&h))
	require.Equal(t, "ok", h.Status)
	require.EqualValues(t, 3, h.Components["batches"])
}

func TestTokenRequired(t *testing.T) {
	s := New(Config{Token: "s3cret"}, Deps{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, err = http.Get(srv.URL + "/healthz?token=s3cret")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestMetricsAndPprofRoutes(t *testing.T) {
	m := metrics.New()
	m.Update("text")

	s := New(Config{Pprof: true}, Deps{Metrics: m.Handler()})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	require.Contains(t, string(body), "umabot_")

	res, err = http.Get(srv.URL + "/debug/pprof/cmdline")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	noProf := httptest.NewServer(New(Config{}, Deps{}).Handler())
	defer noProf.Close()
	res, err = http.Get(noProf.URL + "/debug/pprof/cmdline")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestStartRefusesInsecureBind(t *testing.T) {
	s := New(Config{Addr: "0.0.0.0:0"}, Deps{})
	require.Error(t, s.Start(context.Background()))
}

func TestStartStop(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, Deps{})
	require.NoError(t, s.Start(context.Background()))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	res, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.Empty(t, s.Addr())
	require.NoError(t, s.Stop(ctx))
}
