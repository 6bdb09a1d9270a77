package server

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_Defaults(t *testing.T) {
	mgr := newFakeManager(plateResponse)
	s, cleanup := newTestServer(mgr, Config{TimeoutSec: 5})
	defer cleanup()

	assert.Equal(t, int64(20), s.maxUploadMB)
	assert.Equal(t, "*", s.corsOrigin)
	assert.Equal(t, 5*time.Second, s.timeout)
	assert.Nil(t, s.rateLimiter)
	assert.NotNil(t, s.lib)
}

func TestNewServer_RateLimiter(t *testing.T) {
	mgr := newFakeManager(plateResponse)
	s, cleanup := newTestServer(mgr, Config{RequestsPerMinute: 3, MaxDataPerDayMB: 2})
	defer cleanup()

	require.NotNil(t, s.rateLimiter)
	assert.Equal(t, 3, s.rateLimiter.requestsPerMinute)
	assert.Equal(t, int64(2<<20), s.rateLimiter.maxDataPerDay)
}

func TestServer_Routes(t *testing.T) {
	mgr := newFakeManager(plateResponse)
	s, cleanup := newTestServer(mgr, Config{})
	defer cleanup()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	for _, path := range []string{"/health", "/models", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		if path == "/metrics" {
			assert.Contains(t, string(body), "platewatch_http_requests_total")
		}
	}

	resp, err := http.Get(ts.URL + "/alpr/stream")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "plain GET is not a websocket upgrade")
}

func TestMetricsObserver(t *testing.T) {
	var o MetricsObserver
	dropped := testutil.ToFloat64(framesTotal.WithLabelValues("dropped"))
	failed := testutil.ToFloat64(framesTotal.WithLabelValues("failed"))
	processed := testutil.ToFloat64(framesTotal.WithLabelValues("processed"))

	o.OnSubmitted(1)
	o.OnDropped(1)
	o.OnProcessed(2, 3, 10*time.Millisecond)
	o.OnFailed(3, errors.New("boom"), time.Millisecond)

	assert.InDelta(t, dropped+1, testutil.ToFloat64(framesTotal.WithLabelValues("dropped")), 1e-9)
	assert.InDelta(t, failed+1, testutil.ToFloat64(framesTotal.WithLabelValues("failed")), 1e-9)
	assert.InDelta(t, processed+1, testutil.ToFloat64(framesTotal.WithLabelValues("processed")), 1e-9)
}
