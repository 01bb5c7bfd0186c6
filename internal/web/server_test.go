package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/walk-tracker/internal/geolocation"
	"github.com/stuartshay/walk-tracker/internal/metrics"
	"github.com/stuartshay/walk-tracker/internal/render"
	"github.com/stuartshay/walk-tracker/internal/tracker"
)

type testEnv struct {
	server  *Server
	handler http.Handler
	tracker *tracker.Tracker
	feed    *geolocation.Feed
	hub     *Hub
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, withFeed bool, checks map[string]ReadinessCheck) *testEnv {
	t.Helper()

	env := &testEnv{hub: NewHub(), metrics: metrics.New()}

	var src geolocation.Source
	if withFeed {
		env.feed = geolocation.NewFeed(env.hub.Notify)
		src = env.feed
	}

	env.tracker = tracker.New(tracker.Options{
		Source:    src,
		MapConfig: render.DefaultMapConfig(),
		MapStatus: render.MapReady,
		Metrics:   env.metrics,
	})

	env.server = NewServer(Options{
		ServiceName:  "walk-tracker",
		MapAPIKey:    "test-key",
		MapLibraries: []string{"services", "clusterer"},
		MapConfig:    render.DefaultMapConfig(),
		Tracker:      env.tracker,
		Feed:         env.feed,
		Hub:          env.hub,
		Metrics:      env.metrics,
		Checks:       checks,
	})
	env.handler = env.server.Router()

	t.Cleanup(func() {
		_ = env.tracker.Shutdown(time.Second)
		if env.feed != nil {
			env.feed.Close()
		}
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) render.Page {
	t.Helper()
	var page render.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	return page
}

func TestHealthzEndpoint(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := env.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy","service":"walk-tracker"}`, rec.Body.String())
}

func TestReadyzEndpoint(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		env := newTestEnv(t, true, map[string]ReadinessCheck{
			"database": func(context.Context) error { return nil },
		})

		rec := env.do(t, http.MethodGet, "/readyz", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ready","checks":{"event_loop":"ok","database":"ok"}}`, rec.Body.String())
	})

	t.Run("dependency down", func(t *testing.T) {
		env := newTestEnv(t, true, map[string]ReadinessCheck{
			"database": func(context.Context) error { return errors.New("connection refused") },
		})

		rec := env.do(t, http.MethodGet, "/readyz", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})

	t.Run("event loop stopped", func(t *testing.T) {
		env := newTestEnv(t, true, nil)
		require.NoError(t, env.tracker.Shutdown(time.Second))

		rec := env.do(t, http.MethodGet, "/readyz", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestConfigEndpoint(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := env.do(t, http.MethodGet, "/api/config", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"apiKey": "test-key",
		"libraries": ["services", "clusterer"],
		"center": {"lat": 37.5665, "lng": 126.978},
		"level": 4
	}`, rec.Body.String())
}

func TestTestMapEndpoint(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := env.do(t, http.MethodGet, "/api/test-map", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var m render.Map
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 3, m.Level)
	assert.Equal(t, render.LatLng{Lat: 37.5665, Lng: 126.978}, m.Center)
	assert.Nil(t, m.Polyline)
	assert.Nil(t, m.Marker)
	assert.NotContains(t, rec.Body.String(), "marker")
}

func TestWalkEndpoints(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := env.do(t, http.MethodPost, "/api/walk/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decodePage(t, rec).View.Walk)

	rec = env.do(t, http.MethodPost, "/api/position", `{"latitude":37.0,"longitude":127.0}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/position", `{"latitude":37.0009,"longitude":127.0}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/view", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodePage(t, rec)
	require.NotNil(t, page.View.Map.Polyline)
	assert.Equal(t, "#FFA500", page.View.Map.Polyline.StrokeColor)

	rec = env.do(t, http.MethodPost, "/api/walk/end", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page = decodePage(t, rec)
	require.NotNil(t, page.View.Map.Overlay)
	assert.Equal(t, "0.10 km", page.View.Map.Overlay.Panel.Distance)

	rec = env.do(t, http.MethodPost, "/api/walk/panel/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodePage(t, rec).View.Map.Overlay)

	rec = env.do(t, http.MethodPost, "/api/walk/panel/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decodePage(t, rec).View.Map.Overlay)

	rec = env.do(t, http.MethodPost, "/api/walk/panel/close", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodePage(t, rec).View.Map.Overlay)

	rec = env.do(t, http.MethodGet, "/api/walk", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ended"`)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.CommandsTotal.WithLabelValues("http", "start")))
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.CommandsTotal.WithLabelValues("http", "position")))
}

func TestPositionEndpoint_Validation(t *testing.T) {
	env := newTestEnv(t, true, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"latitude":`, http.StatusBadRequest},
		{"missing longitude", `{"latitude":37.0}`, http.StatusBadRequest},
		{"out of range", `{"latitude":95,"longitude":127}`, http.StatusBadRequest},
		{"valid", `{"latitude":37,"longitude":127}`, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/position", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPositionEndpoint_NoFeed(t *testing.T) {
	env := newTestEnv(t, false, nil)

	rec := env.do(t, http.MethodPost, "/api/position", `{"latitude":37,"longitude":127}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/walk/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decodePage(t, rec).View.Walk)
}

func TestPositionErrorEndpoint(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := env.do(t, http.MethodPost, "/api/walk/start", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/position/error", `{"code":1,"message":"User denied Geolocation"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/position/error", `{"code":"timeout"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/view", "")
	assert.Equal(t, "active", decodePage(t, rec).View.Walk)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.LocationErrors.WithLabelValues("permission_denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.LocationErrors.WithLabelValues("timeout")))
}

func TestMapStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := env.do(t, http.MethodPost, "/api/map/status", `{"status":"error"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodePage(t, rec)
	assert.Equal(t, render.MapFailed, page.Status)
	assert.Nil(t, page.View)

	rec = env.do(t, http.MethodPost, "/api/map/status", `{"status":"exploded"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.do(t, http.MethodPost, "/api/walk/start", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "walks_started_total 1")
}

func TestRespondTrackerError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid map status", tracker.ErrInvalidMapStatus, http.StatusBadRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondTrackerError(rec, tt.err)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}
