package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/walk-tracker/internal/geolocation"
	"github.com/stuartshay/walk-tracker/internal/render"
)

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	msg := map[string]any{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// next reads until a message of the wanted type arrives
func next(t *testing.T, conn *websocket.Conn, msgType string) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg received
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func nextView(t *testing.T, conn *websocket.Conn, walk string) render.Page {
	t.Helper()
	for {
		var page render.Page
		require.NoError(t, json.Unmarshal(next(t, conn, TypeView).Data, &page))
		if page.View != nil && page.View.Walk == walk {
			return page
		}
	}
}

func TestWebSocket_UpgradeRequired(t *testing.T) {
	env := newTestEnv(t, true, nil)

	rec := env.do(t, http.MethodGet, "/ws", "")

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestWebSocket_InitialView(t *testing.T) {
	env := newTestEnv(t, true, nil)
	conn := dial(t, env)

	page := nextView(t, conn, "idle")
	assert.Equal(t, render.MapReady, page.Status)
	assert.True(t, page.View.Controls.Start.Enabled)
}

func TestWebSocket_WalkOverSocket(t *testing.T) {
	env := newTestEnv(t, true, nil)
	conn := dial(t, env)
	nextView(t, conn, "idle")

	send(t, conn, TypeStart, nil)

	cmd := next(t, conn, TypeCommand)
	var watch geolocation.Command
	require.NoError(t, json.Unmarshal(cmd.Data, &watch))
	assert.Equal(t, geolocation.ActionWatch, watch.Action)
	assert.True(t, watch.HighAccuracy)
	assert.Equal(t, int64(5000), watch.TimeoutMS)
	assert.NotEmpty(t, watch.WatchID)

	send(t, conn, TypePosition, map[string]float64{"latitude": 37.0000, "longitude": 127.0})
	send(t, conn, TypePosition, map[string]float64{"latitude": 37.0009, "longitude": 127.0})
	send(t, conn, TypeEnd, nil)

	clearMsg := next(t, conn, TypeCommand)
	var cleared geolocation.Command
	require.NoError(t, json.Unmarshal(clearMsg.Data, &cleared))
	assert.Equal(t, geolocation.ActionClearWatch, cleared.Action)
	assert.Equal(t, watch.WatchID, cleared.WatchID)

	page := nextView(t, conn, "ended")
	require.NotNil(t, page.View.Map.Overlay)
	assert.Equal(t, "0.10 km", page.View.Map.Overlay.Panel.Distance)
	require.NotNil(t, page.View.Map.Polyline)
	assert.Equal(t, "#666", page.View.Map.Polyline.StrokeColor)
}

func TestWebSocket_LateJoinerGetsWatch(t *testing.T) {
	env := newTestEnv(t, true, nil)

	first := dial(t, env)
	nextView(t, first, "idle")
	send(t, first, TypeStart, nil)
	nextView(t, first, "active")

	second := dial(t, env)
	cmd := next(t, second, TypeCommand)
	assert.Contains(t, string(cmd.Data), `"action":"watch"`)
}

func TestWebSocket_LateJoinerGetsLocate(t *testing.T) {
	env := newTestEnv(t, true, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	located := make(chan error, 1)
	go func() { located <- env.tracker.Locate(ctx) }()

	require.Eventually(t, func() bool { return env.feed.PendingLocates() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn := dial(t, env)
	cmd := next(t, conn, TypeCommand)
	var locate geolocation.Command
	require.NoError(t, json.Unmarshal(cmd.Data, &locate))
	assert.Equal(t, geolocation.ActionLocate, locate.Action)
	assert.True(t, locate.HighAccuracy)

	send(t, conn, TypePosition, map[string]float64{"latitude": 35.1796, "longitude": 129.0756})
	require.NoError(t, <-located)

	page := nextView(t, conn, "idle")
	for page.View.Map.Center.Lat != 35.1796 {
		page = nextView(t, conn, "idle")
	}
	assert.Equal(t, render.LatLng{Lat: 35.1796, Lng: 129.0756}, page.View.Map.Center)
}

func TestWebSocket_MapStatus(t *testing.T) {
	env := newTestEnv(t, true, nil)
	conn := dial(t, env)
	nextView(t, conn, "idle")

	send(t, conn, TypeMapStatus, map[string]string{"status": "error"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var page render.Page
		require.NoError(t, json.Unmarshal(next(t, conn, TypeView).Data, &page))
		if page.Status == render.MapFailed {
			assert.Nil(t, page.View)
			assert.NotEmpty(t, page.Error)
			return
		}
	}
}

func TestWebSocket_RejectsBadMessages(t *testing.T) {
	env := newTestEnv(t, true, nil)
	conn := dial(t, env)
	nextView(t, conn, "idle")

	send(t, conn, "teleport", nil)
	msg := next(t, conn, TypeError)
	assert.Contains(t, string(msg.Data), "teleport")

	send(t, conn, TypePosition, map[string]float64{"latitude": 37})
	msg = next(t, conn, TypeError)
	assert.Contains(t, string(msg.Data), "required")

	// the connection survives rejected messages
	send(t, conn, TypeStart, nil)
	nextView(t, conn, "active")
}

func TestWebSocket_NoFeed(t *testing.T) {
	env := newTestEnv(t, false, nil)
	conn := dial(t, env)
	nextView(t, conn, "idle")

	send(t, conn, TypePosition, map[string]float64{"latitude": 37, "longitude": 127})
	msg := next(t, conn, TypeError)
	assert.Contains(t, string(msg.Data), errNoFeed.Error())
}
