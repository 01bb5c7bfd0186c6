package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/walk-tracker/internal/calculator"
	"github.com/stuartshay/walk-tracker/internal/geolocation"
	"github.com/stuartshay/walk-tracker/internal/render"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	writeWait  = 10 * time.Second
)

// errNoFeed is returned for position reports when hosts are not the source
var errNoFeed = errors.New("positions are not accepted from hosts")

// handleWebSocket serves one host connection. The host receives the current
// view, the feed's pending watch and locate commands, then every later view
// and command.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	client := s.opts.Hub.Register()
	s.opts.Metrics.HostConnections.Inc()
	log.Info().Str("client_id", client.ID).Msg("Host connected")

	cancel := s.opts.Tracker.Subscribe(func(p render.Page) {
		payload, err := encode(TypeView, p)
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode view")
			return
		}
		if !client.Offer(payload) {
			log.Warn().Str("client_id", client.ID).Msg("Dropped view for slow host")
		}
	})

	if s.opts.Feed != nil {
		for _, cmd := range s.opts.Feed.PendingCommands() {
			if payload, err := encode(TypeCommand, cmd); err == nil {
				client.Offer(payload)
			}
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		writePump(conn, client)
	}()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("client_id", client.ID).Msg("Websocket read error")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := s.handleMessage(ctx, msg); err != nil {
			log.Warn().Err(err).Str("type", msg.Type).Msg("Rejected host message")
			if payload, encErr := encode(TypeError, map[string]string{"type": msg.Type, "error": err.Error()}); encErr == nil {
				client.Offer(payload)
			}
		}
	}

	cancel()
	s.opts.Hub.Unregister(client)
	<-done
	s.opts.Metrics.HostConnections.Dec()
	log.Info().Str("client_id", client.ID).Msg("Host disconnected")
}

// writePump drains the client queue onto the connection and keeps it alive
func writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// unblock the reader so the handler can clean up
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, msg inboundMessage) error {
	label := msg.Type
	var err error
	switch msg.Type {
	case TypeStart:
		_, err = s.opts.Tracker.Start(ctx)
	case TypeEnd:
		_, err = s.opts.Tracker.End(ctx)
	case TypeTogglePanel:
		_, err = s.opts.Tracker.TogglePanel(ctx)
	case TypeClosePanel:
		_, err = s.opts.Tracker.ClosePanel(ctx)
	case TypePosition:
		var p PositionMessage
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = s.applyPosition(p)
		}
	case TypePositionError:
		var p PositionErrorMessage
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = s.applyPositionError(p)
		}
	case TypeMapStatus:
		var m MapStatusMessage
		if err = json.Unmarshal(msg.Data, &m); err == nil {
			_, err = s.opts.Tracker.SetMapStatus(ctx, render.MapStatus(m.Status))
		}
	default:
		label = "unknown"
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}

	s.opts.Metrics.CommandsTotal.WithLabelValues("websocket", label).Inc()
	return err
}

func (s *Server) applyPosition(p PositionMessage) error {
	if s.opts.Feed == nil {
		return errNoFeed
	}
	if p.Latitude == nil || p.Longitude == nil {
		return errors.New("latitude and longitude are required")
	}
	if math.Abs(*p.Latitude) > 90 || math.Abs(*p.Longitude) > 180 {
		return fmt.Errorf("coordinate out of range: %v,%v", *p.Latitude, *p.Longitude)
	}

	s.opts.Feed.Push(calculator.Coordinate{Latitude: *p.Latitude, Longitude: *p.Longitude})
	return nil
}

func (s *Server) applyPositionError(p PositionErrorMessage) error {
	if s.opts.Feed == nil {
		return errNoFeed
	}

	code := geolocation.ParseErrorCode(strings.Trim(strings.TrimSpace(string(p.Code)), `"`))
	if code == 0 {
		log.Debug().Str("code", string(p.Code)).Msg("Unrecognized position error code")
	}

	s.opts.Feed.PushError(geolocation.NewPositionError(code, p.Message))
	return nil
}
