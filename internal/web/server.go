// Package web serves the walk tracker to browser hosts: a JSON API for walk
// commands and views, a websocket carrying views, commands and positions,
// plus health and metrics endpoints.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/walk-tracker/internal/eventloop"
	"github.com/stuartshay/walk-tracker/internal/geolocation"
	"github.com/stuartshay/walk-tracker/internal/metrics"
	"github.com/stuartshay/walk-tracker/internal/render"
	"github.com/stuartshay/walk-tracker/internal/tracker"
)

const transport = "http"

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Options configure the HTTP server
type Options struct {
	ServiceName  string
	MapAPIKey    string
	MapLibraries []string
	MapConfig    render.MapConfig

	Tracker *tracker.Tracker
	// Feed receives host positions; nil when locations come from elsewhere
	Feed    *geolocation.Feed
	Hub     *Hub
	Metrics *metrics.Metrics
	Checks  map[string]ReadinessCheck
}

// Server holds the HTTP handlers
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
}

// MapSettings is what a host needs to load the map provider
type MapSettings struct {
	APIKey    string        `json:"apiKey"`
	Libraries []string      `json:"libraries"`
	Center    render.LatLng `json:"center"`
	Level     int           `json:"level"`
}

// NewServer creates the HTTP server handlers
func NewServer(opts Options) *Server {
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router wires the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(api chi.Router) {
		api.Get("/config", s.handleConfig)
		api.Get("/view", s.handleView)
		api.Get("/test-map", s.handleTestMap)
		api.Post("/map/status", s.handleMapStatus)
		api.Post("/position", s.handlePosition)
		api.Post("/position/error", s.handlePositionError)

		api.Route("/walk", func(walk chi.Router) {
			walk.Get("/", s.handleWalkState)
			walk.Post("/start", s.command(render.ActionStart, s.opts.Tracker.Start))
			walk.Post("/end", s.command(render.ActionEnd, s.opts.Tracker.End))
			walk.Post("/panel/toggle", s.command(render.ActionTogglePanel, s.opts.Tracker.TogglePanel))
			walk.Post("/panel/close", s.command(render.ActionClosePanel, s.opts.Tracker.ClosePanel))
		})
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": s.opts.ServiceName,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if _, err := s.opts.Tracker.Page(ctx); err != nil {
		checks["event_loop"] = err.Error()
		ready = false
	} else {
		checks["event_loop"] = "ok"
	}

	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	libs := s.opts.MapLibraries
	if libs == nil {
		libs = []string{}
	}
	respondJSON(w, http.StatusOK, MapSettings{
		APIKey:    s.opts.MapAPIKey,
		Libraries: libs,
		Center: render.LatLng{
			Lat: s.opts.MapConfig.DefaultCenter.Latitude,
			Lng: s.opts.MapConfig.DefaultCenter.Longitude,
		},
		Level: s.opts.MapConfig.Level,
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	page, err := s.opts.Tracker.Page(r.Context())
	if err != nil {
		respondTrackerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleWalkState(w http.ResponseWriter, r *http.Request) {
	st, err := s.opts.Tracker.State(r.Context())
	if err != nil {
		respondTrackerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleTestMap(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, render.BareMap(s.opts.MapConfig))
}

func (s *Server) handleMapStatus(w http.ResponseWriter, r *http.Request) {
	var m MapStatusMessage
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.opts.Metrics.CommandsTotal.WithLabelValues(transport, TypeMapStatus).Inc()

	page, err := s.opts.Tracker.SetMapStatus(r.Context(), render.MapStatus(m.Status))
	if err != nil {
		respondTrackerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var p PositionMessage
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.opts.Metrics.CommandsTotal.WithLabelValues(transport, TypePosition).Inc()
	s.respondReport(w, s.applyPosition(p))
}

func (s *Server) handlePositionError(w http.ResponseWriter, r *http.Request) {
	var p PositionErrorMessage
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.opts.Metrics.CommandsTotal.WithLabelValues(transport, TypePositionError).Inc()
	s.respondReport(w, s.applyPositionError(p))
}

func (s *Server) respondReport(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNoFeed):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

// command adapts a tracker command to a POST handler returning the new page
func (s *Server) command(name string, fn func(context.Context) (render.Page, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.opts.Metrics.CommandsTotal.WithLabelValues(transport, name).Inc()

		page, err := fn(r.Context())
		if err != nil {
			respondTrackerError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, page)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrInvalidMapStatus):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, eventloop.ErrFull):
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, eventloop.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// requestLogger logs each request with zerolog
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
