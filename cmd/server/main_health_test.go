// Package main provides tests for service wiring and the health check endpoints
package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stuartshay/walk-tracker/internal/calculator"
	"github.com/stuartshay/walk-tracker/internal/config"
	"github.com/stuartshay/walk-tracker/internal/geolocation"
	"github.com/stuartshay/walk-tracker/internal/render"
	"github.com/stuartshay/walk-tracker/internal/tracker"
	"github.com/stuartshay/walk-tracker/internal/web"
)

func TestHealthzEndpoint(t *testing.T) {
	tr := tracker.New(tracker.Options{MapConfig: render.DefaultMapConfig()})
	defer func() { _ = tr.Shutdown(time.Second) }()

	handler := web.NewServer(web.Options{ServiceName: "walk-tracker", Tracker: tr}).Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	expected := "{\"service\":\"walk-tracker\",\"status\":\"healthy\"}\n"
	if rec.Body.String() != expected {
		t.Errorf("Expected body %s, got %s", expected, rec.Body.String())
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}
}

func TestMapConfig(t *testing.T) {
	cfg := &config.Config{MapCenterLatitude: 35.1796, MapCenterLongitude: 129.0756, MapLevel: 6}

	m := mapConfig(cfg)

	want := calculator.Coordinate{Latitude: 35.1796, Longitude: 129.0756}
	if m.DefaultCenter != want {
		t.Errorf("expected center %v, got %v", want, m.DefaultCenter)
	}
	if m.Level != 6 {
		t.Errorf("expected level 6, got %d", m.Level)
	}
	if m.StrokeWeight != 6 || m.ActiveColor != "#FFA500" {
		t.Errorf("expected default stroke settings, got %+v", m)
	}
}

func TestWatchOptions(t *testing.T) {
	cfg := &config.Config{GeoHighAccuracy: true, GeoTimeout: 5 * time.Second}

	got := watchOptions(cfg)

	if got != geolocation.DefaultWatchOptions() {
		t.Errorf("expected default watch options, got %+v", got)
	}
}

func TestNewSources(t *testing.T) {
	tests := []struct {
		name        string
		source      string
		wantSource  bool
		wantFeed    bool
		expectError bool
	}{
		{name: "browser", source: config.SourceBrowser, wantSource: true, wantFeed: true},
		{name: "none", source: config.SourceNone},
		{name: "unknown", source: "gps", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := newSources(context.Background(), &config.Config{GeoSource: tt.source}, web.NewHub())
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("newSources() failed: %v", err)
			}
			defer set.close()

			if (set.source != nil) != tt.wantSource {
				t.Errorf("expected source present=%v, got %v", tt.wantSource, set.source)
			}
			if (set.hostFeed != nil) != tt.wantFeed {
				t.Errorf("expected host feed present=%v", tt.wantFeed)
			}
		})
	}
}

func TestSetLogLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			setLogLevel(tt.level)
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("expected level %s, got %s", tt.want, got)
			}
		})
	}
}
