// Package metrics exposes Prometheus instruments for walk tracking
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	registry *prometheus.Registry

	// Walk metrics
	WalksStarted  prometheus.Counter
	WalksEnded    prometheus.Counter
	WalkActive    prometheus.Gauge
	WalkDistance  prometheus.Histogram
	WalkDuration  prometheus.Histogram
	StartsSkipped *prometheus.CounterVec

	// Location metrics
	LocationUpdates *prometheus.CounterVec
	LocationErrors  *prometheus.CounterVec

	// Host metrics
	HostConnections prometheus.Gauge
	CommandsTotal   *prometheus.CounterVec
}

// New creates and registers all metrics on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		WalksStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "walks_started_total",
				Help: "Total number of walks started",
			},
		),
		WalksEnded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "walks_ended_total",
				Help: "Total number of walks ended",
			},
		),
		WalkActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "walk_active",
				Help: "1 while a walk is in progress",
			},
		),
		WalkDistance: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "walk_distance_meters",
				Help:    "Distance of finished walks in meters",
				Buckets: []float64{10, 100, 500, 1000, 2500, 5000, 10000, 20000},
			},
		),
		WalkDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "walk_duration_seconds",
				Help:    "Elapsed time of finished walks in seconds",
				Buckets: []float64{60, 300, 900, 1800, 3600, 7200},
			},
		),
		StartsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walk_starts_skipped_total",
				Help: "Start requests that did not begin a walk",
			},
			[]string{"reason"},
		),

		LocationUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "location_updates_total",
				Help: "Location updates received, by outcome",
			},
			[]string{"result"},
		),
		LocationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "location_errors_total",
				Help: "Location acquisition errors, by code",
			},
			[]string{"code"},
		),

		HostConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "host_connections",
				Help: "Connected websocket hosts",
			},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walk_commands_total",
				Help: "Walk commands received, by transport and command",
			},
			[]string{"transport", "command"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.WalksStarted)
	m.registry.MustRegister(m.WalksEnded)
	m.registry.MustRegister(m.WalkActive)
	m.registry.MustRegister(m.WalkDistance)
	m.registry.MustRegister(m.WalkDuration)
	m.registry.MustRegister(m.StartsSkipped)

	m.registry.MustRegister(m.LocationUpdates)
	m.registry.MustRegister(m.LocationErrors)

	m.registry.MustRegister(m.HostConnections)
	m.registry.MustRegister(m.CommandsTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
