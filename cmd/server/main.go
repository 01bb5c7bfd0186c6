package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/stuartshay/walk-tracker/internal/calculator"
	"github.com/stuartshay/walk-tracker/internal/config"
	"github.com/stuartshay/walk-tracker/internal/database"
	"github.com/stuartshay/walk-tracker/internal/geolocation"
	grpcserver "github.com/stuartshay/walk-tracker/internal/grpc"
	"github.com/stuartshay/walk-tracker/internal/metrics"
	"github.com/stuartshay/walk-tracker/internal/render"
	"github.com/stuartshay/walk-tracker/internal/tracing"
	"github.com/stuartshay/walk-tracker/internal/tracker"
	"github.com/stuartshay/walk-tracker/internal/web"
)

// version is set at build time
var version = "dev"

func main() {
	// Initialize structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	log.Info().Str("version", version).Msg("Starting walk-tracker service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	setLogLevel(cfg.LogLevel)

	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Str("grpc_port", cfg.GRPCPort).
		Str("http_port", cfg.HTTPPort).
		Str("geo_source", cfg.GeoSource).
		Float64("center_lat", cfg.MapCenterLatitude).
		Float64("center_lon", cfg.MapCenterLongitude).
		Msg("Configuration loaded")

	// Initialize tracing
	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	m := metrics.New()
	hub := web.NewHub()

	// Select the location source
	sources, err := newSources(rootCtx, cfg, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize location source")
	}

	walkTracker := tracker.New(tracker.Options{
		Source:       sources.source,
		MapConfig:    mapConfig(cfg),
		MapStatus:    render.MapLoading,
		WatchOptions: watchOptions(cfg),
		LoopCapacity: cfg.EventLoopCapacity,
		Metrics:      m,
	})

	// Show the initial position once a fix is available
	go func() {
		ctx, cancel := context.WithTimeout(rootCtx, 2*time.Minute)
		defer cancel()
		if err := walkTracker.Locate(ctx); err != nil {
			log.Warn().Err(err).Msg("Initial position unavailable")
		}
	}()

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))

	// Register walk service
	walkServer := grpcserver.NewServer(walkTracker, sources.hostFeed, m)
	grpcserver.RegisterWalkServiceServer(grpcServer, walkServer)

	// Register health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcserver.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable server reflection for debugging
	reflection.Register(grpcServer)

	// Start gRPC server
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create TCP listener")
	}

	go func() {
		log.Info().Str("port", cfg.GRPCPort).Msg("gRPC server listening")
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	// Start HTTP server
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: web.NewServer(web.Options{
			ServiceName:  cfg.ServiceName,
			MapAPIKey:    cfg.MapAPIKey,
			MapLibraries: cfg.MapLibraries,
			MapConfig:    mapConfig(cfg),
			Tracker:      walkTracker,
			Feed:         sources.hostFeed,
			Hub:          hub,
			Metrics:      m,
			Checks:       sources.checks,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received, gracefully stopping...")
	healthServer.Shutdown()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop gRPC server
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	case <-stopped:
		log.Info().Msg("gRPC server stopped")
	}

	// Stop HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}

	// End any walk and stop the event loop
	if err := walkTracker.Shutdown(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown walk tracker")
	}

	cancelRoot()
	sources.close()

	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown tracer")
	}

	log.Info().Msg("Service shutdown complete")
}

// sourceSet is the location source selected by configuration together with
// what the rest of the service needs to know about it
type sourceSet struct {
	source geolocation.Source
	// hostFeed accepts positions from hosts; nil unless the source is browser
	hostFeed *geolocation.Feed
	checks   map[string]web.ReadinessCheck
	closers  []func()
}

func (s *sourceSet) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newSources builds the configured location source
func newSources(ctx context.Context, cfg *config.Config, hub *web.Hub) (*sourceSet, error) {
	set := &sourceSet{checks: map[string]web.ReadinessCheck{}}

	switch cfg.GeoSource {
	case config.SourceBrowser:
		feed := geolocation.NewFeed(hub.Notify)
		set.source = feed
		set.hostFeed = feed
		set.closers = append(set.closers, feed.Close)

	case config.SourceReplay:
		dbClient, err := database.NewClient(cfg.DatabaseDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database client: %w", err)
		}

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := dbClient.HealthCheck(checkCtx); err != nil {
			_ = dbClient.Close()
			return nil, fmt.Errorf("database health check failed: %w", err)
		}
		log.Info().Msg("Database health check passed")

		count, err := dbClient.GetLocationCount(checkCtx, cfg.ReplayDate, cfg.ReplayDeviceID)
		if err != nil {
			_ = dbClient.Close()
			return nil, fmt.Errorf("failed to count recorded locations: %w", err)
		}
		if count == 0 {
			log.Warn().Str("date", cfg.ReplayDate).Msg("No recorded locations to replay")
		}

		replay := geolocation.NewReplay(dbClient, cfg.ReplayDate, cfg.ReplayDeviceID, cfg.ReplayInterval)
		set.source = replay
		set.checks["database"] = dbClient.HealthCheck
		set.closers = append(set.closers,
			func() {
				if err := dbClient.Close(); err != nil {
					log.Error().Err(err).Msg("Failed to close database client")
				}
			},
			replay.Close,
		)

		log.Info().
			Str("date", cfg.ReplayDate).
			Str("device_id", cfg.ReplayDeviceID).
			Int("locations", count).
			Dur("interval", cfg.ReplayInterval).
			Msg("Replaying recorded locations")

	case config.SourceKafka:
		reader := geolocation.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		feed := geolocation.NewKafkaFeed(reader)
		set.source = feed
		set.closers = append(set.closers, func() {
			if err := feed.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Kafka reader")
			}
		})

		go func() {
			if err := feed.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Kafka location consumer stopped")
			}
		}()

		log.Info().
			Strs("brokers", cfg.KafkaBrokers).
			Str("topic", cfg.KafkaTopic).
			Msg("Consuming locations from Kafka")

	case config.SourceNone:
		log.Warn().Msg("Geolocation disabled, walks cannot be started")

	default:
		return nil, fmt.Errorf("unknown location source %q", cfg.GeoSource)
	}

	return set, nil
}

// mapConfig returns the presentation settings with the configured center
func mapConfig(cfg *config.Config) render.MapConfig {
	m := render.DefaultMapConfig()
	m.DefaultCenter = calculator.Coordinate{
		Latitude:  cfg.MapCenterLatitude,
		Longitude: cfg.MapCenterLongitude,
	}
	m.Level = cfg.MapLevel
	return m
}

// watchOptions returns the options for the walk location subscription
func watchOptions(cfg *config.Config) geolocation.Options {
	return geolocation.Options{
		HighAccuracy: cfg.GeoHighAccuracy,
		Timeout:      cfg.GeoTimeout,
		MaximumAge:   cfg.GeoMaximumAge,
	}
}

// setLogLevel configures the global log level
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Info().Str("level", level).Msg("Log level set")
}
