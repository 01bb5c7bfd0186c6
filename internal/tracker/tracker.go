// Package tracker runs the walk session on the event loop and connects it to
// the rest of the service: commands from transports, location callbacks,
// metrics, tracing and view publication.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stuartshay/walk-tracker/internal/eventloop"
	"github.com/stuartshay/walk-tracker/internal/geolocation"
	"github.com/stuartshay/walk-tracker/internal/metrics"
	"github.com/stuartshay/walk-tracker/internal/render"
	"github.com/stuartshay/walk-tracker/internal/tracing"
	"github.com/stuartshay/walk-tracker/internal/walk"
)

// ErrInvalidMapStatus is returned by SetMapStatus for unknown states
var ErrInvalidMapStatus = errors.New("invalid map status")

// Listener receives every newly rendered page. It runs on the event loop and
// must not block or call back into the Tracker.
type Listener func(render.Page)

// Options configure a Tracker
type Options struct {
	Source        geolocation.Source
	MapConfig     render.MapConfig
	MapStatus     render.MapStatus
	WatchOptions  geolocation.Options
	LocateOptions geolocation.Options
	// LoopCapacity bounds queued work. Location fixes and errors that arrive
	// while the queue is full are dropped and counted, never blocked on.
	LoopCapacity  int
	Metrics       *metrics.Metrics
	Clock         func() time.Time
}

// Tracker owns the walk session and serializes all access to it
type Tracker struct {
	loop       *eventloop.Loop
	session    *walk.Session
	source     geolocation.Source
	mapCfg     render.MapConfig
	locateOpts geolocation.Options
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	// owned by the event loop
	mapStatus render.MapStatus

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// New creates a tracker and starts its event loop
func New(opts Options) *Tracker {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.MapStatus == "" {
		opts.MapStatus = render.MapLoading
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.WatchOptions == (geolocation.Options{}) {
		opts.WatchOptions = geolocation.DefaultWatchOptions()
	}
	if opts.LocateOptions == (geolocation.Options{}) {
		opts.LocateOptions = geolocation.DefaultLocateOptions()
	}

	t := &Tracker{
		loop:       eventloop.New(opts.LoopCapacity),
		source:     opts.Source,
		mapCfg:     opts.MapConfig,
		locateOpts: opts.LocateOptions,
		metrics:    opts.Metrics,
		tracer:     tracing.Tracer(),
		mapStatus:  opts.MapStatus,
		listeners:  make(map[int]Listener),
	}

	t.session = walk.NewSession(opts.Source,
		walk.WithDispatcher(t.dispatch),
		walk.WithObserver(t.observe),
		walk.WithWatchOptions(opts.WatchOptions),
		walk.WithClock(opts.Clock),
	)

	return t
}

// Start begins a walk. When geolocation is unavailable nothing changes and no
// error is returned; the page simply stays as it was.
func (t *Tracker) Start(ctx context.Context) (render.Page, error) {
	ctx, span := t.tracer.Start(ctx, "walk.start")
	defer span.End()

	var (
		page      render.Page
		started   bool
		available bool
	)
	err := t.loop.Do(ctx, func() {
		available = t.session.Available()
		started = t.session.Start()
		page = t.current()
	})
	if err != nil {
		return render.Page{}, t.fail(span, "start", err)
	}

	span.SetAttributes(attribute.Bool("walk.started", started))

	switch {
	case !available:
		t.metrics.StartsSkipped.WithLabelValues("unavailable").Inc()
		log.Debug().Msg("Geolocation unavailable, start ignored")
	case !started:
		t.metrics.StartsSkipped.WithLabelValues("refused").Inc()
	}

	return page, nil
}

// End finishes the active walk. Ending while not walking is a no-op.
func (t *Tracker) End(ctx context.Context) (render.Page, error) {
	return t.command(ctx, "walk.end", func() bool { return t.session.End() })
}

// TogglePanel flips the results panel once a walk has ended
func (t *Tracker) TogglePanel(ctx context.Context) (render.Page, error) {
	return t.command(ctx, "walk.toggle_panel", func() bool { return t.session.TogglePanel() })
}

// ClosePanel hides the results panel
func (t *Tracker) ClosePanel(ctx context.Context) (render.Page, error) {
	return t.command(ctx, "walk.close_panel", func() bool { return t.session.ClosePanel() })
}

// SetMapStatus records the map provider load state reported by the host
func (t *Tracker) SetMapStatus(ctx context.Context, status render.MapStatus) (render.Page, error) {
	if !status.Valid() {
		return render.Page{}, fmt.Errorf("%w: %q", ErrInvalidMapStatus, status)
	}

	var page render.Page
	err := t.loop.Do(ctx, func() {
		changed := t.mapStatus != status
		t.mapStatus = status
		if changed {
			log.Info().Str("map_status", string(status)).Msg("Map provider status changed")
			t.publish()
		}
		page = t.current()
	})
	if err != nil {
		return render.Page{}, err
	}
	return page, nil
}

// Locate performs the one-shot initial position query and shows the result
// on the map. Errors are diagnostics: they are logged, counted and returned.
func (t *Tracker) Locate(ctx context.Context) error {
	if t.source == nil {
		return nil
	}

	ctx, span := t.tracer.Start(ctx, "walk.locate")
	defer span.End()

	coord, err := t.source.CurrentPosition(ctx, t.locateOpts)
	if err != nil {
		t.recordLocationError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "initial position unavailable")
		return fmt.Errorf("initial position: %w", err)
	}

	span.SetAttributes(
		attribute.Float64("geo.latitude", coord.Latitude),
		attribute.Float64("geo.longitude", coord.Longitude),
	)

	return t.loop.Do(ctx, func() { t.session.ApplyInitialFix(coord) })
}

// Page returns the current render tree
func (t *Tracker) Page(ctx context.Context) (render.Page, error) {
	var page render.Page
	if err := t.loop.Do(ctx, func() { page = t.current() }); err != nil {
		return render.Page{}, err
	}
	return page, nil
}

// State returns a snapshot of the walk session
func (t *Tracker) State(ctx context.Context) (walk.State, error) {
	var st walk.State
	if err := t.loop.Do(ctx, func() { st = t.session.Snapshot() }); err != nil {
		return walk.State{}, err
	}
	return st, nil
}

// Subscribe registers a page listener and returns its cancel function. The
// listener first receives the current page, then every page published after.
func (t *Tracker) Subscribe(l Listener) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = l
	t.mu.Unlock()

	if err := t.loop.Post(func() { l(t.current()) }); err != nil {
		log.Warn().Err(err).Msg("Failed to deliver initial page")
	}

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// LoopStats exposes event loop counters
func (t *Tracker) LoopStats() eventloop.Stats {
	return t.loop.Stats()
}

// Shutdown ends any active walk subscription and stops the event loop
func (t *Tracker) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := t.loop.Do(ctx, func() { t.session.End() }); err != nil && !errors.Is(err, eventloop.ErrClosed) {
		log.Warn().Err(err).Msg("Failed to end walk during shutdown")
	}

	return t.loop.Shutdown(timeout)
}

func (t *Tracker) command(ctx context.Context, name string, fn func() bool) (render.Page, error) {
	ctx, span := t.tracer.Start(ctx, name)
	defer span.End()

	var (
		page    render.Page
		applied bool
	)
	err := t.loop.Do(ctx, func() {
		applied = fn()
		page = t.current()
	})
	if err != nil {
		return render.Page{}, t.fail(span, name, err)
	}

	span.SetAttributes(attribute.Bool("walk.applied", applied))
	return page, nil
}

func (t *Tracker) fail(span trace.Span, name string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	log.Error().Err(err).Str("command", name).Msg("Walk command failed")
	return fmt.Errorf("%s: %w", name, err)
}

// dispatch moves location callbacks onto the event loop. A full loop drops
// the callback so the location source is never blocked.
func (t *Tracker) dispatch(fn func()) {
	if err := t.loop.Post(fn); err != nil {
		t.metrics.LocationUpdates.WithLabelValues("dropped").Inc()
		log.Warn().Err(err).Msg("Dropped location callback")
	}
}

// observe runs on the event loop for every session event
func (t *Tracker) observe(e walk.Event) {
	switch e.Kind {
	case walk.EventStarted:
		st := t.session.Snapshot()
		t.metrics.WalksStarted.Inc()
		t.metrics.WalkActive.Set(1)
		log.Info().Str("walk_id", st.ID).Msg("Walk started")

	case walk.EventEnded:
		st := t.session.Snapshot()
		t.metrics.WalksEnded.Inc()
		t.metrics.WalkActive.Set(0)
		t.metrics.WalkDistance.Observe(st.DistanceMeters)
		t.metrics.WalkDuration.Observe(float64(st.ElapsedSeconds()))
		log.Info().
			Str("walk_id", st.ID).
			Float64("distance_m", st.DistanceMeters).
			Int64("elapsed_s", st.ElapsedSeconds()).
			Int("points", len(st.Path)).
			Msg("Walk ended")

	case walk.EventPositionApplied:
		t.metrics.LocationUpdates.WithLabelValues("applied").Inc()
		log.Debug().
			Float64("lat", e.Coordinate.Latitude).
			Float64("lon", e.Coordinate.Longitude).
			Float64("delta_m", e.DeltaMeters).
			Msg("Location update applied")

	case walk.EventUpdateIgnored:
		t.metrics.LocationUpdates.WithLabelValues("ignored").Inc()
		log.Debug().Str("status", string(e.Status)).Msg("Location update ignored")
		return

	case walk.EventLocationError:
		t.recordLocationError(e.Err)
		return
	}

	t.publish()
}

func (t *Tracker) recordLocationError(err error) {
	code := "unknown"
	var posErr *geolocation.PositionError
	if errors.As(err, &posErr) {
		code = posErr.Code.String()
	}
	t.metrics.LocationErrors.WithLabelValues(code).Inc()
	log.Warn().Err(err).Str("code", code).Msg("Location acquisition error")
}

// current renders the page; event loop only
func (t *Tracker) current() render.Page {
	return render.Render(t.session.Snapshot(), t.mapCfg, t.mapStatus)
}

// publish sends the current page to every listener; event loop only
func (t *Tracker) publish() {
	t.mu.RLock()
	if len(t.listeners) == 0 {
		t.mu.RUnlock()
		return
	}
	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.RUnlock()

	page := t.current()
	for _, l := range listeners {
		l(page)
	}
}
