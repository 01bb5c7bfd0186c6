// Package walk implements the live walk session: a small state machine that
// owns the location subscription, accumulates the traveled path and distance,
// and records start and end times.
//
// A Session is not safe for concurrent use. All calls, including the location
// callbacks it registers, must run on one logical thread; route callbacks
// through a Dispatcher that serializes them with the other operations.
package walk

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/stuartshay/walk-tracker/internal/calculator"
	"github.com/stuartshay/walk-tracker/internal/geolocation"
)

// Status is the lifecycle state of a walk
type Status string

// Walk lifecycle states
const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Dispatcher hands a callback to the thread that owns the session
type Dispatcher func(fn func())

// Inline runs callbacks on the caller's goroutine
func Inline(fn func()) { fn() }

// Session is the walk state machine
type Session struct {
	id             string
	status         Status
	path           []calculator.Coordinate
	distanceMeters float64
	startedAt      *time.Time
	endedAt        *time.Time
	position       *calculator.Coordinate
	panelAnchor    *calculator.Coordinate
	panelOpen      bool

	source     geolocation.Source
	watchOpts  geolocation.Options
	watchID    geolocation.WatchID
	watching   bool
	generation uint64

	dispatch Dispatcher
	observer Observer
	now      func() time.Time
}

// Option configures a Session
type Option func(*Session)

// WithDispatcher routes location callbacks through d
func WithDispatcher(d Dispatcher) Option {
	return func(s *Session) { s.dispatch = d }
}

// WithObserver registers the event observer
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithWatchOptions overrides the subscription options
func WithWatchOptions(opts geolocation.Options) Option {
	return func(s *Session) { s.watchOpts = opts }
}

// NewSession creates an Idle session. A nil source means geolocation is
// unavailable and Start will be a no-op.
func NewSession(source geolocation.Source, opts ...Option) *Session {
	s := &Session{
		status:    StatusIdle,
		source:    source,
		watchOpts: geolocation.DefaultWatchOptions(),
		dispatch:  Inline,
		observer:  func(Event) {},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a new walk from any state. It releases any prior subscription,
// resets the path, distance and timestamps, subscribes to the location source
// and moves to Active. The prior subscription is released before a new one is
// requested. It returns false when the source is unavailable or refuses the
// subscription, leaving status and path as they were; a refused restart thus
// leaves an Active walk without a subscription until End.
func (s *Session) Start() bool {
	if s.source == nil {
		return false
	}

	s.teardown()

	s.generation++
	gen := s.generation

	id, err := s.source.Watch(
		func(coord calculator.Coordinate) {
			s.dispatch(func() { s.applyUpdate(gen, coord) })
		},
		func(err error) {
			s.dispatch(func() { s.applyError(gen, err) })
		},
		s.watchOpts,
	)
	if err != nil {
		s.notify(Event{Kind: EventLocationError, Err: err})
		return false
	}

	now := s.now()
	s.id = uuid.NewString()
	s.status = StatusActive
	s.path = nil
	s.distanceMeters = 0
	s.startedAt = &now
	s.endedAt = nil
	s.panelAnchor = nil
	s.panelOpen = false
	s.watchID = id
	s.watching = true

	s.notify(Event{Kind: EventStarted})
	return true
}

// OnLocationUpdate applies a position to the active walk. It is ignored
// unless the session is Active.
func (s *Session) OnLocationUpdate(coord calculator.Coordinate) {
	s.applyUpdate(s.generation, coord)
}

// OnLocationError records a location acquisition error. It never changes the
// session status.
func (s *Session) OnLocationError(err error) {
	s.applyError(s.generation, err)
}

// End finishes the active walk. It unsubscribes, stamps the end time, moves
// to Ended and opens the results panel at the last path point when the path
// is non-empty. It returns false and does nothing unless the session is Active.
func (s *Session) End() bool {
	if s.status != StatusActive {
		return false
	}

	s.teardown()

	now := s.now()
	s.endedAt = &now
	s.status = StatusEnded

	if n := len(s.path); n > 0 {
		anchor := s.path[n-1]
		s.panelAnchor = &anchor
		s.panelOpen = true
	}

	s.notify(Event{Kind: EventEnded})
	return true
}

// TogglePanel flips results panel visibility. Only meaningful once Ended.
func (s *Session) TogglePanel() bool {
	if s.status != StatusEnded {
		return false
	}
	s.panelOpen = !s.panelOpen
	s.notify(Event{Kind: EventPanelChanged})
	return true
}

// ClosePanel hides the results panel
func (s *Session) ClosePanel() bool {
	if s.status != StatusEnded || !s.panelOpen {
		return false
	}
	s.panelOpen = false
	s.notify(Event{Kind: EventPanelChanged})
	return true
}

// ApplyInitialFix sets the displayed position from the one-shot query made at
// startup. A fix that arrives after the walk has recorded points is dropped.
func (s *Session) ApplyInitialFix(coord calculator.Coordinate) bool {
	if len(s.path) > 0 {
		return false
	}
	s.position = &coord
	s.notify(Event{Kind: EventPositionChanged, Coordinate: coord})
	return true
}

// Snapshot returns a copy of the session state
func (s *Session) Snapshot() State {
	st := State{
		ID:             s.id,
		Status:         s.status,
		DistanceMeters: s.distanceMeters,
		PanelOpen:      s.panelOpen,
		Subscribed:     s.watching,
	}
	if len(s.path) > 0 {
		st.Path = append([]calculator.Coordinate(nil), s.path...)
	}
	st.StartedAt = copyTime(s.startedAt)
	st.EndedAt = copyTime(s.endedAt)
	st.Position = copyCoordinate(s.position)
	st.PanelAnchor = copyCoordinate(s.panelAnchor)
	return st
}

// Available reports whether a location source is present
func (s *Session) Available() bool {
	return s.source != nil
}

// Status returns the current lifecycle state
func (s *Session) Status() Status {
	return s.status
}

func (s *Session) applyUpdate(gen uint64, coord calculator.Coordinate) {
	if gen != s.generation || s.status != StatusActive {
		s.notify(Event{Kind: EventUpdateIgnored, Coordinate: coord})
		return
	}

	var delta float64
	if n := len(s.path); n > 0 {
		delta = calculator.Haversine(s.path[n-1], coord)
		s.distanceMeters += delta
	}
	s.path = append(s.path, coord)
	s.position = &coord

	s.notify(Event{Kind: EventPositionApplied, Coordinate: coord, DeltaMeters: delta})
}

func (s *Session) applyError(gen uint64, err error) {
	if gen != s.generation {
		return
	}
	s.notify(Event{Kind: EventLocationError, Err: err})
}

// teardown releases the subscription and invalidates its pending callbacks
func (s *Session) teardown() {
	if !s.watching {
		return
	}
	s.source.ClearWatch(s.watchID)
	s.watching = false
	s.watchID = ""
	s.generation++
}

func (s *Session) notify(e Event) {
	e.Status = s.status
	s.observer(e)
}

// State is an immutable view of a session
type State struct {
	ID             string                  `json:"id,omitempty"`
	Status         Status                  `json:"status"`
	Path           []calculator.Coordinate `json:"path"`
	DistanceMeters float64                 `json:"distanceMeters"`
	StartedAt      *time.Time              `json:"startedAt,omitempty"`
	EndedAt        *time.Time              `json:"endedAt,omitempty"`
	Position       *calculator.Coordinate  `json:"position,omitempty"`
	PanelAnchor    *calculator.Coordinate  `json:"panelAnchor,omitempty"`
	PanelOpen      bool                    `json:"panelOpen"`
	Subscribed     bool                    `json:"subscribed"`
}

// ElapsedSeconds is the walk duration rounded to whole seconds, or 0 until
// the walk has both started and ended
func (st State) ElapsedSeconds() int64 {
	if st.StartedAt == nil || st.EndedAt == nil {
		return 0
	}
	ms := st.EndedAt.Sub(*st.StartedAt).Milliseconds()
	return int64(math.Round(float64(ms) / 1000))
}

// PanelVisible reports whether the results panel should be drawn
func (st State) PanelVisible() bool {
	return st.Status == StatusEnded && st.PanelOpen && st.PanelAnchor != nil && len(st.Path) > 0
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyCoordinate(c *calculator.Coordinate) *calculator.Coordinate {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}
