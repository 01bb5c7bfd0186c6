package walk

import "github.com/stuartshay/walk-tracker/internal/calculator"

// EventKind identifies a session event
type EventKind string

// Session events
const (
	EventStarted         EventKind = "started"
	EventEnded           EventKind = "ended"
	EventPositionApplied EventKind = "position_applied"
	EventPositionChanged EventKind = "position_changed"
	EventUpdateIgnored   EventKind = "update_ignored"
	EventLocationError   EventKind = "location_error"
	EventPanelChanged    EventKind = "panel_changed"
)

// Event describes a state change or diagnostic. Status is the session status
// after the event.
type Event struct {
	Kind        EventKind
	Status      Status
	Coordinate  calculator.Coordinate
	DeltaMeters float64
	Err         error
}

// Observer is called synchronously on the session thread for every event
type Observer func(Event)
