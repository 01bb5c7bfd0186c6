// Package geolocation models the host platform's location service: a one-shot
// position query and a push-based watch stream cancelled by ClearWatch.
package geolocation

import (
	"context"
	"fmt"
	"time"

	"github.com/stuartshay/walk-tracker/internal/calculator"
)

// WatchID is the opaque handle of an active watch subscription
type WatchID string

// UpdateFunc receives each position delivered to a watch
type UpdateFunc func(calculator.Coordinate)

// ErrorFunc receives acquisition errors delivered to a watch
type ErrorFunc func(error)

// Source is a location service. A nil Source means the capability is absent.
type Source interface {
	CurrentPosition(ctx context.Context, opts Options) (calculator.Coordinate, error)
	Watch(onUpdate UpdateFunc, onError ErrorFunc, opts Options) (WatchID, error)
	ClearWatch(id WatchID)
}

// Options mirror the platform position options
type Options struct {
	HighAccuracy bool          `json:"enableHighAccuracy"`
	Timeout      time.Duration `json:"-"`
	MaximumAge   time.Duration `json:"-"`
}

// DefaultWatchOptions are used for the walk subscription
func DefaultWatchOptions() Options {
	return Options{
		HighAccuracy: true,
		Timeout:      5 * time.Second,
		MaximumAge:   0,
	}
}

// DefaultLocateOptions are used for the initial one-shot query
func DefaultLocateOptions() Options {
	return Options{HighAccuracy: true}
}

// ErrorCode follows the browser GeolocationPositionError codes
type ErrorCode int

// Position error codes
const (
	PermissionDenied    ErrorCode = 1
	PositionUnavailable ErrorCode = 2
	Timeout             ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission_denied"
	case PositionUnavailable:
		return "position_unavailable"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// PositionError is a location acquisition failure
type PositionError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *PositionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("geolocation: %s", e.Code)
	}
	return fmt.Sprintf("geolocation: %s: %s", e.Code, e.Message)
}

// NewPositionError builds a PositionError
func NewPositionError(code ErrorCode, message string) *PositionError {
	return &PositionError{Code: code, Message: message}
}

// ParseErrorCode accepts the numeric browser code or its name
func ParseErrorCode(s string) ErrorCode {
	switch s {
	case "1", "permission_denied":
		return PermissionDenied
	case "2", "position_unavailable":
		return PositionUnavailable
	case "3", "timeout":
		return Timeout
	default:
		return 0
	}
}
