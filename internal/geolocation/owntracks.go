package geolocation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stuartshay/walk-tracker/internal/calculator"
)

// ErrNotLocation is returned for OwnTracks messages other than _type=location
var ErrNotLocation = errors.New("owntracks message is not a location")

// OwnTracksLocation is the subset of the OwnTracks location payload we use
type OwnTracksLocation struct {
	Type      string  `json:"_type"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Accuracy  int     `json:"acc"`
	Timestamp int64   `json:"tst"`
	TID       string  `json:"tid"`
}

// Coordinate returns the fix position
func (l OwnTracksLocation) Coordinate() calculator.Coordinate {
	return calculator.Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}

// RecordedAt returns the device timestamp
func (l OwnTracksLocation) RecordedAt() time.Time {
	return time.Unix(l.Timestamp, 0).UTC()
}

// DecodeOwnTracks parses an OwnTracks JSON payload
func DecodeOwnTracks(payload []byte) (OwnTracksLocation, error) {
	var loc OwnTracksLocation
	if err := json.Unmarshal(payload, &loc); err != nil {
		return OwnTracksLocation{}, fmt.Errorf("failed to decode owntracks payload: %w", err)
	}
	if loc.Type != "location" {
		return OwnTracksLocation{}, ErrNotLocation
	}
	return loc, nil
}
