package web

import (
	"encoding/json"
	"time"
)

// Outbound message types
const (
	TypeView    = "view"
	TypeCommand = "command"
	TypeError   = "error"
)

// Inbound message types
const (
	TypeStart         = "start"
	TypeEnd           = "end"
	TypeTogglePanel   = "toggle_panel"
	TypeClosePanel    = "close_panel"
	TypePosition      = "position"
	TypePositionError = "position_error"
	TypeMapStatus     = "map_status"
)

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// PositionMessage is a fix reported by the host
type PositionMessage struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy,omitempty"`
}

// PositionErrorMessage is a location failure reported by the host. Code is
// the browser numeric code or its name.
type PositionErrorMessage struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

// MapStatusMessage reports the map provider load state
type MapStatusMessage struct {
	Status string `json:"status"`
}

func encode(msgType string, data any) ([]byte, error) {
	return json.Marshal(outgoingMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}
