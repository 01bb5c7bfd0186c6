// Package render turns walk state into a declarative description of the UI:
// the map with its marker, path and results overlay, and the walk controls.
// Rendering is a pure function; hosts draw the returned tree however they like.
package render

import (
	"fmt"

	"github.com/stuartshay/walk-tracker/internal/calculator"
	"github.com/stuartshay/walk-tracker/internal/walk"
)

// MapStatus is the load state of the external map provider
type MapStatus string

// Map provider states
const (
	MapLoading MapStatus = "loading"
	MapReady   MapStatus = "ready"
	MapFailed  MapStatus = "error"
)

// Valid reports whether s is a known map status
func (s MapStatus) Valid() bool {
	switch s {
	case MapLoading, MapReady, MapFailed:
		return true
	}
	return false
}

// Host actions bound to controls
const (
	ActionStart       = "start"
	ActionEnd         = "end"
	ActionTogglePanel = "toggle_panel"
	ActionClosePanel  = "close_panel"
)

// MapConfig holds the fixed presentation settings
type MapConfig struct {
	DefaultCenter calculator.Coordinate
	Level         int
	StrokeWeight  int
	ActiveColor   string
	EndedColor    string
	StrokeOpacity float64
	StrokeStyle   string
	OverlayX      float64
	OverlayY      float64
}

// DefaultMapConfig centers on Seoul City Hall
func DefaultMapConfig() MapConfig {
	return MapConfig{
		DefaultCenter: calculator.Coordinate{Latitude: 37.5665, Longitude: 126.978},
		Level:         4,
		StrokeWeight:  6,
		ActiveColor:   "#FFA500",
		EndedColor:    "#666",
		StrokeOpacity: 0.6,
		StrokeStyle:   "solid",
		OverlayX:      0.5,
		OverlayY:      1.2,
	}
}

// Page is the top of the render tree
type Page struct {
	Status MapStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
	View   *View     `json:"view,omitempty"`
}

// View is the walk screen
type View struct {
	Title    string   `json:"title"`
	WalkID   string   `json:"walkId,omitempty"`
	Walk     string   `json:"walk"`
	Map      Map      `json:"map"`
	Controls Controls `json:"controls"`
}

// LatLng is a map position
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Map describes the map surface props
type Map struct {
	Center   LatLng    `json:"center"`
	Level    int       `json:"level"`
	Marker   *Marker   `json:"marker,omitempty"`
	Polyline *Polyline `json:"polyline,omitempty"`
	Overlay  *Overlay  `json:"overlay,omitempty"`
}

// Marker is the current-position marker
type Marker struct {
	Position LatLng `json:"position"`
	OnClick  string `json:"onClick"`
}

// Polyline is the traveled path
type Polyline struct {
	Path          []LatLng `json:"path"`
	StrokeWeight  int      `json:"strokeWeight"`
	StrokeColor   string   `json:"strokeColor"`
	StrokeOpacity float64  `json:"strokeOpacity"`
	StrokeStyle   string   `json:"strokeStyle"`
}

// Overlay is a floating element anchored to a map coordinate
type Overlay struct {
	Position LatLng  `json:"position"`
	XAnchor  float64 `json:"xAnchor"`
	YAnchor  float64 `json:"yAnchor"`
	Panel    Panel   `json:"panel"`
}

// Panel is the walk results card
type Panel struct {
	Title          string  `json:"title"`
	ElapsedSeconds int64   `json:"elapsedSeconds"`
	Elapsed        string  `json:"elapsed"`
	DistanceMeters float64 `json:"distanceMeters"`
	Distance       string  `json:"distance"`
	OnClose        string  `json:"onClose"`
}

// Controls are the walk buttons
type Controls struct {
	Start Button `json:"start"`
	End   Button `json:"end"`
}

// Button is a host control
type Button struct {
	Label   string `json:"label"`
	Action  string `json:"action"`
	Enabled bool   `json:"enabled"`
}

// Render builds the page for a session state
func Render(st walk.State, cfg MapConfig, status MapStatus) Page {
	switch status {
	case MapFailed:
		return Page{Status: MapFailed, Error: "map provider failed to load"}
	case MapLoading:
		return Page{Status: MapLoading}
	}

	view := RenderView(st, cfg)
	return Page{Status: MapReady, View: &view}
}

// RenderView builds the walk screen regardless of map provider state
func RenderView(st walk.State, cfg MapConfig) View {
	center := cfg.DefaultCenter
	if st.Position != nil {
		center = *st.Position
	}

	active := st.Status == walk.StatusActive

	v := View{
		Title:  "Live walk tracker",
		WalkID: st.ID,
		Walk:   string(st.Status),
		Map: Map{
			Center: toLatLng(center),
			Level:  cfg.Level,
			Marker: &Marker{Position: toLatLng(center), OnClick: ActionTogglePanel},
		},
		Controls: Controls{
			Start: Button{Label: "Start walk", Action: ActionStart, Enabled: !active},
			End:   Button{Label: "End walk", Action: ActionEnd, Enabled: active},
		},
	}

	if len(st.Path) > 1 {
		color := cfg.EndedColor
		if active {
			color = cfg.ActiveColor
		}
		v.Map.Polyline = &Polyline{
			Path:          toLatLngs(st.Path),
			StrokeWeight:  cfg.StrokeWeight,
			StrokeColor:   color,
			StrokeOpacity: cfg.StrokeOpacity,
			StrokeStyle:   cfg.StrokeStyle,
		}
	}

	if st.PanelVisible() {
		secs := st.ElapsedSeconds()
		v.Map.Overlay = &Overlay{
			Position: toLatLng(*st.PanelAnchor),
			XAnchor:  cfg.OverlayX,
			YAnchor:  cfg.OverlayY,
			Panel: Panel{
				Title:          "Walk finished",
				ElapsedSeconds: secs,
				Elapsed:        fmt.Sprintf("%ds", secs),
				DistanceMeters: st.DistanceMeters,
				Distance:       calculator.Kilometers(st.DistanceMeters),
				OnClose:        ActionClosePanel,
			},
		}
	}

	return v
}

// BareMap is the bare map mount used to check provider wiring: the default
// center at level 3 with no marker, path or walk controls.
func BareMap(cfg MapConfig) Map {
	return Map{
		Center: toLatLng(cfg.DefaultCenter),
		Level:  3,
	}
}

func toLatLng(c calculator.Coordinate) LatLng {
	return LatLng{Lat: c.Latitude, Lng: c.Longitude}
}

func toLatLngs(path []calculator.Coordinate) []LatLng {
	out := make([]LatLng, len(path))
	for i, c := range path {
		out[i] = toLatLng(c)
	}
	return out
}
