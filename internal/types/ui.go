package types

import "posecam-go/internal/wireframe"

// OverlayMessage is broadcast to display clients once per rendered change.
type OverlayMessage struct {
	Type    string  `json:"type"`
	Version uint64  `json:"version"`
	Score   float64 `json:"score"`
	Valid   bool    `json:"valid"`
	wireframe.DrawList
}

// ConfigMessage tells a display client how to draw.
type ConfigMessage struct {
	Type          string          `json:"type"`
	SessionID     string          `json:"session_id"`
	SurfaceWidth  float64         `json:"surface_width"`
	SurfaceHeight float64         `json:"surface_height"`
	DisplayRate   float64         `json:"display_rate_hz"`
	Style         wireframe.Style `json:"style"`
}
