// Package wireframe derives abstract draw instructions for a pose overlay.
package wireframe

import (
	"posecam-go/internal/landmark"
	"posecam-go/internal/posestate"
)

// VisibilityThreshold is the minimum per-landmark confidence for a point,
// or for both endpoints of a segment, to be drawn.
const VisibilityThreshold = 0.5

// Point is a landmark marker in surface pixels.
type Point struct {
	Index landmark.Index `json:"index"`
	X     float64        `json:"x"`
	Y     float64        `json:"y"`
}

// Segment is a skeletal edge in surface pixels.
type Segment struct {
	From landmark.Index `json:"from"`
	To   landmark.Index `json:"to"`
	X1   float64        `json:"x1"`
	Y1   float64        `json:"y1"`
	X2   float64        `json:"x2"`
	Y2   float64        `json:"y2"`
}

// DrawList is everything needed to paint one overlay frame. An empty list
// means a fully transparent frame.
type DrawList struct {
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Points   []Point   `json:"points"`
	Segments []Segment `json:"segments"`
}

func (d *DrawList) Empty() bool {
	return len(d.Points) == 0 && len(d.Segments) == 0
}

// Render is a pure function of (state, width, height): identical inputs
// always produce an identical draw list. Invalid poses and non-positive
// surfaces render nothing. A low-visibility landmark hides only its own
// marker and the segments touching it.
func Render(state *posestate.State, width, height float64) DrawList {
	if width <= 0 || height <= 0 {
		return DrawList{}
	}
	out := DrawList{Width: width, Height: height}
	if state == nil || !state.IsValid {
		return out
	}

	connections := landmark.Connections()
	out.Segments = make([]Segment, 0, len(connections))
	for _, c := range connections {
		a := state.Landmarks[c.A]
		b := state.Landmarks[c.B]
		if !visible(a) || !visible(b) {
			continue
		}
		out.Segments = append(out.Segments, Segment{
			From: c.A,
			To:   c.B,
			X1:   a.X * width,
			Y1:   a.Y * height,
			X2:   b.X * width,
			Y2:   b.Y * height,
		})
	}

	out.Points = make([]Point, 0, landmark.Count)
	for i, lm := range state.Landmarks {
		if !visible(lm) {
			continue
		}
		out.Points = append(out.Points, Point{
			Index: landmark.Index(i),
			X:     lm.X * width,
			Y:     lm.Y * height,
		})
	}
	return out
}

func visible(lm posestate.Landmark) bool {
	return lm.Visibility >= VisibilityThreshold
}
