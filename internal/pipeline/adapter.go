// Package pipeline turns per-frame detector output into pose state.
package pipeline

import (
	"math"
	"sync/atomic"

	"posecam-go/internal/landmark"
	"posecam-go/internal/posestate"
	"posecam-go/internal/types"
)

// Writer is the store side the adapter pushes into.
type Writer interface {
	Write(next *posestate.State)
}

// Adapter is invoked once per processed camera frame. OnFrame does a fixed
// amount of work (one pass over at most landmark.Count entries), performs
// no I/O and never blocks.
type Adapter struct {
	store Writer

	frames atomic.Uint64
	empty  atomic.Uint64
}

type Stats struct {
	Frames uint64 `json:"frames_total"`
	Empty  uint64 `json:"empty_frames_total"`
}

func NewAdapter(store Writer) *Adapter {
	return &Adapter{store: store}
}

// OnFrame normalizes raw and writes it to the store. A nil detection or a
// detection without a landmark array resets the store.
func (a *Adapter) OnFrame(raw *types.Detection) {
	a.frames.Add(1)
	if raw == nil || raw.Landmarks == nil {
		a.empty.Add(1)
		a.store.Write(nil)
		return
	}
	state := Normalize(raw)
	a.store.Write(&state)
}

func (a *Adapter) Stats() Stats {
	return Stats{
		Frames: a.frames.Load(),
		Empty:  a.empty.Load(),
	}
}

// Normalize maps a detection onto a full pose state. Coordinates stay
// normalized; scaling happens at render time. Missing entries are left
// zeroed with zero visibility and entries past landmark.Count are ignored.
func Normalize(raw *types.Detection) posestate.State {
	var state posestate.State
	if raw == nil {
		return state
	}
	state.Score = raw.PoseScore
	state.IsValid = posestate.Valid(raw.PoseScore)

	n := len(raw.Landmarks)
	if n > landmark.Count {
		n = landmark.Count
	}
	for i := 0; i < n; i++ {
		state.Landmarks[i] = normalizeLandmark(raw.Landmarks[i])
	}
	return state
}

// coordinateLimit bounds normalized coordinates. Detectors report points
// slightly outside the frame; anything far beyond is garbage and would
// overflow once scaled to pixels.
const coordinateLimit = 10

func normalizeLandmark(in types.DetectionLandmark) posestate.Landmark {
	if !usable(in.X) || !usable(in.Y) || !usable(in.Z) {
		return posestate.Landmark{}
	}
	visibility := 0.0
	if in.Visibility != nil {
		visibility = clamp01(*in.Visibility)
	}
	return posestate.Landmark{
		X:          in.X,
		Y:          in.Y,
		Z:          in.Z,
		Visibility: visibility,
	}
}

func usable(v float64) bool {
	return !math.IsNaN(v) && math.Abs(v) <= coordinateLimit
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
