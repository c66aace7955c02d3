// Package posestate holds the current pose shared between the frame path
// and the render path.
package posestate

import (
	"math"

	"posecam-go/internal/landmark"
)

// ConfidenceThreshold is the minimum whole-pose score for a pose to be drawn.
const ConfidenceThreshold = 0.5

// Landmark is one keypoint. X and Y are normalized to the frame ([0,1]);
// Z is relative depth and is not used for 2D drawing.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// State is a full pose for one frame. Landmarks is indexed by
// landmark.Index and always holds landmark.Count entries.
type State struct {
	Landmarks [landmark.Count]Landmark `json:"landmarks"`
	Score     float64                  `json:"score"`
	IsValid   bool                     `json:"is_valid"`
}

// Default is the "no pose detected" state: zeroed landmarks, zero score.
func Default() State {
	return State{}
}

// Valid reports whether score clears ConfidenceThreshold.
func Valid(score float64) bool {
	return score >= ConfidenceThreshold
}

// VisibleCount is the number of landmarks at or above the drawing
// visibility threshold.
func (s *State) VisibleCount(threshold float64) int {
	n := 0
	for i := range s.Landmarks {
		if s.Landmarks[i].Visibility >= threshold {
			n++
		}
	}
	return n
}

func usableScore(score float64) bool {
	return score != 0 && !math.IsNaN(score) && !math.IsInf(score, 0)
}
