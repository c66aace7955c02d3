package types

// DetectionLandmark is one keypoint as reported by the external detector.
// Visibility is optional on the wire; nil means the detector did not send it.
type DetectionLandmark struct {
	X          float64  `json:"x" cbor:"x"`
	Y          float64  `json:"y" cbor:"y"`
	Z          float64  `json:"z" cbor:"z"`
	Visibility *float64 `json:"visibility,omitempty" cbor:"visibility,omitempty"`
}

// Detection is one detector result for one processed camera frame.
// A nil Landmarks slice means the detector returned no landmark array.
type Detection struct {
	FrameID   uint64              `json:"frame_id" cbor:"frame_id"`
	Timestamp float64             `json:"timestamp" cbor:"timestamp"`
	PoseScore float64             `json:"pose_score" cbor:"pose_score"`
	Landmarks []DetectionLandmark `json:"landmarks" cbor:"landmarks"`
}

// RawMessage is one decoded message from the detector stream. Pose
// messages carry a Detection (nil for "no pose"); start/end messages carry
// session metadata.
type RawMessage struct {
	Type      string
	Detection *Detection
	Meta      map[string]any
}

const (
	MessagePose  = "pose"
	MessageNone  = "none"
	MessageStart = "start"
	MessageEnd   = "end"
)

// Visibility returns a pointer to v, for building detections by hand.
func Visibility(v float64) *float64 {
	return &v
}
