// Package landmark holds the fixed BlazePose keypoint enumeration and the
// skeletal connection table used to draw it.
package landmark

// Index names one of the 33 BlazePose keypoints.
type Index int

const (
	Nose Index = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex
)

// Count is the number of keypoints in every pose.
const Count = 33

var names = [Count]string{
	"nose",
	"left_eye_inner",
	"left_eye",
	"left_eye_outer",
	"right_eye_inner",
	"right_eye",
	"right_eye_outer",
	"left_ear",
	"right_ear",
	"mouth_left",
	"mouth_right",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_pinky",
	"right_pinky",
	"left_index",
	"right_index",
	"left_thumb",
	"right_thumb",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
	"left_heel",
	"right_heel",
	"left_foot_index",
	"right_foot_index",
}

func (i Index) String() string {
	if !i.Valid() {
		return "unknown"
	}
	return names[i]
}

func (i Index) Valid() bool {
	return i >= 0 && i < Count
}

// Connection is an unordered pair of keypoints joined by a skeletal edge.
type Connection struct {
	A Index
	B Index
}

// Touches reports whether idx is one of the connection's endpoints.
func (c Connection) Touches(idx Index) bool {
	return c.A == idx || c.B == idx
}

var connections = [...]Connection{
	// torso
	{LeftShoulder, RightShoulder},
	{LeftShoulder, LeftHip},
	{RightShoulder, RightHip},
	{LeftHip, RightHip},
	// arms
	{LeftShoulder, LeftElbow},
	{LeftElbow, LeftWrist},
	{RightShoulder, RightElbow},
	{RightElbow, RightWrist},
	// hands
	{LeftWrist, LeftIndex},
	{RightWrist, RightIndex},
	// legs
	{LeftHip, LeftKnee},
	{LeftKnee, LeftAnkle},
	{RightHip, RightKnee},
	{RightKnee, RightAnkle},
	// feet
	{LeftAnkle, LeftHeel},
	{LeftHeel, LeftFootIndex},
	{RightAnkle, RightHeel},
	{RightHeel, RightFootIndex},
	// face
	{MouthLeft, MouthRight},
}

// ConnectionCount is the size of the fixed connection table.
const ConnectionCount = len(connections)

// Connections returns the connection table in drawing order. The returned
// array is a copy; the table itself never changes.
func Connections() [ConnectionCount]Connection {
	return connections
}
