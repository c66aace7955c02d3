// Package simulator produces a synthetic detector stream of a person doing
// jumping jacks, with the dropouts a real camera produces: frames without a
// pose, low-confidence frames and a briefly occluded wrist.
package simulator

import (
	"context"
	"math"
	"math/rand"
	"time"

	"posecam-go/internal/landmark"
	"posecam-go/internal/types"
)

type Options struct {
	FPS float64
	// Period of one jumping jack.
	Period time.Duration
	// Jitter is the standard deviation of per-landmark noise.
	Jitter float64
	Seed   int64
}

const (
	defaultFPS    = 30
	defaultPeriod = 1200 * time.Millisecond

	lowScore    = 0.3
	normalScore = 0.92
)

// Stream sends a start marker and then one message per tick until ctx is
// cancelled.
func Stream(ctx context.Context, opts Options) <-chan types.RawMessage {
	if opts.FPS <= 0 {
		opts.FPS = defaultFPS
	}
	if opts.Period <= 0 {
		opts.Period = defaultPeriod
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	out := make(chan types.RawMessage)
	go func() {
		defer close(out)

		start := types.RawMessage{
			Type: types.MessageStart,
			Meta: map[string]any{"source": "simulator", "fps": opts.FPS},
		}
		select {
		case <-ctx.Done():
			return
		case out <- start:
		}

		ticker := time.NewTicker(time.Duration(float64(time.Second) / opts.FPS))
		defer ticker.Stop()

		begin := time.Now()
		var frameID uint64
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				elapsed := now.Sub(begin).Seconds()
				det := Frame(frameID, elapsed, opts.Period)
				msg := types.RawMessage{Type: types.MessageNone}
				if det != nil {
					addJitter(det, rng, opts.Jitter)
					msg = types.RawMessage{Type: types.MessagePose, Detection: det}
				}
				select {
				case <-ctx.Done():
					return
				case out <- msg:
				}
				frameID++
			}
		}
	}()
	return out
}

// Frame is the deterministic detection for frame n taken t seconds into
// the stream. It returns nil for frames where the subject has left view.
func Frame(n uint64, t float64, period time.Duration) *types.Detection {
	if n%240 >= 200 && n%240 < 215 {
		return nil
	}
	score := normalScore
	if n%97 == 96 {
		score = lowScore
	}
	phase := 0.5 - 0.5*math.Cos(2*math.Pi*t/period.Seconds())
	det := &types.Detection{
		FrameID:   n,
		Timestamp: t,
		PoseScore: score,
		Landmarks: Pose(phase),
	}
	if n%180 >= 60 && n%180 < 90 {
		det.Landmarks[landmark.LeftWrist].Visibility = types.Visibility(0.2)
	}
	return det
}

type point struct{ x, y float64 }

func (p point) add(dx, dy float64) point { return point{p.x + dx, p.y + dy} }

// Pose returns all landmarks of a jumping jack at phase in [0,1], where 0
// is standing with arms down and 1 is arms overhead with legs apart.
func Pose(phase float64) []types.DetectionLandmark {
	phase = math.Max(0, math.Min(1, phase))
	lift := -0.02 * math.Sin(math.Pi*phase)

	pts := make([]point, landmark.Count)
	head := point{0.5, 0.15 + lift}
	pts[landmark.Nose] = head
	pts[landmark.LeftEyeInner] = head.add(0.012, -0.02)
	pts[landmark.LeftEye] = head.add(0.022, -0.021)
	pts[landmark.LeftEyeOuter] = head.add(0.032, -0.02)
	pts[landmark.RightEyeInner] = head.add(-0.012, -0.02)
	pts[landmark.RightEye] = head.add(-0.022, -0.021)
	pts[landmark.RightEyeOuter] = head.add(-0.032, -0.02)
	pts[landmark.LeftEar] = head.add(0.05, -0.01)
	pts[landmark.RightEar] = head.add(-0.05, -0.01)
	pts[landmark.MouthLeft] = head.add(0.018, 0.03)
	pts[landmark.MouthRight] = head.add(-0.018, 0.03)

	lShoulder := point{0.58, 0.30 + lift}
	rShoulder := point{0.42, 0.30 + lift}
	pts[landmark.LeftShoulder] = lShoulder
	pts[landmark.RightShoulder] = rShoulder

	armAngle := phase * 0.95 * math.Pi
	limb(pts, lShoulder, armAngle, 1, 0.12, 0.11,
		landmark.LeftElbow, landmark.LeftWrist)
	limb(pts, rShoulder, armAngle, -1, 0.12, 0.11,
		landmark.RightElbow, landmark.RightWrist)
	hand(pts, armAngle, 1, landmark.LeftWrist, landmark.LeftPinky, landmark.LeftIndex, landmark.LeftThumb)
	hand(pts, armAngle, -1, landmark.RightWrist, landmark.RightPinky, landmark.RightIndex, landmark.RightThumb)

	lHip := point{0.55, 0.55 + lift}
	rHip := point{0.45, 0.55 + lift}
	pts[landmark.LeftHip] = lHip
	pts[landmark.RightHip] = rHip

	legAngle := phase * 0.35
	limb(pts, lHip, legAngle, 1, 0.18, 0.18, landmark.LeftKnee, landmark.LeftAnkle)
	limb(pts, rHip, legAngle, -1, 0.18, 0.18, landmark.RightKnee, landmark.RightAnkle)
	pts[landmark.LeftHeel] = pts[landmark.LeftAnkle].add(-0.01, 0.02)
	pts[landmark.RightHeel] = pts[landmark.RightAnkle].add(0.01, 0.02)
	pts[landmark.LeftFootIndex] = pts[landmark.LeftAnkle].add(0.03, 0.03)
	pts[landmark.RightFootIndex] = pts[landmark.RightAnkle].add(-0.03, 0.03)

	out := make([]types.DetectionLandmark, landmark.Count)
	for i, p := range pts {
		out[i] = types.DetectionLandmark{
			X:          p.x,
			Y:          p.y,
			Z:          -0.05,
			Visibility: types.Visibility(0.95),
		}
	}
	return out
}

// limb places a two-segment limb hanging from root, rotated outward by
// angle (0 is straight down). side is +1 for the left side, -1 for the right.
func limb(pts []point, root point, angle, side, upper, lower float64, mid, end landmark.Index) {
	dx, dy := side*math.Sin(angle), math.Cos(angle)
	pts[mid] = root.add(dx*upper, dy*upper)
	pts[end] = pts[mid].add(dx*lower, dy*lower)
}

func hand(pts []point, angle, side float64, wrist, pinky, index, thumb landmark.Index) {
	dx, dy := side*math.Sin(angle), math.Cos(angle)
	w := pts[wrist]
	pts[pinky] = w.add(dx*0.03+side*0.008, dy*0.03)
	pts[index] = w.add(dx*0.035, dy*0.035)
	pts[thumb] = w.add(dx*0.02-side*0.01, dy*0.02)
}

func addJitter(det *types.Detection, rng *rand.Rand, sigma float64) {
	if sigma <= 0 {
		return
	}
	for i := range det.Landmarks {
		det.Landmarks[i].X += rng.NormFloat64() * sigma
		det.Landmarks[i].Y += rng.NormFloat64() * sigma
	}
}
