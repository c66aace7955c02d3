package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"

	"posecam-go/internal/types"
)

// Recorder receives every message exactly as it arrived on the socket.
type Recorder interface {
	Record(msg []byte) error
}

type Options struct {
	Endpoint string
	// LogEvery logs only every Nth receive or decode failure.
	LogEvery int
	Recorder Recorder
	Logger   *slog.Logger
}

type Stats struct {
	Received      uint64 `json:"received"`
	Decoded       uint64 `json:"decoded"`
	DecodeErrors  uint64 `json:"decode_errors"`
	RecvErrors    uint64 `json:"recv_errors"`
	RecordErrors  uint64 `json:"record_errors"`
	LastMessageAt int64  `json:"last_message_unix_ms"`
}

// Source pulls CBOR detector messages from a ZMQ PUSH endpoint:
//
//	{ "type": "pose", "frame_id": <int>, "timestamp": <float>, "pose_score": <float>,
//	  "landmarks": [ {"x":..,"y":..,"z":..,"visibility":..}, ... ] }
//
// landmarks may also be a tag-40 float array of shape [N,3] or [N,4].
// { "type": "none" } reports a frame without a pose; "start" and "end"
// bracket a detector session.
type Source struct {
	socket   *zmq4.Socket
	out      chan types.RawMessage
	logger   *slog.Logger
	logEvery uint64
	recorder Recorder

	failures     atomic.Uint64
	received     atomic.Uint64
	decoded      atomic.Uint64
	decodeErrors atomic.Uint64
	recvErrors   atomic.Uint64
	recordErrors atomic.Uint64
	lastMessage  atomic.Int64
}

const recvTimeout = 250 * time.Millisecond

// Open connects a PULL socket and starts receiving. The returned channel
// closes when ctx is cancelled.
func Open(ctx context.Context, opts Options) (*Source, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("ingest: endpoint is required")
	}
	if opts.LogEvery < 1 {
		opts.LogEvery = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, fmt.Errorf("ingest: create socket: %w", err)
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("ingest: set receive timeout: %w", err)
	}
	if err := socket.Connect(opts.Endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("ingest: connect %s: %w", opts.Endpoint, err)
	}

	s := &Source{
		socket:   socket,
		out:      make(chan types.RawMessage, 128),
		logger:   opts.Logger.With("component", "ingest", "endpoint", opts.Endpoint),
		logEvery: uint64(opts.LogEvery),
		recorder: opts.Recorder,
	}
	go s.run(ctx)
	return s, nil
}

func (s *Source) Messages() <-chan types.RawMessage {
	return s.out
}

// Detections forwards the pose payload of each message: the detection for
// "pose" and nil for "none". Session markers are dropped.
func Detections(ctx context.Context, in <-chan types.RawMessage) <-chan *types.Detection {
	out := make(chan *types.Detection, 8)
	go func() {
		defer close(out)
		for msg := range in {
			switch msg.Type {
			case types.MessagePose, types.MessageNone:
			default:
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- msg.Detection:
			}
		}
	}()
	return out
}

func (s *Source) Stats() Stats {
	return Stats{
		Received:      s.received.Load(),
		Decoded:       s.decoded.Load(),
		DecodeErrors:  s.decodeErrors.Load(),
		RecvErrors:    s.recvErrors.Load(),
		RecordErrors:  s.recordErrors.Load(),
		LastMessageAt: s.lastMessage.Load(),
	}
}

func (s *Source) run(ctx context.Context) {
	defer close(s.out)
	defer s.socket.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := s.socket.RecvBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			s.recvErrors.Add(1)
			s.logEveryN("ingest recv error", "error", err)
			continue
		}
		s.received.Add(1)
		s.lastMessage.Store(time.Now().UnixMilli())

		if s.recorder != nil {
			if err := s.recorder.Record(msg); err != nil {
				s.recordErrors.Add(1)
				s.logEveryN("raw recording failed", "error", err)
			}
		}

		raw, err := decodeMessage(msg)
		if err != nil {
			s.decodeErrors.Add(1)
			s.logEveryN("ingest decode skipped message", "error", err)
			continue
		}
		s.decoded.Add(1)

		select {
		case <-ctx.Done():
			return
		case s.out <- raw:
		}
	}
}

func (s *Source) logEveryN(msg string, args ...any) {
	if s.failures.Add(1)%s.logEvery == 0 {
		s.logger.Warn(msg, args...)
	}
}

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Unmarshal decodes a CBOR payload with nested maps as map[string]any.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// DecodeMessage decodes one detector message.
func DecodeMessage(msg []byte) (types.RawMessage, error) {
	return decodeMessage(msg)
}

func decodeMessage(msg []byte) (types.RawMessage, error) {
	var payload map[string]any
	if err := decMode.Unmarshal(msg, &payload); err != nil {
		return types.RawMessage{}, fmt.Errorf("CBOR decode: %w", err)
	}

	msgType, _ := payload["type"].(string)
	switch msgType {
	case types.MessageNone:
		return types.RawMessage{Type: msgType}, nil
	case types.MessageStart, types.MessageEnd:
		meta := make(map[string]any, len(payload))
		for k, v := range payload {
			if k != "type" {
				meta[k] = v
			}
		}
		return types.RawMessage{Type: msgType, Meta: meta}, nil
	case types.MessagePose:
		det, err := decodeDetection(payload)
		if err != nil {
			return types.RawMessage{}, err
		}
		return types.RawMessage{Type: msgType, Detection: det}, nil
	default:
		return types.RawMessage{}, fmt.Errorf("unsupported message type %q", msgType)
	}
}

func decodeDetection(payload map[string]any) (*types.Detection, error) {
	det := &types.Detection{}
	if v, ok := payload["frame_id"]; ok {
		id, err := toInt(v)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid frame_id: %v", v)
		}
		det.FrameID = uint64(id)
	}
	if v, ok := payload["timestamp"]; ok {
		ts, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp: %w", err)
		}
		det.Timestamp = ts
	}
	// A missing score stays zero, which the store treats as no pose.
	if v, ok := payload["pose_score"]; ok && v != nil {
		score, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("invalid pose_score: %w", err)
		}
		det.PoseScore = score
	}

	value, ok := payload["landmarks"]
	if !ok || value == nil {
		return det, nil
	}
	landmarks, err := decodeLandmarks(value)
	if err != nil {
		return nil, fmt.Errorf("invalid landmarks: %w", err)
	}
	det.Landmarks = landmarks
	return det, nil
}

func decodeLandmarks(value any) ([]types.DetectionLandmark, error) {
	switch v := value.(type) {
	case []any:
		out := make([]types.DetectionLandmark, 0, len(v))
		for i, item := range v {
			lm, err := decodeLandmarkMap(item)
			if err != nil {
				return nil, fmt.Errorf("landmark %d: %w", i, err)
			}
			out = append(out, lm)
		}
		return out, nil
	case cbor.Tag:
		rows, err := decodeMultiDimArray(v)
		if err != nil {
			return nil, err
		}
		return landmarksFromRows(rows)
	default:
		return nil, fmt.Errorf("unsupported landmarks type %T", value)
	}
}

func decodeLandmarkMap(item any) (types.DetectionLandmark, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return types.DetectionLandmark{}, fmt.Errorf("expected map, got %T", item)
	}
	var lm types.DetectionLandmark
	var err error
	if lm.X, err = toFloat(m["x"]); err != nil {
		return lm, fmt.Errorf("x: %w", err)
	}
	if lm.Y, err = toFloat(m["y"]); err != nil {
		return lm, fmt.Errorf("y: %w", err)
	}
	if z, ok := m["z"]; ok && z != nil {
		if lm.Z, err = toFloat(z); err != nil {
			return lm, fmt.Errorf("z: %w", err)
		}
	}
	if vis, ok := m["visibility"]; ok && vis != nil {
		f, err := toFloat(vis)
		if err != nil {
			return lm, fmt.Errorf("visibility: %w", err)
		}
		lm.Visibility = types.Visibility(f)
	}
	return lm, nil
}

// landmarksFromRows maps [N,3] (x, y, z) or [N,4] (x, y, z, visibility)
// rows onto landmarks.
func landmarksFromRows(rows [][]float64) ([]types.DetectionLandmark, error) {
	out := make([]types.DetectionLandmark, len(rows))
	for i, row := range rows {
		switch len(row) {
		case 3, 4:
		default:
			return nil, fmt.Errorf("landmark rows need 3 or 4 columns, got %d", len(row))
		}
		out[i] = types.DetectionLandmark{X: row[0], Y: row[1], Z: row[2]}
		if len(row) == 4 {
			out[i].Visibility = types.Visibility(row[3])
		}
	}
	return out, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported float type %T", v)
	}
}
