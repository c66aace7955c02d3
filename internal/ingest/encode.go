package ingest

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"posecam-go/internal/types"
)

type wirePose struct {
	Type string `cbor:"type"`
	types.Detection
}

// EncodeMessage produces the wire form of msg, as a detector would send
// it. Used by the simulator path so recordings look like live captures.
func EncodeMessage(msg types.RawMessage) ([]byte, error) {
	switch msg.Type {
	case types.MessagePose:
		if msg.Detection == nil {
			return nil, fmt.Errorf("pose message without detection")
		}
		return cbor.Marshal(wirePose{Type: msg.Type, Detection: *msg.Detection})
	case types.MessageNone:
		return cbor.Marshal(map[string]any{"type": msg.Type})
	case types.MessageStart, types.MessageEnd:
		payload := make(map[string]any, len(msg.Meta)+1)
		for k, v := range msg.Meta {
			payload[k] = v
		}
		payload["type"] = msg.Type
		return cbor.Marshal(payload)
	default:
		return nil, fmt.Errorf("unsupported message type %q", msg.Type)
	}
}
