package output

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// NormalizeJSONValue rewrites a decoded CBOR value so encoding/json can
// marshal it: maps get string keys, byte strings become base64 and
// unknown tags become {"tag": n, "value": ...}.
func NormalizeJSONValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = NormalizeJSONValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizeJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeJSONValue(item)
		}
		return out
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case cbor.Tag:
		return map[string]any{"tag": val.Number, "value": NormalizeJSONValue(val.Content)}
	default:
		return v
	}
}
