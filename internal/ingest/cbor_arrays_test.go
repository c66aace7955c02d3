package ingest

import (
	"encoding/binary"
	"math"
	"reflect"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestDecodeMultiDimArrayFloat32(t *testing.T) {
	value, err := EncodeLandmarkTensor([][]float32{
		{0.5, 0.25, -1},
		{1, 0, 2},
	})
	if err != nil {
		t.Fatalf("EncodeLandmarkTensor error: %v", err)
	}

	got, err := decodeMultiDimArray(value)
	if err != nil {
		t.Fatalf("decodeMultiDimArray error: %v", err)
	}

	want := [][]float64{
		{0.5, 0.25, -1},
		{1, 0, 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decodeMultiDimArray mismatch: got %#v want %#v", got, want)
	}
}

func TestDecodeMultiDimArrayFloat64(t *testing.T) {
	data := make([]byte, 0, 16)
	data = binary.LittleEndian.AppendUint64(data, math.Float64bits(0.1))
	data = binary.LittleEndian.AppendUint64(data, math.Float64bits(0.2))
	value := cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{1, 2},
			cbor.Tag{Number: tagFloat64LE, Content: data},
		},
	}

	got, err := decodeMultiDimArray(value)
	if err != nil {
		t.Fatalf("decodeMultiDimArray error: %v", err)
	}
	if len(got) != 1 || got[0][0] != 0.1 || got[0][1] != 0.2 {
		t.Fatalf("unexpected rows: %#v", got)
	}
}

func TestDecodeMultiDimArrayRejectsBadShape(t *testing.T) {
	value := cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{2, 3},
			cbor.Tag{Number: tagFloat32LE, Content: make([]byte, 4*5)},
		},
	}
	if _, err := decodeMultiDimArray(value); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}

	value.Content = []any{[]any{1, 1}, cbor.Tag{Number: 64, Content: []byte{1}}}
	if _, err := decodeMultiDimArray(value); err == nil {
		t.Fatalf("expected unsupported tag error")
	}

	for _, dims := range [][]any{
		{uint64(1) << 62, 4},
		{4, uint64(1) << 62},
		{maxTensorRows + 1, 4},
	} {
		value.Content = []any{dims, cbor.Tag{Number: tagFloat32LE, Content: []byte{}}}
		if _, err := decodeMultiDimArray(value); err == nil {
			t.Fatalf("expected shape error for dims %v", dims)
		}
	}
}

func TestReshapeRejectsOverflowingShape(t *testing.T) {
	if _, err := reshape([]float64{}, 1<<62, 4); err == nil {
		t.Fatalf("expected dimension mismatch for overflowing shape")
	}
	rows, err := reshape([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil || len(rows) != 2 || rows[1][2] != 6 {
		t.Fatalf("unexpected reshape: %v %v", rows, err)
	}
}

func TestEncodeLandmarkTensorRaggedRows(t *testing.T) {
	if _, err := EncodeLandmarkTensor([][]float32{{1, 2, 3}, {1, 2}}); err == nil {
		t.Fatalf("expected ragged row error")
	}
}
