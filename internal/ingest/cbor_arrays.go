package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"posecam-go/internal/landmark"
)

// RFC 8746 tags.
const (
	tagMultiDimArray = 40
	tagFloat32LE     = 85
	tagFloat64LE     = 86
)

// Landmark tensors are a few dozen rows of x, y, z and visibility.
const (
	maxTensorRows = 4 * landmark.Count
	maxTensorCols = 8
)

// decodeMultiDimArray decodes a row-major two-dimensional float array
// (tag 40 wrapping a float32 or float64 typed array) into rows.
func decodeMultiDimArray(value any) ([][]float64, error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != tagMultiDimArray {
		return nil, fmt.Errorf("expected multidim tag 40")
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return nil, fmt.Errorf("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) != 2 {
		return nil, fmt.Errorf("invalid multidim dimensions")
	}

	rows, err := toInt(dimsRaw[0])
	if err != nil {
		return nil, err
	}
	cols, err := toInt(dimsRaw[1])
	if err != nil {
		return nil, err
	}
	if rows < 0 || cols < 1 || rows > maxTensorRows || cols > maxTensorCols {
		return nil, fmt.Errorf("invalid multidim shape [%d,%d]", rows, cols)
	}

	flat, err := decodeTypedArray(items[1])
	if err != nil {
		return nil, err
	}
	return reshape(flat, rows, cols)
}

func decodeTypedArray(value any) ([]float64, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return nil, fmt.Errorf("expected typed array tag")
	}
	data, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("unsupported typed array content %T", tag.Content)
	}

	switch tag.Number {
	case tagFloat32LE:
		if len(data)%4 != 0 {
			return nil, errors.New("float32 array length is not a multiple of 4")
		}
		out := make([]float64, len(data)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
		return out, nil
	case tagFloat64LE:
		if len(data)%8 != 0 {
			return nil, errors.New("float64 array length is not a multiple of 8")
		}
		out := make([]float64, len(data)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

func reshape[T any](flat []T, rows, cols int) ([][]T, error) {
	if rows < 0 || cols < 1 || len(flat)%cols != 0 || rows != len(flat)/cols {
		return nil, errors.New("dimension mismatch")
	}
	out := make([][]T, rows)
	for r := 0; r < rows; r++ {
		row := make([]T, cols)
		copy(row, flat[r*cols:(r+1)*cols])
		out[r] = row
	}
	return out, nil
}

// EncodeLandmarkTensor packs rows of equal width into the tag-40 float32
// form accepted by the decoder.
func EncodeLandmarkTensor(rows [][]float32) (cbor.Tag, error) {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	data := make([]byte, 0, len(rows)*cols*4)
	for i, row := range rows {
		if len(row) != cols {
			return cbor.Tag{}, fmt.Errorf("row %d has %d columns, want %d", i, len(row), cols)
		}
		for _, v := range row {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
	}
	return cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{len(rows), cols},
			cbor.Tag{Number: tagFloat32LE, Content: data},
		},
	}, nil
}
