package output

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// RawLogMagic opens every recording, before any compression is undone.
const RawLogMagic = "POSERAW1"

const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

const recordHeaderSize = 12

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// RawLogWriter records detector messages exactly as received. Each record
// is a 12-byte header (unix nanos u64 LE, length u32 LE) and the payload.
// With compression the whole stream, magic included, is wrapped in one
// zstd or lz4 frame.
type RawLogWriter struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	comp    io.WriteCloser
	w       *bufio.Writer
	records uint64
}

func NewRawLogWriter(outputDir, prefix, compression string) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	ext := ".bin"
	switch compression {
	case "", CompressionNone:
	case CompressionLZ4:
		ext += ".lz4"
	case CompressionZstd:
		ext += ".zst"
	default:
		return nil, fmt.Errorf("unknown raw log compression %q", compression)
	}

	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s%s", Timestamp(), prefix, ext))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	var sink io.Writer = f
	var comp io.WriteCloser
	switch compression {
	case CompressionLZ4:
		comp = lz4.NewWriter(f)
	case CompressionZstd:
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		comp = enc
	}
	if comp != nil {
		sink = comp
	}

	w := bufio.NewWriterSize(sink, 256*1024)
	if _, err := w.WriteString(RawLogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &RawLogWriter{
		path: filename,
		f:    f,
		comp: comp,
		w:    w,
	}, nil
}

func (r *RawLogWriter) Path() string {
	return r.path
}

func (r *RawLogWriter) Records() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

func (r *RawLogWriter) Record(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("raw log writer is closed")
	}
	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	r.records++
	return r.w.Flush()
}

func (r *RawLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	err := r.w.Flush()
	r.w = nil
	if r.comp != nil {
		if cerr := r.comp.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

type RawRecord struct {
	Time    time.Time
	Payload []byte
}

// RawLogReader reads recordings written by RawLogWriter, detecting the
// compression from the leading bytes.
type RawLogReader struct {
	f       *os.File
	r       *bufio.Reader
	release func()
	Codec   string
}

func OpenRawLog(path string) (*RawLogReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	peek := bufio.NewReader(f)
	head, err := peek.Peek(len(RawLogMagic))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	reader := &RawLogReader{f: f, Codec: CompressionNone}
	var src io.Reader = peek
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(peek)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		reader.Codec = CompressionZstd
		reader.release = dec.Close
		src = dec
	case bytes.HasPrefix(head, lz4Magic):
		reader.Codec = CompressionLZ4
		src = lz4.NewReader(peek)
	}

	reader.r = bufio.NewReader(src)
	magic := make([]byte, len(RawLogMagic))
	if _, err := io.ReadFull(reader.r, magic); err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != RawLogMagic {
		_ = reader.Close()
		return nil, fmt.Errorf("invalid magic %q", string(magic))
	}
	return reader, nil
}

// Next returns io.EOF after the last complete record. A record cut short
// at the end of the file returns io.ErrUnexpectedEOF.
func (r *RawLogReader) Next() (RawRecord, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return RawRecord{}, io.EOF
		}
		return RawRecord{}, err
	}
	ts := binary.LittleEndian.Uint64(header[:8])
	length := binary.LittleEndian.Uint32(header[8:12])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return RawRecord{}, err
	}
	return RawRecord{Time: time.Unix(0, int64(ts)), Payload: payload}, nil
}

func (r *RawLogReader) Close() error {
	if r.release != nil {
		r.release()
		r.release = nil
	}
	return r.f.Close()
}

// Timestamp formats the current time the way output files are named.
func Timestamp() string {
	return time.Now().Format("20060102_150405")
}
