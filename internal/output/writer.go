package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"posecam-go/internal/landmark"
	"posecam-go/internal/posestate"
)

// TrackWriter appends one CSV row per observed pose change, with the
// normalized coordinates and visibility of every landmark.
type TrackWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
	rows uint64
}

func NewTrackWriter(outputDir, runTimestamp, sessionID string) (*TrackWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_track_%s.csv", runTimestamp, sessionID))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	if _, err := fmt.Fprintln(w, trackHeader()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &TrackWriter{path: filename, f: f, w: w}, nil
}

func trackHeader() string {
	cols := []string{"version", "timestamp", "score", "valid"}
	for i := landmark.Index(0); i < landmark.Count; i++ {
		name := i.String()
		cols = append(cols, name+"_x", name+"_y", name+"_v")
	}
	return strings.Join(cols, ", ")
}

func (t *TrackWriter) Path() string {
	return t.path
}

func (t *TrackWriter) Write(version uint64, at time.Time, state *posestate.State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return fmt.Errorf("track writer is closed")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d, %.6f, %.4f, %t", version, float64(at.UnixNano())/1e9, state.Score, state.IsValid)
	for _, lm := range state.Landmarks {
		fmt.Fprintf(&b, ", %.5f, %.5f, %.3f", lm.X, lm.Y, lm.Visibility)
	}
	b.WriteByte('\n')
	if _, err := t.w.WriteString(b.String()); err != nil {
		return err
	}
	t.rows++
	return nil
}

func (t *TrackWriter) Rows() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rows
}

func (t *TrackWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return nil
	}
	err := t.w.Flush()
	t.w = nil
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	return err
}
