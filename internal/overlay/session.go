// Package overlay hosts the pose overlay for one camera screen: it owns the
// pose store, feeds it from the detector and renders it at display rate.
package overlay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"posecam-go/internal/pipeline"
	"posecam-go/internal/posestate"
	"posecam-go/internal/types"
	"posecam-go/internal/wireframe"
)

// Surface is the size of the overlay area in pixels.
type Surface struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Frame is one rendered overlay frame together with the pose and surface
// it was rendered from.
type Frame struct {
	Version uint64
	Score   float64
	Valid   bool
	List    wireframe.DrawList
	State   posestate.State
	Surface Surface
}

// Session is mounted when the hosting screen appears and unmounted when it
// goes away. After Unmount, frames are ignored and reads return the
// default pose.
type Session struct {
	id      string
	logger  *slog.Logger
	store   *posestate.Store
	adapter *pipeline.Adapter
	surface atomic.Pointer[Surface]

	// lifecycle orders frame writes against Unmount: frames hold it shared
	// across the mounted check and the store write.
	lifecycle sync.RWMutex
	mounted   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Mount creates the store and registers the frame pipeline.
func Mount(logger *slog.Logger, surface Surface) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	store := posestate.NewStore()
	s := &Session{
		id:      uuid.NewString(),
		store:   store,
		adapter: pipeline.NewAdapter(store),
		done:    make(chan struct{}),
	}
	s.logger = logger.With("session", s.id)
	s.surface.Store(&surface)
	s.mounted.Store(true)
	s.logger.Info("overlay mounted", "width", surface.Width, "height", surface.Height)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// OnFrame is the per-frame detector callback.
func (s *Session) OnFrame(raw *types.Detection) {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if !s.mounted.Load() {
		return
	}
	s.adapter.OnFrame(raw)
}

// Consume feeds detections from frames into the pipeline until the channel
// closes, ctx is cancelled or the session is unmounted.
func (s *Session) Consume(ctx context.Context, frames <-chan *types.Detection) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case raw, ok := <-frames:
			if !ok {
				return
			}
			s.OnFrame(raw)
		}
	}
}

// Read returns the current pose.
func (s *Session) Read() posestate.State {
	return s.store.Read()
}

// Snapshot returns the current pose with its store version.
func (s *Session) Snapshot() (posestate.State, uint64) {
	return s.store.Snapshot()
}

// Reset clears the current pose without unmounting.
func (s *Session) Reset() {
	s.store.Reset()
}

func (s *Session) Surface() Surface {
	return *s.surface.Load()
}

// Resize changes the surface used by subsequent renders.
func (s *Session) Resize(surface Surface) {
	s.surface.Store(&surface)
}

// Render derives the draw list for the current pose and surface.
func (s *Session) Render() Frame {
	state, version := s.store.Snapshot()
	surface := s.Surface()
	return Frame{
		Version: version,
		Score:   state.Score,
		Valid:   state.IsValid,
		List:    wireframe.Render(&state, surface.Width, surface.Height),
		State:   state,
		Surface: surface,
	}
}

// RenderLoop renders at rate frames per second and hands each frame whose
// pose or surface changed to sink. It returns when ctx is cancelled or the
// session is unmounted. sink runs on the loop goroutine and must not block.
func (s *Session) RenderLoop(ctx context.Context, rate float64, sink func(Frame)) {
	if rate <= 0 {
		rate = 60
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	var lastVersion uint64
	var lastSurface Surface
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			frame := s.Render()
			if !first && frame.Version == lastVersion && frame.Surface == lastSurface {
				continue
			}
			first = false
			lastVersion = frame.Version
			lastSurface = frame.Surface
			sink(frame)
		}
	}
}

// Stats reports pipeline and store counters.
func (s *Session) Stats() map[string]any {
	return map[string]any{
		"session":  s.id,
		"mounted":  s.mounted.Load(),
		"pipeline": s.adapter.Stats(),
		"store":    s.store.Stats(),
	}
}

// Unmount unregisters the pipeline and releases the pose. Safe to call more
// than once.
func (s *Session) Unmount() {
	s.closeOnce.Do(func() {
		s.lifecycle.Lock()
		s.mounted.Store(false)
		s.store.Reset()
		s.lifecycle.Unlock()
		close(s.done)
		s.logger.Info("overlay unmounted")
	})
}
