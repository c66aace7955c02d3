package posestate

import (
	"sync/atomic"
	"time"
)

// Store is a single-slot, latest-value-wins cell holding the current pose.
//
// Writes replace the whole State with one atomic pointer swap, so a reader
// never observes a partially written pose. There is no queue: a write that
// lands before the previous value was read simply supersedes it.
//
// Store is safe for one writer and any number of concurrent readers.
type Store struct {
	current  atomic.Pointer[slot]
	version  atomic.Uint64
	lastRead atomic.Uint64

	writes     atomic.Uint64
	resets     atomic.Uint64
	superseded atomic.Uint64
	lastWrite  atomic.Int64
}

type slot struct {
	state   State
	version uint64
}

// Stats is a point-in-time view of store activity.
type Stats struct {
	Version     uint64    `json:"version"`
	Writes      uint64    `json:"writes_total"`
	Resets      uint64    `json:"resets_total"`
	Superseded  uint64    `json:"superseded_total"`
	LastWriteAt time.Time `json:"last_write_at"`
}

var defaultSlot = &slot{state: Default()}

// NewStore returns a store holding the default state.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(defaultSlot)
	return s
}

// Read returns the current pose. It is always defined.
func (s *Store) Read() State {
	state, _ := s.Snapshot()
	return state
}

// Snapshot returns the current pose together with the version of the write
// that produced it. Version 0 is the initial default state.
func (s *Store) Snapshot() (State, uint64) {
	cur := s.current.Load()
	if cur == nil {
		return Default(), 0
	}
	for {
		seen := s.lastRead.Load()
		if cur.version <= seen || s.lastRead.CompareAndSwap(seen, cur.version) {
			break
		}
	}
	return cur.state, cur.version
}

// Write replaces the current pose. A nil or malformed state (zero, NaN or
// infinite score) resets the store to Default. IsValid is derived from the
// score so it can never disagree with ConfidenceThreshold.
func (s *Store) Write(next *State) {
	if next == nil || !usableScore(next.Score) {
		s.Reset()
		return
	}
	stored := *next
	stored.IsValid = Valid(stored.Score)
	s.swap(stored)
}

// Reset drops whatever pose is held and stores Default.
func (s *Store) Reset() {
	s.resets.Add(1)
	s.swap(Default())
}

func (s *Store) swap(state State) {
	v := s.version.Add(1)
	prev := s.current.Swap(&slot{state: state, version: v})
	s.writes.Add(1)
	s.lastWrite.Store(time.Now().UnixNano())
	if prev != nil && prev.version > 0 && prev.version > s.lastRead.Load() {
		s.superseded.Add(1)
	}
}

// Version is the number of writes applied so far.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

func (s *Store) Stats() Stats {
	stats := Stats{
		Version:    s.version.Load(),
		Writes:     s.writes.Load(),
		Resets:     s.resets.Load(),
		Superseded: s.superseded.Load(),
	}
	if ns := s.lastWrite.Load(); ns > 0 {
		stats.LastWriteAt = time.Unix(0, ns)
	}
	return stats
}
