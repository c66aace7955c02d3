package posestate

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posecam-go/internal/landmark"
)

func validState(score float64) *State {
	s := &State{Score: score}
	for i := range s.Landmarks {
		s.Landmarks[i] = Landmark{X: 0.5, Y: 0.5, Visibility: 1}
	}
	return s
}

func TestNewStoreHoldsDefault(t *testing.T) {
	store := NewStore()
	state, version := store.Snapshot()
	assert.Equal(t, Default(), state)
	assert.Equal(t, uint64(0), version)
	assert.False(t, state.IsValid)
	assert.Len(t, state.Landmarks, landmark.Count)
}

func TestZeroValueStoreReadsDefault(t *testing.T) {
	var store Store
	assert.Equal(t, Default(), store.Read())
	store.Write(validState(0.8))
	assert.True(t, store.Read().IsValid)
}

func TestWriteDerivesValidity(t *testing.T) {
	store := NewStore()

	next := validState(0.7)
	next.IsValid = false
	store.Write(next)
	assert.True(t, store.Read().IsValid)

	low := validState(0.3)
	low.IsValid = true
	store.Write(low)
	got := store.Read()
	assert.False(t, got.IsValid)
	assert.Equal(t, 0.3, got.Score)

	store.Write(validState(ConfidenceThreshold))
	assert.True(t, store.Read().IsValid)
}

func TestMalformedWritesReset(t *testing.T) {
	cases := map[string]*State{
		"nil":        nil,
		"zero score": validState(0),
		"nan score":  validState(math.NaN()),
		"inf score":  validState(math.Inf(1)),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			store := NewStore()
			store.Write(validState(0.9))
			require.True(t, store.Read().IsValid)

			store.Write(input)
			assert.Equal(t, Default(), store.Read())
			assert.Equal(t, uint64(1), store.Stats().Resets)
		})
	}
}

func TestWriteDoesNotAliasCaller(t *testing.T) {
	store := NewStore()
	next := validState(0.9)
	store.Write(next)
	next.Landmarks[0].X = 42
	assert.Equal(t, 0.5, store.Read().Landmarks[0].X)
}

func TestSupersededCountsUnreadWrites(t *testing.T) {
	store := NewStore()
	store.Write(validState(0.6))
	store.Write(validState(0.7))
	store.Write(validState(0.8))
	assert.Equal(t, uint64(2), store.Stats().Superseded)

	assert.Equal(t, 0.8, store.Read().Score)
	store.Write(validState(0.9))
	stats := store.Stats()
	assert.Equal(t, uint64(2), stats.Superseded)
	assert.Equal(t, uint64(4), stats.Writes)
	assert.Equal(t, uint64(4), stats.Version)
	assert.False(t, stats.LastWriteAt.IsZero())
}

func TestConcurrentReadersNeverSeeTornState(t *testing.T) {
	store := NewStore()
	const writes = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= writes; i++ {
			next := &State{Score: 0.5 + float64(i%50)/100}
			for j := range next.Landmarks {
				next.Landmarks[j] = Landmark{X: float64(i), Y: float64(i), Visibility: 1}
			}
			store.Write(next)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < writes; i++ {
				state := store.Read()
				first := state.Landmarks[0].X
				for _, lm := range state.Landmarks {
					if lm.X != first {
						t.Errorf("torn read: %v != %v", lm.X, first)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(writes), store.Version())
}
