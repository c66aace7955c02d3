package main

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posecam-go/internal/landmark"
	"posecam-go/internal/wireframe"
)

func TestGridPlotsSegmentsUnderPoints(t *testing.T) {
	g := newGrid(11, 5)
	list := wireframe.DrawList{
		Width:  100,
		Height: 40,
		Points: []wireframe.Point{
			{Index: landmark.LeftShoulder, X: 0, Y: 20},
			{Index: landmark.RightShoulder, X: 100, Y: 20},
		},
		Segments: []wireframe.Segment{
			{From: landmark.LeftShoulder, To: landmark.RightShoulder, X1: 0, Y1: 20, X2: 100, Y2: 20},
		},
	}
	g.plot(&list)

	assert.Equal(t, 'o', g.at(0, 2))
	assert.Equal(t, 'o', g.at(10, 2))
	for x := 1; x < 10; x++ {
		assert.Equal(t, '-', g.at(x, 2), "column %d", x)
	}
	assert.Equal(t, ' ', g.at(5, 0))
}

func TestGridEmptySurfaceDrawsNothing(t *testing.T) {
	g := newGrid(4, 2)
	g.plot(&wireframe.DrawList{Points: []wireframe.Point{{X: 1, Y: 1}}})
	assert.Equal(t, "    \n    ", g.render(lipgloss.NewStyle(), lipgloss.NewStyle()))
}

func TestSlopeGlyph(t *testing.T) {
	assert.Equal(t, '-', slopeGlyph(5, 0))
	assert.Equal(t, '|', slopeGlyph(0, 5))
	assert.Equal(t, '/', slopeGlyph(3, -3))
	assert.Equal(t, '\\', slopeGlyph(3, 3))
	assert.Equal(t, '.', slopeGlyph(0, 0))
}

func TestGridClipsOutOfRange(t *testing.T) {
	g := newGrid(3, 3)
	g.set(-1, 0, 'x', cellLine)
	g.set(3, 3, 'x', cellLine)
	out := g.render(lipgloss.NewStyle(), lipgloss.NewStyle())
	assert.NotContains(t, out, "x")
	assert.Len(t, strings.Split(out, "\n"), 3)
}

func TestDecodeServerMessage(t *testing.T) {
	msg, err := decodeServerMessage([]byte(`{"type":"config","session_id":"s1","surface_width":90,"style":{"line_color":"#00FF00"}}`))
	require.NoError(t, err)
	cfg, ok := msg.(configMsg)
	require.True(t, ok)
	assert.Equal(t, "s1", cfg.SessionID)
	assert.Equal(t, "#00FF00", cfg.Style.LineColor)

	msg, err = decodeServerMessage([]byte(`{"type":"overlay","version":7,"valid":true,"width":10,"height":20,"points":[{"index":0,"x":1,"y":2}]}`))
	require.NoError(t, err)
	ov, ok := msg.(overlayMsg)
	require.True(t, ok)
	assert.Equal(t, uint64(7), ov.Version)
	assert.Len(t, ov.Points, 1)

	msg, err = decodeServerMessage([]byte(`{"type":"status"}`))
	require.NoError(t, err)
	assert.Nil(t, msg)

	_, err = decodeServerMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestTermColorDropsAlpha(t *testing.T) {
	assert.Equal(t, lipgloss.Color("#FF0000"), termColor("#FF000080"))
	assert.Equal(t, lipgloss.Color("#00FF00"), termColor("#00FF00"))
}
