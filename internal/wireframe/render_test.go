package wireframe

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posecam-go/internal/landmark"
	"posecam-go/internal/posestate"
)

func standingPose() posestate.State {
	s := posestate.State{Score: 0.9, IsValid: true}
	for i := range s.Landmarks {
		s.Landmarks[i] = posestate.Landmark{
			X:          0.25 + float64(i%5)*0.1,
			Y:          float64(i+1) / 34,
			Visibility: 1,
		}
	}
	return s
}

func TestRenderInvalidIsTransparent(t *testing.T) {
	s := standingPose()
	s.IsValid = false
	list := Render(&s, 300, 600)
	assert.True(t, list.Empty())
	assert.Equal(t, 300.0, list.Width)
	assert.Equal(t, 600.0, list.Height)

	list = Render(nil, 300, 600)
	assert.True(t, list.Empty())
}

func TestRenderNonPositiveSurface(t *testing.T) {
	s := standingPose()
	for _, dims := range [][2]float64{{0, 600}, {300, 0}, {-1, -1}} {
		list := Render(&s, dims[0], dims[1])
		assert.True(t, list.Empty(), "dims %v", dims)
	}
}

func TestRenderOrderFollowsTables(t *testing.T) {
	s := standingPose()
	list := Render(&s, 100, 100)
	require.Len(t, list.Segments, landmark.ConnectionCount)
	for i, c := range landmark.Connections() {
		assert.Equal(t, c.A, list.Segments[i].From)
		assert.Equal(t, c.B, list.Segments[i].To)
	}
	for i, p := range list.Points {
		assert.Equal(t, landmark.Index(i), p.Index)
	}
}

func TestRenderVisibilityBoundary(t *testing.T) {
	s := standingPose()
	s.Landmarks[landmark.LeftKnee].Visibility = VisibilityThreshold
	s.Landmarks[landmark.RightKnee].Visibility = 0.4999
	list := Render(&s, 100, 100)

	var hasLeft, hasRight bool
	for _, p := range list.Points {
		hasLeft = hasLeft || p.Index == landmark.LeftKnee
		hasRight = hasRight || p.Index == landmark.RightKnee
	}
	assert.True(t, hasLeft)
	assert.False(t, hasRight)
	assert.Len(t, list.Segments, landmark.ConnectionCount-2)
}

func TestRenderIsDeterministic(t *testing.T) {
	s := standingPose()
	assert.Equal(t, Render(&s, 720, 1280), Render(&s, 720, 1280))
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#00FF00")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, c)

	c, err = ParseColor("ff000080")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 128}, c)

	_, err = ParseColor("#12")
	assert.Error(t, err)
	_, err = ParseColor("#zzzzzz")
	assert.Error(t, err)
}

func TestRasterizePaintsPointsAndLines(t *testing.T) {
	list := DrawList{
		Width:    40,
		Height:   40,
		Points:   []Point{{Index: landmark.Nose, X: 30, Y: 30}},
		Segments: []Segment{{From: landmark.LeftHip, To: landmark.RightHip, X1: 2, Y1: 10, X2: 38, Y2: 10}},
	}
	img, err := Rasterize(&list, DefaultStyle(), "")
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())

	r, g, _, a := img.At(20, 10).RGBA()
	assert.Zero(t, r)
	assert.NotZero(t, g)
	assert.NotZero(t, a)

	r, g, _, _ = img.At(30, 30).RGBA()
	assert.NotZero(t, r)
	assert.Zero(t, g)

	_, _, _, a = img.At(5, 35).RGBA()
	assert.Zero(t, a, "background stays transparent")
}

func TestRasterizeSkipsUnplottableCoordinates(t *testing.T) {
	list := DrawList{
		Width:  40,
		Height: 40,
		Points: []Point{
			{Index: landmark.Nose, X: 3e38 * 100, Y: 10},
			{Index: landmark.LeftEye, X: 1e12, Y: 1e12},
			{Index: landmark.RightEye, X: 30, Y: 30},
		},
		Segments: []Segment{
			{From: landmark.LeftHip, To: landmark.RightHip, X1: 2, Y1: 10, X2: math.Inf(1), Y2: 10},
			{From: landmark.LeftKnee, To: landmark.RightKnee, X1: 2, Y1: 20, X2: 38, Y2: 20},
		},
	}
	img, err := Rasterize(&list, DefaultStyle(), "")
	require.NoError(t, err)

	_, g, _, _ := img.At(20, 20).RGBA()
	assert.NotZero(t, g)
	_, _, _, a := img.At(20, 10).RGBA()
	assert.Zero(t, a)
	r, _, _, _ := img.At(30, 30).RGBA()
	assert.NotZero(t, r)
}

func TestEncodePNG(t *testing.T) {
	s := standingPose()
	list := Render(&s, 64, 128)
	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, &list, DefaultStyle(), "score 0.90"))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 128, img.Bounds().Dy())
}

func TestRasterizeRejectsBadStyle(t *testing.T) {
	style := DefaultStyle()
	style.LineColor = "green"
	_, err := Rasterize(&DrawList{Width: 1, Height: 1}, style, "")
	assert.Error(t, err)
}
