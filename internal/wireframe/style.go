package wireframe

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Style describes how a collaborator should paint a draw list.
type Style struct {
	PointRadius float64 `json:"point_radius" yaml:"point_radius"`
	LineWidth   float64 `json:"line_width" yaml:"line_width"`
	PointColor  string  `json:"point_color" yaml:"point_color"`
	LineColor   string  `json:"line_color" yaml:"line_color"`
}

func DefaultStyle() Style {
	return Style{
		PointRadius: 4,
		LineWidth:   2,
		PointColor:  "#FF0000",
		LineColor:   "#00FF00",
	}
}

// ParseColor accepts #RRGGBB or #RRGGBBAA.
func ParseColor(value string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", value)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", value, err)
	}
	return color.NRGBA{
		R: uint8(n >> 24),
		G: uint8(n >> 16),
		B: uint8(n >> 8),
		A: uint8(n),
	}, nil
}
