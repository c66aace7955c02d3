package main

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"posecam-go/internal/wireframe"
)

type cellKind uint8

const (
	cellEmpty cellKind = iota
	cellLine
	cellPoint
)

// grid is a character raster of one overlay frame.
type grid struct {
	cols, rows int
	runes      []rune
	kinds      []cellKind
}

func newGrid(cols, rows int) *grid {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	g := &grid{
		cols:  cols,
		rows:  rows,
		runes: make([]rune, cols*rows),
		kinds: make([]cellKind, cols*rows),
	}
	for i := range g.runes {
		g.runes[i] = ' '
	}
	return g
}

// plot scales list from surface pixels onto the grid. Segments are drawn
// first so landmark markers stay on top.
func (g *grid) plot(list *wireframe.DrawList) {
	if list.Width <= 0 || list.Height <= 0 {
		return
	}
	sx := float64(g.cols-1) / list.Width
	sy := float64(g.rows-1) / list.Height
	for _, s := range list.Segments {
		g.line(s.X1*sx, s.Y1*sy, s.X2*sx, s.Y2*sy)
	}
	for _, p := range list.Points {
		g.set(int(math.Round(p.X*sx)), int(math.Round(p.Y*sy)), 'o', cellPoint)
	}
}

func (g *grid) line(x1, y1, x2, y2 float64) {
	glyph := slopeGlyph(x2-x1, y2-y1)
	steps := int(math.Ceil(math.Max(math.Abs(x2-x1), math.Abs(y2-y1))))
	if steps == 0 {
		g.set(int(math.Round(x1)), int(math.Round(y1)), glyph, cellLine)
		return
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(x1 + (x2-x1)*t))
		y := int(math.Round(y1 + (y2-y1)*t))
		g.set(x, y, glyph, cellLine)
	}
}

// slopeGlyph picks a line character for a direction in grid space, where
// y grows downwards.
func slopeGlyph(dx, dy float64) rune {
	if dx == 0 && dy == 0 {
		return '.'
	}
	angle := math.Atan2(-dy, dx) * 180 / math.Pi
	if angle < 0 {
		angle += 180
	}
	switch {
	case angle < 22.5 || angle >= 157.5:
		return '-'
	case angle < 67.5:
		return '/'
	case angle < 112.5:
		return '|'
	default:
		return '\\'
	}
}

func (g *grid) set(x, y int, r rune, kind cellKind) {
	if x < 0 || y < 0 || x >= g.cols || y >= g.rows {
		return
	}
	i := y*g.cols + x
	if g.kinds[i] == cellPoint && kind != cellPoint {
		return
	}
	g.runes[i] = r
	g.kinds[i] = kind
}

func (g *grid) at(x, y int) rune {
	return g.runes[y*g.cols+x]
}

// render joins the rows, colouring runs of line and point cells.
func (g *grid) render(lineStyle, pointStyle lipgloss.Style) string {
	var b strings.Builder
	for y := 0; y < g.rows; y++ {
		if y > 0 {
			b.WriteByte('\n')
		}
		row := y * g.cols
		start := 0
		for x := 1; x <= g.cols; x++ {
			if x < g.cols && g.kinds[row+x] == g.kinds[row+start] {
				continue
			}
			run := string(g.runes[row+start : row+x])
			switch g.kinds[row+start] {
			case cellLine:
				b.WriteString(lineStyle.Render(run))
			case cellPoint:
				b.WriteString(pointStyle.Render(run))
			default:
				b.WriteString(run)
			}
			start = x
		}
	}
	return b.String()
}
