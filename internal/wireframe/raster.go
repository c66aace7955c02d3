package wireframe

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

const circleSteps = 24

// Rasterize paints a draw list onto a transparent RGBA image sized to the
// draw list's surface. Segments go down first, points on top. A non-empty
// label is printed in the top-left corner in the line color.
func Rasterize(list *DrawList, style Style, label string) (*image.RGBA, error) {
	w := int(math.Ceil(list.Width))
	h := int(math.Ceil(list.Height))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	lineColor, err := ParseColor(style.LineColor)
	if err != nil {
		return nil, err
	}
	pointColor, err := ParseColor(style.PointColor)
	if err != nil {
		return nil, err
	}

	if len(list.Segments) > 0 {
		r := vector.NewRasterizer(w, h)
		half := style.LineWidth / 2
		if half <= 0 {
			half = 0.5
		}
		for _, s := range list.Segments {
			if !onCanvas(w, h, s.X1, s.Y1, s.X2, s.Y2) {
				continue
			}
			addThickLine(r, s.X1, s.Y1, s.X2, s.Y2, half)
		}
		r.Draw(img, img.Bounds(), image.NewUniform(lineColor), image.Point{})
	}

	if len(list.Points) > 0 {
		r := vector.NewRasterizer(w, h)
		radius := style.PointRadius
		if radius <= 0 {
			radius = 1
		}
		for _, p := range list.Points {
			if !onCanvas(w, h, p.X, p.Y) {
				continue
			}
			addCircle(r, p.X, p.Y, radius)
		}
		r.Draw(img, img.Bounds(), image.NewUniform(pointColor), image.Point{})
	}

	if label != "" {
		drawLabel(img, label, lineColor)
	}
	return img, nil
}

// EncodePNG rasterizes list and writes it as PNG.
func EncodePNG(w io.Writer, list *DrawList, style Style, label string) error {
	img, err := Rasterize(list, style, label)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// onCanvas reports whether every coordinate is finite as float32 and lies
// within a wide margin around a w x h canvas. The rasterizer divides by
// path extents, so coordinates far outside would break it.
func onCanvas(w, h int, coords ...float64) bool {
	limit := 16 * float64(max(w, h))
	for _, v := range coords {
		f := float64(float32(v))
		if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > limit {
			return false
		}
	}
	return true
}

func addThickLine(r *vector.Rasterizer, x1, y1, x2, y2, half float64) {
	dx := x2 - x1
	dy := y2 - y1
	length := math.Hypot(dx, dy)
	if length == 0 {
		addCircle(r, x1, y1, half)
		return
	}
	nx := -dy / length * half
	ny := dx / length * half
	r.MoveTo(float32(x1+nx), float32(y1+ny))
	r.LineTo(float32(x2+nx), float32(y2+ny))
	r.LineTo(float32(x2-nx), float32(y2-ny))
	r.LineTo(float32(x1-nx), float32(y1-ny))
	r.ClosePath()
}

func addCircle(r *vector.Rasterizer, cx, cy, radius float64) {
	for i := 0; i <= circleSteps; i++ {
		theta := 2 * math.Pi * float64(i) / circleSteps
		x := float32(cx + radius*math.Cos(theta))
		y := float32(cy + radius*math.Sin(theta))
		if i == 0 {
			r.MoveTo(x, y)
			continue
		}
		r.LineTo(x, y)
	}
	r.ClosePath()
}

func drawLabel(img draw.Image, label string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, 14),
	}
	d.DrawString(label)
}
