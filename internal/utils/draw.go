package utils

import (
	"image"
	"image/color"
	"math"
)

// DrawRect draws an axis-aligned rectangle outline into dst.
func DrawRect(dst *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	for t := range thickness {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, rect.Min.Y+t, col)
			dst.Set(x, rect.Max.Y-1-t, col)
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.Set(rect.Min.X+t, y, col)
			dst.Set(rect.Max.X-1-t, y, col)
		}
	}
}

// DrawPolygon draws connected line segments and closes the polygon.
func DrawPolygon(dst *image.RGBA, pts []Point, col color.Color, thickness int) {
	if len(pts) < 2 {
		return
	}
	for i := range pts {
		DrawLine(dst, pts[i], pts[(i+1)%len(pts)], col, thickness)
	}
}

// DrawLine draws a segment between two points using Bresenham's algorithm.
func DrawLine(dst *image.RGBA, a, b Point, col color.Color, thickness int) {
	x0, y0 := int(math.Round(a.X)), int(math.Round(a.Y))
	x1, y1 := int(math.Round(b.X)), int(math.Round(b.Y))
	dx := absInt(x1 - x0)
	dy := -absInt(y1 - y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		drawThickPoint(dst, x0, y0, col, thickness)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// DrawCircle draws a circle outline with the midpoint algorithm. Radii below one are
// drawn as a single dot.
func DrawCircle(dst *image.RGBA, center Point, radius float64, col color.Color) {
	cx, cy := int(math.Round(center.X)), int(math.Round(center.Y))
	r := int(math.Round(radius))
	if r < 1 {
		drawThickPoint(dst, cx, cy, col, 1)
		return
	}
	x, y := r, 0
	d := 1 - r
	for x >= y {
		for _, o := range [8][2]int{{x, y}, {y, x}, {-y, x}, {-x, y}, {-x, -y}, {-y, -x}, {y, -x}, {x, -y}} {
			drawThickPoint(dst, cx+o[0], cy+o[1], col, 1)
		}
		y++
		if d < 0 {
			d += 2*y + 1
		} else {
			x--
			d += 2*(y-x) + 1
		}
	}
}

// DrawDot fills a square of side 2*radius+1 centred on p.
func DrawDot(dst *image.RGBA, p Point, radius int, col color.Color) {
	drawThickPoint(dst, int(math.Round(p.X)), int(math.Round(p.Y)), col, 2*radius+1)
}

func drawThickPoint(dst *image.RGBA, x, y int, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	r := (thickness - 1) / 2
	b := dst.Bounds()
	for yy := y - r; yy <= y+r; yy++ {
		for xx := x - r; xx <= x+r; xx++ {
			if image.Pt(xx, yy).In(b) {
				dst.Set(xx, yy, col)
			}
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
