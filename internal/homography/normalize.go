package homography

import (
	"math"

	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

// normalizingTransform returns the similarity that moves the centroid of pts to the
// origin and scales their mean distance from it to sqrt(2).
func normalizingTransform(pts []utils.Point) Matrix {
	if len(pts) == 0 {
		return Identity()
	}

	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	mean := 0.0
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy)
	}
	mean /= float64(len(pts))

	s := 1.0
	if mean > 1e-12 {
		s = math.Sqrt2 / mean
	}
	return Matrix{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}
}

// similarityInverse inverts a matrix produced by normalizingTransform.
func similarityInverse(t Matrix) (Matrix, bool) {
	s := t[0]
	if s == 0 {
		return Matrix{}, false
	}
	return Matrix{1 / s, 0, -t[2] / s, 0, 1 / s, -t[5] / s, 0, 0, 1}, true
}

func transformPoints(t Matrix, pts []utils.Point) []utils.Point {
	out := make([]utils.Point, len(pts))
	for i, p := range pts {
		out[i] = utils.Point{X: t[0]*p.X + t[2], Y: t[4]*p.Y + t[5]}
	}
	return out
}

// collinear reports whether a, b, c are (nearly) on one line. Points are expected in
// normalized coordinates.
func collinear(a, b, c utils.Point) bool {
	cross := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
	return math.Abs(cross) < collinearEpsilon
}

const collinearEpsilon = 1e-4

// degenerateSample reports whether any three of the four points are collinear.
func degenerateSample(p [4]utils.Point) bool {
	return collinear(p[0], p[1], p[2]) ||
		collinear(p[0], p[1], p[3]) ||
		collinear(p[0], p[2], p[3]) ||
		collinear(p[1], p[2], p[3])
}
