package homography

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

const (
	// MinW is the smallest |w| a projected point may have before it is treated as
	// mapped to infinity.
	MinW = 1e-8
	// MaxCondition is the largest 1-norm condition number accepted for inversion.
	MaxCondition = 1e12
)

// Matrix is a row-major 3x3 projective transform.
type Matrix [9]float64

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Project maps (x, y). ok is false when the point maps to (near) infinity.
func (m Matrix) Project(x, y float64) (px, py float64, ok bool) {
	w := m[6]*x + m[7]*y + m[8]
	if math.Abs(w) < MinW {
		return 0, 0, false
	}
	return (m[0]*x + m[1]*y + m[2]) / w, (m[3]*x + m[4]*y + m[5]) / w, true
}

// ProjectPoint is Project for a utils.Point.
func (m Matrix) ProjectPoint(p utils.Point) (utils.Point, bool) {
	x, y, ok := m.Project(p.X, p.Y)
	return utils.Point{X: x, Y: y}, ok
}

// Mul returns m·o.
func (m Matrix) Mul(o Matrix) Matrix {
	var r Matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i*3+j] = m[i*3]*o[j] + m[i*3+1]*o[3+j] + m[i*3+2]*o[6+j]
		}
	}
	return r
}

// Normalized scales m so that m[8] == 1. When m[8] is (near) zero the matrix is scaled
// to unit Frobenius norm instead.
func (m Matrix) Normalized() Matrix {
	s := m[8]
	if math.Abs(s) < 1e-12 {
		s = 0
		for _, v := range m {
			s += v * v
		}
		s = math.Sqrt(s)
		if s == 0 {
			return m
		}
	}
	for i := range m {
		m[i] /= s
	}
	return m
}

// IsFinite reports whether every entry is a finite number.
func (m Matrix) IsFinite() bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Dense copies m into a gonum matrix.
func (m Matrix) Dense() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), m[:]...))
}

// FromDense reads a 3x3 gonum matrix.
func FromDense(d mat.Matrix) Matrix {
	var m Matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i*3+j] = d.At(i, j)
		}
	}
	return m
}

// Condition returns the 1-norm condition number.
func (m Matrix) Condition() float64 {
	return mat.Cond(m.Dense(), 1)
}

// Inverse returns the normalized inverse, or an InvalidTransformError when m is
// non-finite, singular or too ill-conditioned to invert reliably.
func (m Matrix) Inverse() (Matrix, error) {
	if !m.IsFinite() {
		return Matrix{}, &common.InvalidTransformError{Reason: "matrix has non-finite entries"}
	}
	c := m.Condition()
	if math.IsNaN(c) || c > MaxCondition {
		return Matrix{}, &common.InvalidTransformError{
			Reason: fmt.Sprintf("matrix is singular or ill-conditioned (condition %.3g, limit %.0e)", c, MaxCondition),
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(m.Dense()); err != nil {
		return Matrix{}, &common.InvalidTransformError{Reason: err.Error()}
	}
	return FromDense(&inv).Normalized(), nil
}

// String formats m as three bracketed rows.
func (m Matrix) String() string {
	return fmt.Sprintf("[[%.6g %.6g %.6g] [%.6g %.6g %.6g] [%.6g %.6g %.6g]]",
		m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8])
}
