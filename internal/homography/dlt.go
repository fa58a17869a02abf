package homography

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

// pivotEpsilon rejects near-singular minimal systems; inputs are normalized so the
// system is well scaled.
const pivotEpsilon = 1e-10

// fourPointHomography solves H mapping src[i] -> dst[i] exactly, fixing h22 = 1.
func fourPointHomography(src, dst [4]utils.Point) (Matrix, bool) {
	// 8x8 system A*h = b for h00..h21
	var a [8][8]float64
	var b [8]float64
	for i := range 4 {
		X, Y := src[i].X, src[i].Y
		x, y := dst[i].X, dst[i].Y
		r := 2 * i

		// x = (h00 X + h01 Y + h02)/(h20 X + h21 Y + 1)
		a[r] = [8]float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x}
		b[r] = x

		// y = (h10 X + h11 Y + h12)/(h20 X + h21 Y + 1)
		a[r+1] = [8]float64{0, 0, 0, X, Y, 1, -X * y, -Y * y}
		b[r+1] = y
	}

	h, ok := solve8x8(a, b)
	if !ok {
		return Matrix{}, false
	}
	return Matrix{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}, true
}

// solve8x8 runs Gauss-Jordan elimination with partial pivoting.
func solve8x8(a [8][8]float64, b [8]float64) ([8]float64, bool) {
	for i := range 8 {
		if !pivotAndNormalize(&a, &b, i) {
			return [8]float64{}, false
		}
		eliminateColumn(&a, &b, i)
	}
	return b, true
}

func pivotAndNormalize(m *[8][8]float64, v *[8]float64, col int) bool {
	pivot := findPivotRow(m, col)
	if pivot == -1 {
		return false
	}
	if pivot != col {
		m[col], m[pivot] = m[pivot], m[col]
		v[col], v[pivot] = v[pivot], v[col]
	}

	div := m[col][col]
	for c := col; c < 8; c++ {
		m[col][c] /= div
	}
	v[col] /= div
	return true
}

func findPivotRow(m *[8][8]float64, col int) int {
	best, row := math.Abs(m[col][col]), col
	for r := col + 1; r < 8; r++ {
		if v := math.Abs(m[r][col]); v > best {
			best, row = v, r
		}
	}
	if best < pivotEpsilon {
		return -1
	}
	return row
}

func eliminateColumn(m *[8][8]float64, v *[8]float64, col int) {
	for r := range 8 {
		if r == col || m[r][col] == 0 {
			continue
		}
		factor := m[r][col]
		for c := col; c < 8; c++ {
			m[r][c] -= factor * m[col][c]
		}
		v[r] -= factor * v[col]
	}
}

// leastSquaresHomography fits H mapping src -> dst over all pairs with the normalized
// DLT: the right singular vector of the 2n x 9 design matrix with the smallest
// singular value.
func leastSquaresHomography(src, dst []utils.Point) (Matrix, bool) {
	n := len(src)
	if n < 4 || len(dst) != n {
		return Matrix{}, false
	}

	ts, td := normalizingTransform(src), normalizingTransform(dst)
	a := mat.NewDense(2*n, 9, nil)
	for i := range n {
		s, _ := ts.ProjectPoint(src[i])
		d, _ := td.ProjectPoint(dst[i])
		x, y, u, v := s.X, s.Y, d.X, d.Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFullV) {
		return Matrix{}, false
	}
	var vt mat.Dense
	svd.VTo(&vt)

	var hn Matrix
	for i := range 9 {
		hn[i] = vt.At(i, 8)
	}

	tdInv, ok := similarityInverse(td)
	if !ok {
		return Matrix{}, false
	}
	h := tdInv.Mul(hn).Mul(ts).Normalized()
	if !h.IsFinite() {
		return Matrix{}, false
	}
	return h, true
}
