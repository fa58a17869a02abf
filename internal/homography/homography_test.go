package homography

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

var planted = Matrix{
	0.92, 0.08, 25,
	-0.05, 1.04, -12,
	0.0002, -0.0001, 1,
}

func assertMatrixNear(t *testing.T, want, got Matrix, tol float64) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], tol*math.Max(1, math.Abs(want[i])), "entry %d: want %v got %v", i, want, got)
	}
}

// plantedCorrespondences projects random query points through h, adds Gaussian noise
// and replaces a fraction of the train points with random outliers.
func plantedCorrespondences(h Matrix, n int, noise, outlierRatio float64, seed int64) (train, query []utils.Point, isInlier []bool) {
	r := rand.New(rand.NewSource(seed))
	train = make([]utils.Point, n)
	query = make([]utils.Point, n)
	isInlier = make([]bool, n)
	for i := range n {
		q := utils.Point{X: r.Float64() * 640, Y: r.Float64() * 480}
		p, _ := h.ProjectPoint(q)
		query[i] = q
		if r.Float64() < outlierRatio {
			train[i] = utils.Point{X: r.Float64() * 640, Y: r.Float64() * 480}
			continue
		}
		train[i] = utils.Point{X: p.X + r.NormFloat64()*noise, Y: p.Y + r.NormFloat64()*noise}
		isInlier[i] = true
	}
	return train, query, isInlier
}

func newEstimator(t *testing.T, mutate func(*Params)) *Estimator {
	t.Helper()
	p := DefaultParams()
	p.Seed = 1
	if mutate != nil {
		mutate(&p)
	}
	e, err := New(p, nil)
	require.NoError(t, err)
	return e
}

func TestEstimate_RecoversPlantedHomography(t *testing.T) {
	train, query, isInlier := plantedCorrespondences(planted, 300, 0.5, 0.3, 42)
	e := newEstimator(t, nil)

	res, err := e.Estimate(context.Background(), train, query)
	require.NoError(t, err)

	plantedInliers, flagged := 0, 0
	for i, in := range isInlier {
		if !in {
			continue
		}
		plantedInliers++
		p, ok := res.Matrix.ProjectPoint(query[i])
		require.True(t, ok)
		clean, _ := planted.ProjectPoint(query[i])
		assert.Less(t, math.Hypot(p.X-clean.X, p.Y-clean.Y), e.Params().Threshold)
		if res.InlierMask[i] {
			flagged++
		}
	}
	assert.GreaterOrEqual(t, float64(flagged), 0.95*float64(plantedInliers))
	assert.Less(t, res.RMSE, 1.5)
	assert.Len(t, res.Residuals, len(query))
	assert.InDelta(t, 1.0, res.Matrix[8], 1e-12)
}

func TestEstimate_RefineTightensTheFit(t *testing.T) {
	train, query, _ := plantedCorrespondences(planted, 400, 1.0, 0.25, 7)

	raw, err := newEstimator(t, func(p *Params) { p.Refine = false }).Estimate(context.Background(), train, query)
	require.NoError(t, err)
	refined, err := newEstimator(t, nil).Estimate(context.Background(), train, query)
	require.NoError(t, err)

	assert.True(t, refined.Refined)
	assert.GreaterOrEqual(t, refined.Inliers, raw.Inliers)
	for _, x := range []float64{0, 320, 640} {
		for _, y := range []float64{0, 240, 480} {
			wx, wy, _ := planted.Project(x, y)
			gx, gy, ok := refined.Matrix.Project(x, y)
			require.True(t, ok)
			assert.Less(t, math.Hypot(gx-wx, gy-wy), 1.0, "at (%v,%v)", x, y)
		}
	}
}

func TestEstimate_IdentityWithAllInliers(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	pts := make([]utils.Point, 50)
	for i := range pts {
		pts[i] = utils.Point{X: r.Float64() * 200, Y: r.Float64() * 150}
	}

	res, err := newEstimator(t, nil).Estimate(context.Background(), pts, pts)
	require.NoError(t, err)
	assertMatrixNear(t, Identity(), res.Matrix, 1e-8)
	assert.Equal(t, len(pts), res.Inliers)
	assert.InDelta(t, 1.0, res.InlierRatio(), 1e-12)
	assert.Equal(t, 1, res.Iterations, "a perfect first sample terminates early")
}

func TestEstimate_TooFewCorrespondences(t *testing.T) {
	e := newEstimator(t, nil)
	for n := 0; n < 4; n++ {
		pts := make([]utils.Point, n)
		for i := range pts {
			pts[i] = utils.Point{X: float64(i * 10), Y: float64(i * i)}
		}
		_, err := e.Estimate(context.Background(), pts, pts)
		var insufficient *common.InsufficientCorrespondencesError
		require.True(t, errors.As(err, &insufficient), "n=%d", n)
		assert.Equal(t, n, insufficient.Got)
		assert.Equal(t, 4, insufficient.Need)
	}
}

func TestEstimate_ExactlyFourPoints(t *testing.T) {
	query := []utils.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 80}, {X: 0, Y: 80}}
	train := make([]utils.Point, 4)
	for i, q := range query {
		train[i], _ = planted.ProjectPoint(q)
	}
	res, err := newEstimator(t, nil).Estimate(context.Background(), train, query)
	require.NoError(t, err)
	assertMatrixNear(t, planted, res.Matrix, 1e-6)
	assert.Equal(t, 4, res.Inliers)
}

func TestEstimate_RandomCorrespondencesFail(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	train := make([]utils.Point, 300)
	query := make([]utils.Point, 300)
	for i := range train {
		train[i] = utils.Point{X: r.Float64() * 640, Y: r.Float64() * 480}
		query[i] = utils.Point{X: r.Float64() * 640, Y: r.Float64() * 480}
	}

	_, err := newEstimator(t, nil).Estimate(context.Background(), train, query)
	var failure *common.EstimationFailure
	require.True(t, errors.As(err, &failure), "got %v", err)
	assert.Equal(t, 30, failure.Required)
	assert.Less(t, failure.Inliers, failure.Required)
}

func TestEstimate_CollinearPointsAreDegenerate(t *testing.T) {
	pts := make([]utils.Point, 12)
	for i := range pts {
		pts[i] = utils.Point{X: float64(i * 10), Y: float64(i*5 + 3)}
	}
	_, err := newEstimator(t, func(p *Params) { p.MaxIterations = 20 }).Estimate(context.Background(), pts, pts)
	var failure *common.EstimationFailure
	require.True(t, errors.As(err, &failure))
	assert.Contains(t, failure.Error(), "degenerate")
}

func TestEstimate_Canceled(t *testing.T) {
	train, query, _ := plantedCorrespondences(planted, 100, 0.5, 0.5, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEstimator(t, nil).Estimate(ctx, train, query)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimate_MismatchedLengths(t *testing.T) {
	_, err := newEstimator(t, nil).Estimate(context.Background(), make([]utils.Point, 5), make([]utils.Point, 6))
	var invalid *common.InvalidInputError
	assert.True(t, errors.As(err, &invalid))
}

func TestEstimate_Deterministic(t *testing.T) {
	train, query, _ := plantedCorrespondences(planted, 200, 1, 0.4, 8)
	a, err := newEstimator(t, nil).Estimate(context.Background(), train, query)
	require.NoError(t, err)
	b, err := newEstimator(t, nil).Estimate(context.Background(), train, query)
	require.NoError(t, err)
	assert.Equal(t, a.Matrix, b.Matrix)
	assert.Equal(t, a.InlierMask, b.InlierMask)
}

func TestNew_ValidatesAndClamps(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero threshold", func(p *Params) { p.Threshold = 0 }},
		{"nan threshold", func(p *Params) { p.Threshold = math.NaN() }},
		{"zero iterations", func(p *Params) { p.MaxIterations = 0 }},
		{"confidence one", func(p *Params) { p.Confidence = 1 }},
		{"ratio above one", func(p *Params) { p.MinInlierRatio = 1.5 }},
		{"method", func(p *Params) { p.Method = Method(3) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			_, err := New(p, nil)
			var invalid *common.InvalidInputError
			assert.True(t, errors.As(err, &invalid))
		})
	}

	e := newEstimator(t, func(p *Params) { p.MaxIterations = 50000 })
	assert.Equal(t, MaxIterationsCap, e.Params().MaxIterations)
	assert.Equal(t, 4, e.RequiredInliers(10))
	assert.Equal(t, 30, e.RequiredInliers(300))
}

func TestRequiredIterations(t *testing.T) {
	assert.Equal(t, 0, requiredIterations(10, 10, 0.995))
	assert.Equal(t, math.MaxInt, requiredIterations(0, 10, 0.995))
	// w = 0.5: log(0.005)/log(1-1/16) = 82.1
	assert.Equal(t, 83, requiredIterations(50, 100, 0.995))
}

func TestScoreModel_PointAtInfinityIsOutlier(t *testing.T) {
	h := Matrix{1, 0, 0, 0, 1, 0, 1, 0, 0}
	query := []utils.Point{{X: 0, Y: 5}, {X: 2, Y: 4}}
	train := []utils.Point{{X: 0, Y: 0}, {X: 1, Y: 2}}
	mask := make([]bool, 2)

	assert.Equal(t, 1, scoreModel(h, train, query, 1, mask))
	assert.Equal(t, []bool{false, true}, mask)
}

func TestFourPointHomography_Property(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("4-point DLT reproduces its correspondences", prop.ForAll(
		func(a, b, c, d, g, h float64) bool {
			m := Matrix{1 + a, b, 40 * c, d, 1 + a*b, 30 * g, h / 1000, -a / 2000, 1}
			src := [4]utils.Point{{X: 10, Y: 12}, {X: 310, Y: 20}, {X: 300, Y: 230}, {X: 15, Y: 220}}
			var dst [4]utils.Point
			for i, p := range src {
				q, ok := m.ProjectPoint(p)
				if !ok {
					return true
				}
				dst[i] = q
			}

			ts, td := normalizingTransform(src[:]), normalizingTransform(dst[:])
			var ns, nd [4]utils.Point
			copy(ns[:], transformPoints(ts, src[:]))
			copy(nd[:], transformPoints(td, dst[:]))
			if degenerateSample(nd) {
				return true
			}
			hn, ok := fourPointHomography(ns, nd)
			if !ok {
				return false
			}
			tdInv, _ := similarityInverse(td)
			got := tdInv.Mul(hn).Mul(ts)
			for i, p := range src {
				q, ok := got.ProjectPoint(p)
				if !ok || math.Hypot(q.X-dst[i].X, q.Y-dst[i].Y) > 1e-6 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(-0.3, 0.3),
		gen.Float64Range(-0.3, 0.3),
		gen.Float64Range(-1, 1),
		gen.Float64Range(-0.3, 0.3),
		gen.Float64Range(-1, 1),
		gen.Float64Range(-0.5, 0.5),
	))

	properties.TestingRun(t)
}

func TestSolve8x8(t *testing.T) {
	var a [8][8]float64
	var b [8]float64
	for i := range 8 {
		a[i][i] = 2
		b[i] = float64(i + 1)
	}
	x, ok := solve8x8(a, b)
	require.True(t, ok)
	for i := range 8 {
		assert.InDelta(t, float64(i+1)/2, x[i], 1e-12)
	}

	a[3] = [8]float64{}
	_, ok = solve8x8(a, b)
	assert.False(t, ok)
}

func TestLeastSquaresHomography_Overdetermined(t *testing.T) {
	train, query, _ := plantedCorrespondences(planted, 40, 0, 0, 5)
	h, ok := leastSquaresHomography(query, train)
	require.True(t, ok)
	assertMatrixNear(t, planted, h, 1e-6)

	_, ok = leastSquaresHomography(query[:3], train[:3])
	assert.False(t, ok)
}
