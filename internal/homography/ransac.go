// Package homography estimates planar projective transforms from point correspondences.
package homography

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"strings"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

const (
	// MinCorrespondences is the size of a minimal sample.
	MinCorrespondences = 4
	// MaxIterationsCap bounds every RANSAC run.
	MaxIterationsCap = 2000

	DefaultThreshold      = 3.0
	DefaultConfidence     = 0.995
	DefaultMinInlierRatio = 0.1

	maxSampleAttempts = 100
	maxRefinePasses   = 5
)

// Method selects the robust estimation scheme.
type Method int

const (
	RANSAC Method = iota
)

func (m Method) String() string {
	if m == RANSAC {
		return "ransac"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// ParseMethod parses a configuration value.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ransac":
		return RANSAC, nil
	default:
		return 0, common.NewInvalidInput("homography", "unknown method %q", s)
	}
}

// Solver estimates a homography mapping query points onto train points.
type Solver interface {
	Estimate(ctx context.Context, train, query []utils.Point) (*Result, error)
}

// Params configures the estimator.
type Params struct {
	Method Method
	// Threshold is the maximum reprojection error, in pixels, of an inlier.
	Threshold float64
	// MaxIterations is clamped to MaxIterationsCap.
	MaxIterations int
	// Confidence drives adaptive early termination.
	Confidence float64
	// MinInlierRatio is the fraction of correspondences the best model must explain.
	// At least MinCorrespondences inliers are always required.
	MinInlierRatio float64
	// Refine refits the model to all inliers by least squares.
	Refine bool
	// Seed makes sampling reproducible.
	Seed int64
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		Method:         RANSAC,
		Threshold:      DefaultThreshold,
		MaxIterations:  MaxIterationsCap,
		Confidence:     DefaultConfidence,
		MinInlierRatio: DefaultMinInlierRatio,
		Refine:         true,
	}
}

// Validate checks ranges; it does not clamp.
func (p Params) Validate() error {
	if p.Method != RANSAC {
		return common.NewInvalidInput("homography", "unsupported method %s", p.Method)
	}
	if !(p.Threshold > 0) || math.IsInf(p.Threshold, 0) {
		return common.NewInvalidInput("homography", "ransac threshold must be positive, got %g", p.Threshold)
	}
	if p.MaxIterations <= 0 {
		return common.NewInvalidInput("homography", "max iterations must be positive, got %d", p.MaxIterations)
	}
	if !(p.Confidence > 0 && p.Confidence < 1) {
		return common.NewInvalidInput("homography", "confidence must be in (0,1), got %g", p.Confidence)
	}
	if p.MinInlierRatio < 0 || p.MinInlierRatio > 1 {
		return common.NewInvalidInput("homography", "min inlier ratio must be in [0,1], got %g", p.MinInlierRatio)
	}
	return nil
}

// Result is the outcome of a successful estimation.
type Result struct {
	// Matrix maps query coordinates onto train coordinates.
	Matrix     Matrix `json:"matrix"`
	InlierMask []bool `json:"-"`
	Inliers    int    `json:"inliers"`
	Iterations int    `json:"iterations"`
	// Residuals holds the reprojection error of every correspondence under Matrix
	// (+Inf where the point maps to infinity).
	Residuals []float64 `json:"-"`
	// RMSE is the root mean square residual over inliers.
	RMSE    float64 `json:"rmse"`
	Refined bool    `json:"refined"`
}

// InlierRatio is Inliers over the number of correspondences.
func (r *Result) InlierRatio() float64 {
	if len(r.InlierMask) == 0 {
		return 0
	}
	return float64(r.Inliers) / float64(len(r.InlierMask))
}

// InlierResiduals returns the residuals of inliers only.
func (r *Result) InlierResiduals() []float64 {
	out := make([]float64, 0, r.Inliers)
	for i, in := range r.InlierMask {
		if in {
			out = append(out, r.Residuals[i])
		}
	}
	return out
}

// Estimator runs RANSAC over 4-point DLT models. It holds no per-call state and can
// be shared between goroutines.
type Estimator struct {
	params Params
	logger *slog.Logger
}

// New validates params and clamps MaxIterations to MaxIterationsCap.
func New(params Params, logger *slog.Logger) (*Estimator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.MaxIterations > MaxIterationsCap {
		logger.Warn("clamping ransac iterations", "requested", params.MaxIterations, "cap", MaxIterationsCap)
		params.MaxIterations = MaxIterationsCap
	}
	return &Estimator{params: params, logger: logger}, nil
}

// Params returns the effective parameters.
func (e *Estimator) Params() Params { return e.params }

// RequiredInliers is the minimum support for n correspondences.
func (e *Estimator) RequiredInliers(n int) int {
	return max(MinCorrespondences, int(math.Ceil(e.params.MinInlierRatio*float64(n))))
}

// Estimate finds H with train[i] ≈ H·query[i] for the inlier subset.
func (e *Estimator) Estimate(ctx context.Context, train, query []utils.Point) (*Result, error) {
	if len(train) != len(query) {
		return nil, common.NewInvalidInput("homography", "train has %d points, query has %d", len(train), len(query))
	}
	n := len(query)
	if n < MinCorrespondences {
		return nil, &common.InsufficientCorrespondencesError{Got: n, Need: MinCorrespondences}
	}
	for i := range n {
		if !finite(query[i]) || !finite(train[i]) {
			return nil, common.NewInvalidInput("homography", "correspondence %d has a non-finite coordinate", i)
		}
	}

	required := e.RequiredInliers(n)
	tq, tt := normalizingTransform(query), normalizingTransform(train)
	nq, nt := transformPoints(tq, query), transformPoints(tt, train)
	ttInv, _ := similarityInverse(tt)

	rng := rand.New(rand.NewSource(e.params.Seed)) //nolint:gosec // sampling, not security relevant
	thr2 := e.params.Threshold * e.params.Threshold

	mask := make([]bool, n)
	bestMask := make([]bool, n)
	bestCount := -1
	var best Matrix

	limit := e.params.MaxIterations
	iter := 0
	for iter < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iter++

		idx, ok := drawSample(rng, n, nq, nt)
		if !ok {
			continue
		}
		var s, d [4]utils.Point
		for k, i := range idx {
			s[k], d[k] = nq[i], nt[i]
		}
		hn, ok := fourPointHomography(s, d)
		if !ok {
			continue
		}
		h := ttInv.Mul(hn).Mul(tq).Normalized()
		if !h.IsFinite() {
			continue
		}

		count := scoreModel(h, train, query, thr2, mask)
		if count > bestCount {
			bestCount = count
			best = h
			copy(bestMask, mask)
			limit = min(e.params.MaxIterations, requiredIterations(count, n, e.params.Confidence))
		}
	}

	if bestCount < 0 {
		return nil, &common.EstimationFailure{Total: n, Required: required, Reason: "every sample was degenerate"}
	}
	if bestCount < required {
		e.logger.Debug("ransac found insufficient support",
			"inliers", bestCount, "required", required, "total", n, "iterations", iter)
		return nil, &common.EstimationFailure{Inliers: bestCount, Required: required, Total: n}
	}

	res := &Result{Matrix: best, InlierMask: bestMask, Inliers: bestCount, Iterations: iter}
	if e.params.Refine {
		e.refine(res, train, query, thr2)
	}
	res.Residuals, res.RMSE = residuals(res.Matrix, train, query, res.InlierMask)

	e.logger.Debug("ransac complete",
		"inliers", res.Inliers, "total", n, "iterations", iter,
		"refined", res.Refined, "rmse", res.RMSE)
	return res, nil
}

// refine replaces the model with least-squares fits over its inliers. Each pass refits on
// the inlier set of the previous one and is kept only when it retains at least as much
// support; passes stop once the inlier set no longer changes.
func (e *Estimator) refine(res *Result, train, query []utils.Point, thr2 float64) {
	for pass := range maxRefinePasses {
		src := make([]utils.Point, 0, res.Inliers)
		dst := make([]utils.Point, 0, res.Inliers)
		for i, in := range res.InlierMask {
			if in {
				src = append(src, query[i])
				dst = append(dst, train[i])
			}
		}

		h, ok := leastSquaresHomography(src, dst)
		if !ok {
			return
		}
		mask := make([]bool, len(query))
		count := scoreModel(h, train, query, thr2, mask)
		if count < res.Inliers {
			e.logger.Debug("discarding refined model",
				"pass", pass, "inliers_before", res.Inliers, "inliers_after", count)
			return
		}
		same := slices.Equal(mask, res.InlierMask)
		res.Matrix, res.InlierMask, res.Inliers, res.Refined = h, mask, count, true
		if same {
			return
		}
	}
}

// drawSample picks four distinct indices whose points are non-degenerate in both sets.
func drawSample(rng *rand.Rand, n int, query, train []utils.Point) ([4]int, bool) {
	var idx [4]int
	for range maxSampleAttempts {
		for k := 0; k < 4; {
			c := rng.Intn(n)
			if slices.Contains(idx[:k], c) {
				continue
			}
			idx[k] = c
			k++
		}

		var q, t [4]utils.Point
		for k, i := range idx {
			q[k], t[k] = query[i], train[i]
		}
		if !degenerateSample(q) && !degenerateSample(t) {
			return idx, true
		}
	}
	return idx, false
}

// scoreModel fills mask and returns the inlier count. Points whose projection has
// |w| < MinW are outliers.
func scoreModel(h Matrix, train, query []utils.Point, thr2 float64, mask []bool) int {
	count := 0
	for i, q := range query {
		x, y, ok := h.Project(q.X, q.Y)
		if !ok {
			mask[i] = false
			continue
		}
		dx, dy := x-train[i].X, y-train[i].Y
		mask[i] = dx*dx+dy*dy < thr2
		if mask[i] {
			count++
		}
	}
	return count
}

// requiredIterations is the number of samples needed to draw one all-inlier sample
// with the given confidence at the observed inlier ratio.
func requiredIterations(inliers, n int, confidence float64) int {
	w := float64(inliers) / float64(n)
	if w >= 1 {
		return 0
	}
	p := math.Pow(w, MinCorrespondences)
	if p <= 0 {
		return math.MaxInt
	}
	k := math.Log(1-confidence) / math.Log(1-p)
	if math.IsNaN(k) || k > math.MaxInt32 {
		return math.MaxInt
	}
	return int(math.Ceil(k))
}

func residuals(h Matrix, train, query []utils.Point, mask []bool) ([]float64, float64) {
	out := make([]float64, len(query))
	sum, n := 0.0, 0
	for i, q := range query {
		x, y, ok := h.Project(q.X, q.Y)
		if !ok {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = math.Hypot(x-train[i].X, y-train[i].Y)
		if mask[i] {
			sum += out[i] * out[i]
			n++
		}
	}
	if n == 0 {
		return out, 0
	}
	return out, math.Sqrt(sum / float64(n))
}

func finite(p utils.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
