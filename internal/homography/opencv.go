//go:build gocv

package homography

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"gocv.io/x/gocv"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

// OpenCVAvailable reports whether this build links OpenCV.
const OpenCVAvailable = true

// ErrNoOpenCV is never returned when the backend is linked.
var ErrNoOpenCV = errors.New("homography: opencv backend not linked; build with -tags=gocv")

// OpenCVEstimator delegates to cv::findHomography with the same RANSAC parameters.
type OpenCVEstimator struct {
	params Params
	logger *slog.Logger
}

// NewOpenCV validates params the same way New does.
func NewOpenCV(params Params, logger *slog.Logger) (*OpenCVEstimator, error) {
	est, err := New(params, logger)
	if err != nil {
		return nil, err
	}
	return &OpenCVEstimator{params: est.params, logger: est.logger}, nil
}

func pointsMat(pts []utils.Point) gocv.Mat {
	m := gocv.NewMatWithSize(len(pts), 2, gocv.MatTypeCV32F)
	for i, p := range pts {
		m.SetFloatAt(i, 0, float32(p.X))
		m.SetFloatAt(i, 1, float32(p.Y))
	}
	return m
}

// Estimate maps query onto train like Estimator.Estimate.
func (o *OpenCVEstimator) Estimate(ctx context.Context, train, query []utils.Point) (*Result, error) {
	if len(train) != len(query) {
		return nil, common.NewInvalidInput("homography", "train has %d points, query has %d", len(train), len(query))
	}
	n := len(query)
	if n < MinCorrespondences {
		return nil, &common.InsufficientCorrespondencesError{Got: n, Need: MinCorrespondences}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := pointsMat(query)
	defer src.Close()
	dst := pointsMat(train)
	defer dst.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	h := gocv.FindHomography(src, &dst, gocv.HomograpyMethodRANSAC, o.params.Threshold, &mask,
		o.params.MaxIterations, o.params.Confidence)
	defer h.Close()
	if h.Empty() {
		return nil, &common.EstimationFailure{Total: n, Required: MinCorrespondences, Reason: "opencv returned no model"}
	}

	var m Matrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[r*3+c] = h.GetDoubleAt(r, c)
		}
	}
	m = m.Normalized()

	inlierMask := make([]bool, n)
	inliers := 0
	for i := 0; i < n && i < mask.Rows(); i++ {
		if mask.GetUCharAt(i, 0) != 0 {
			inlierMask[i] = true
			inliers++
		}
	}

	required := max(MinCorrespondences, int(math.Ceil(o.params.MinInlierRatio*float64(n))))
	if inliers < required {
		return nil, &common.EstimationFailure{Inliers: inliers, Required: required, Total: n}
	}

	res := &Result{Matrix: m, InlierMask: inlierMask, Inliers: inliers, Refined: true}
	res.Residuals, res.RMSE = residuals(m, train, query, inlierMask)
	o.logger.Debug("opencv homography complete", "inliers", inliers, "total", n, "rmse", res.RMSE)
	return res, nil
}
