package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/features"
	"github.com/blacksoil/HomographyAnalyzer/internal/homography"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
	"github.com/blacksoil/HomographyAnalyzer/internal/match"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
	"github.com/blacksoil/HomographyAnalyzer/internal/warp"
)

// Stage names recorded in PairResult.Timings.
const (
	StageDetect   = "detect"
	StageDescribe = "describe"
	StageMatch    = "match"
	StageEstimate = "estimate"
	StageWarp     = "warp"
)

// Reference is the prepared reference image. It is read-only once returned by Prepare and
// may be shared by any number of concurrent registrations.
type Reference struct {
	Image       *imagebuf.Image
	Keypoints   []features.Keypoint
	Descriptors []features.Descriptor
	// DetectedKeypoints counts keypoints before descriptor extraction dropped any.
	DetectedKeypoints int
}

// PairResult is the outcome of registering one target against the reference.
type PairResult struct {
	Name   string
	Target *imagebuf.Image
	// Keypoints and Descriptors belong to the target.
	Keypoints       []features.Keypoint
	Descriptors     []features.Descriptor
	Correspondences []match.Correspondence
	// Estimate is nil until estimation succeeds. Its matrix maps target pixels onto
	// reference pixels.
	Estimate *homography.Result
	// Warped is the target resampled into the reference frame.
	Warped  *imagebuf.Image
	Timings common.StageTimings
}

// Matrix returns the estimated homography or the zero matrix.
func (p *PairResult) Matrix() homography.Matrix {
	if p.Estimate == nil {
		return homography.Matrix{}
	}
	return p.Estimate.Matrix
}

// InlierMask returns the inlier flags parallel to Correspondences, or nil.
func (p *PairResult) InlierMask() []bool {
	if p.Estimate == nil {
		return nil
	}
	return p.Estimate.InlierMask
}

// Registrar runs pairwise registration. It holds no per-call state and is safe for
// concurrent use.
type Registrar struct {
	cfg       Config
	logger    *slog.Logger
	detector  features.Detector
	extractor features.Extractor
	matcher   *match.Matcher
	solver    homography.Solver
	warper    *warp.Warper
}

// Config returns the registrar configuration.
func (r *Registrar) Config() Config { return r.cfg }

// Logger returns the injected logger.
func (r *Registrar) Logger() *slog.Logger { return r.logger }

// Info summarizes the effective component setup.
func (r *Registrar) Info() map[string]any {
	return map[string]any{
		"detector":         r.cfg.Detector.String(),
		"descriptor":       r.cfg.Descriptor.String(),
		"descriptor_kind":  r.extractor.Kind().String(),
		"metric":           r.matcher.Metric().String(),
		"cross_check":      r.cfg.CrossCheck,
		"backend":          r.cfg.Backend.String(),
		"ransac_threshold": r.cfg.Homography.Threshold,
		"max_iterations":   min(r.cfg.Homography.MaxIterations, homography.MaxIterationsCap),
		"confidence":       r.cfg.Homography.Confidence,
		"border":           r.cfg.Warp.Border.String(),
		"workers":          r.cfg.Parallel.MaxWorkers,
	}
}

// extract runs detection and description on a gray copy of img.
func (r *Registrar) extract(img *imagebuf.Image, timings *common.StageTimings) ([]features.Keypoint, []features.Descriptor, int, error) {
	gray := img.ToGray()

	var kps []features.Keypoint
	err := timings.Track(StageDetect, func() error {
		var err error
		kps, err = r.detector.Detect(gray)
		return err
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("detect: %w", err)
	}
	detected := len(kps)

	var descs []features.Descriptor
	err = timings.Track(StageDescribe, func() error {
		var err error
		kps, descs, err = r.extractor.Extract(gray, kps)
		return err
	})
	if err != nil {
		return nil, nil, detected, fmt.Errorf("describe: %w", err)
	}
	return kps, descs, detected, nil
}

// Prepare computes the reference keypoints and descriptors once. The image is cloned.
func (r *Registrar) Prepare(ctx context.Context, img *imagebuf.Image) (*Reference, error) {
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var timings common.StageTimings
	kps, descs, detected, err := r.extract(img, &timings)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	if len(descs) == 0 {
		return nil, &common.InsufficientDataError{Op: "reference", Reason: "no describable keypoints in reference image"}
	}

	r.logger.Info("reference prepared",
		"width", img.Width, "height", img.Height,
		"keypoints", len(kps), "detected", detected, "timings", timings.String())
	return &Reference{Image: img.Clone(), Keypoints: kps, Descriptors: descs, DetectedKeypoints: detected}, nil
}

// Register aligns target onto ref. On failure the returned PairResult is still non-nil
// whenever the target was accepted, holding whatever the completed stages produced.
func (r *Registrar) Register(ctx context.Context, ref *Reference, target *imagebuf.Image, name string) (*PairResult, error) {
	if ref == nil {
		return nil, common.NewInvalidInput("pipeline", "nil reference")
	}
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("target %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &PairResult{Name: name, Target: target.Clone()}
	logger := r.logger.With("target", name)

	kps, descs, _, err := r.extract(res.Target, &res.Timings)
	if err != nil {
		return res, err
	}
	res.Keypoints, res.Descriptors = kps, descs

	if err := res.Timings.Track(StageMatch, func() error {
		var err error
		res.Correspondences, err = r.correspond(descs, ref.Descriptors)
		return err
	}); err != nil {
		return res, fmt.Errorf("match: %w", err)
	}

	train := make([]utils.Point, len(res.Correspondences))
	query := make([]utils.Point, len(res.Correspondences))
	for i, c := range res.Correspondences {
		tk, rk := res.Keypoints[c.QueryIndex], ref.Keypoints[c.TrainIndex]
		query[i] = utils.Point{X: tk.X, Y: tk.Y}
		train[i] = utils.Point{X: rk.X, Y: rk.Y}
	}

	if err := res.Timings.Track(StageEstimate, func() error {
		var err error
		res.Estimate, err = r.solver.Estimate(ctx, train, query)
		return err
	}); err != nil {
		logger.Warn("estimation failed", "correspondences", len(res.Correspondences), "error", err)
		return res, fmt.Errorf("estimate: %w", err)
	}

	if err := res.Timings.Track(StageWarp, func() error {
		var err error
		res.Warped, err = r.warper.Warp(res.Target, res.Estimate.Matrix, ref.Image.Width, ref.Image.Height)
		return err
	}); err != nil {
		return res, fmt.Errorf("warp: %w", err)
	}

	logger.Info("pair registered",
		"keypoints", len(res.Keypoints),
		"correspondences", len(res.Correspondences),
		"inliers", res.Estimate.Inliers,
		"iterations", res.Estimate.Iterations,
		"rmse", res.Estimate.RMSE,
		"timings", res.Timings.String())
	return res, nil
}

// correspond matches target descriptors (query) against reference descriptors (train).
func (r *Registrar) correspond(target, reference []features.Descriptor) ([]match.Correspondence, error) {
	forward, err := r.matcher.Match(target, reference)
	if err != nil {
		return nil, err
	}
	if !r.cfg.CrossCheck {
		return forward, nil
	}
	backward, err := r.matcher.Match(reference, target)
	if err != nil {
		return nil, err
	}
	return match.CrossCheck(forward, backward), nil
}

// Outcome is the single terminal notification for one submitted pair.
type Outcome struct {
	Index  int
	Name   string
	Result *PairResult
	Err    error
}

// Submit registers target on its own goroutine. The returned channel delivers exactly one
// Outcome and is then closed.
func (r *Registrar) Submit(ctx context.Context, ref *Reference, target *imagebuf.Image, name string) <-chan Outcome {
	out := make(chan Outcome, 1)
	var owned *imagebuf.Image
	if target != nil {
		owned = target.Clone()
	}
	go func() {
		defer close(out)
		res, err := r.Register(ctx, ref, owned, name)
		out <- Outcome{Name: name, Result: res, Err: err}
	}()
	return out
}
