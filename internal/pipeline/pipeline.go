// Package pipeline wires detection, description, matching, estimation and warping into
// pairwise image registration.
package pipeline

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strings"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/features"
	"github.com/blacksoil/HomographyAnalyzer/internal/homography"
	"github.com/blacksoil/HomographyAnalyzer/internal/match"
	"github.com/blacksoil/HomographyAnalyzer/internal/warp"
)

// Backend selects the implementation of detection and estimation.
type Backend int

const (
	// Native uses the pure Go detectors and RANSAC estimator.
	Native Backend = iota
	// OpenCV delegates detection and estimation to OpenCV (needs -tags=gocv).
	OpenCV
)

func (b Backend) String() string {
	switch b {
	case Native:
		return "native"
	case OpenCV:
		return "opencv"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ParseBackend parses a configuration value.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "native":
		return Native, nil
	case "opencv", "gocv":
		return OpenCV, nil
	default:
		return 0, common.NewInvalidInput("pipeline", "unknown backend %q", s)
	}
}

// Config holds configuration for the registration pipeline and its components.
type Config struct {
	Detector        features.DetectorVariant
	DetectorOptions features.DetectorOptions

	Descriptor       features.DescriptorVariant
	ExtractorOptions features.ExtractorOptions

	// Metric is used when MetricSet is true; otherwise it follows the descriptor kind.
	Metric     match.Metric
	MetricSet  bool
	CrossCheck bool

	Backend    Backend
	Homography homography.Params
	Warp       warp.Options

	Parallel ParallelConfig
}

// DefaultConfig returns ORB detection with ORB descriptors, Hamming matching and RANSAC.
func DefaultConfig() Config {
	return Config{
		Detector:         features.ORB,
		DetectorOptions:  features.DefaultDetectorOptions(),
		Descriptor:       features.DescriptorORB,
		ExtractorOptions: features.DefaultExtractorOptions(),
		Backend:          Native,
		Homography:       homography.DefaultParams(),
		Warp:             warp.DefaultOptions(),
		Parallel:         DefaultParallelConfig(),
	}
}

// EffectiveMetric is the metric the matcher will be built with.
func (c Config) EffectiveMetric() match.Metric {
	if c.MetricSet {
		return c.Metric
	}
	return match.MetricFor(c.Descriptor.Kind())
}

// Builder constructs a Registrar with fluent configuration.
type Builder struct {
	cfg    Config
	logger *slog.Logger
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithLogger sets the logger handed to every component.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithDetector selects the keypoint detector.
func (b *Builder) WithDetector(v features.DetectorVariant) *Builder {
	b.cfg.Detector = v
	return b
}

// WithDescriptor selects the descriptor extractor.
func (b *Builder) WithDescriptor(v features.DescriptorVariant) *Builder {
	b.cfg.Descriptor = v
	return b
}

// WithMetric forces the matcher metric instead of deriving it from the descriptor.
func (b *Builder) WithMetric(m match.Metric) *Builder {
	b.cfg.Metric = m
	b.cfg.MetricSet = true
	return b
}

// WithFastThreshold sets the FAST segment-test threshold.
func (b *Builder) WithFastThreshold(t int) *Builder {
	b.cfg.DetectorOptions.FastThreshold = t
	return b
}

// WithMaxFeatures caps the keypoints per image.
func (b *Builder) WithMaxFeatures(n int) *Builder {
	b.cfg.DetectorOptions.MaxFeatures = n
	return b
}

// WithPyramid sets the pyramid depth and scale for both detector and extractor.
func (b *Builder) WithPyramid(levels int, scale float64) *Builder {
	b.cfg.DetectorOptions.Levels = levels
	b.cfg.DetectorOptions.ScaleFactor = scale
	b.cfg.ExtractorOptions.Levels = levels
	b.cfg.ExtractorOptions.ScaleFactor = scale
	return b
}

// WithRansacThreshold sets the inlier reprojection threshold in pixels.
func (b *Builder) WithRansacThreshold(px float64) *Builder {
	b.cfg.Homography.Threshold = px
	return b
}

// WithMaxIterations sets the RANSAC iteration budget.
func (b *Builder) WithMaxIterations(n int) *Builder {
	b.cfg.Homography.MaxIterations = n
	return b
}

// WithConfidence sets the RANSAC early-exit confidence.
func (b *Builder) WithConfidence(c float64) *Builder {
	b.cfg.Homography.Confidence = c
	return b
}

// WithMinInlierRatio sets the support a model needs to be accepted.
func (b *Builder) WithMinInlierRatio(r float64) *Builder {
	b.cfg.Homography.MinInlierRatio = r
	return b
}

// WithRefine toggles the least-squares refit over inliers.
func (b *Builder) WithRefine(enabled bool) *Builder {
	b.cfg.Homography.Refine = enabled
	return b
}

// WithSeed makes RANSAC sampling reproducible.
func (b *Builder) WithSeed(seed int64) *Builder {
	b.cfg.Homography.Seed = seed
	return b
}

// WithCrossCheck keeps only mutual nearest neighbours.
func (b *Builder) WithCrossCheck(enabled bool) *Builder {
	b.cfg.CrossCheck = enabled
	return b
}

// WithBackend selects the native or OpenCV implementation.
func (b *Builder) WithBackend(backend Backend) *Builder {
	b.cfg.Backend = backend
	return b
}

// WithWarp sets the border handling of the warper.
func (b *Builder) WithWarp(opts warp.Options) *Builder {
	b.cfg.Warp = opts
	return b
}

// WithParallelWorkers sets the batch worker count (0 = runtime.NumCPU()).
func (b *Builder) WithParallelWorkers(workers int) *Builder {
	b.cfg.Parallel.MaxWorkers = workers
	return b
}

// WithProgressCallback sets the batch progress reporter.
func (b *Builder) WithProgressCallback(callback ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = callback
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks that the variants agree with each other and every option is in range.
func (b *Builder) Validate() error {
	c := b.cfg
	if err := c.DetectorOptions.Validate(c.Detector); err != nil {
		return err
	}
	if err := c.ExtractorOptions.Validate(); err != nil {
		return err
	}
	if c.Detector == features.ORB {
		// Descriptors are sampled from the extractor's pyramid at the keypoint octave.
		if c.ExtractorOptions.Levels < c.DetectorOptions.Levels {
			return common.NewInvalidInput("pipeline", "extractor pyramid has %d levels, detector uses %d",
				c.ExtractorOptions.Levels, c.DetectorOptions.Levels)
		}
		if c.DetectorOptions.Levels > 1 && math.Abs(c.ExtractorOptions.ScaleFactor-c.DetectorOptions.ScaleFactor) > 1e-9 {
			return common.NewInvalidInput("pipeline", "extractor scale factor %g differs from detector scale factor %g",
				c.ExtractorOptions.ScaleFactor, c.DetectorOptions.ScaleFactor)
		}
	}
	if err := c.Homography.Validate(); err != nil {
		return err
	}
	if c.Parallel.MaxWorkers < 0 {
		return common.NewInvalidInput("pipeline", "workers must not be negative, got %d", c.Parallel.MaxWorkers)
	}
	if c.Backend != Native && c.Backend != OpenCV {
		return common.NewInvalidInput("pipeline", "unsupported backend %s", c.Backend)
	}
	if c.MetricSet && c.Metric != match.MetricFor(c.Descriptor.Kind()) {
		return common.NewInvalidInput("pipeline", "metric %s cannot compare %s descriptors (%s)",
			c.Metric, c.Descriptor, c.Descriptor.Kind())
	}
	return nil
}

// Build validates the configuration and constructs every component.
func (b *Builder) Build() (*Registrar, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := b.cfg
	if cfg.Parallel.MaxWorkers == 0 {
		cfg.Parallel.MaxWorkers = runtime.NumCPU()
	}

	r := &Registrar{cfg: cfg, logger: logger}
	var err error

	switch cfg.Backend {
	case OpenCV:
		if r.detector, err = features.NewOpenCVDetector(cfg.Detector, cfg.DetectorOptions, logger); err != nil {
			return nil, fmt.Errorf("init detector: %w", err)
		}
		if r.solver, err = homography.NewOpenCV(cfg.Homography, logger); err != nil {
			return nil, fmt.Errorf("init estimator: %w", err)
		}
	default:
		if r.detector, err = features.NewDetector(cfg.Detector, cfg.DetectorOptions, logger); err != nil {
			return nil, fmt.Errorf("init detector: %w", err)
		}
		if r.solver, err = homography.New(cfg.Homography, logger); err != nil {
			return nil, fmt.Errorf("init estimator: %w", err)
		}
	}

	if r.extractor, err = features.NewExtractor(cfg.Descriptor, cfg.ExtractorOptions, logger); err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	if r.matcher, err = match.New(cfg.EffectiveMetric(), r.extractor.Kind()); err != nil {
		return nil, fmt.Errorf("init matcher: %w", err)
	}
	if r.warper, err = warp.New(cfg.Warp, logger); err != nil {
		return nil, fmt.Errorf("init warper: %w", err)
	}

	logger.Debug("registrar built",
		"detector", cfg.Detector.String(),
		"descriptor", cfg.Descriptor.String(),
		"metric", r.matcher.Metric().String(),
		"backend", cfg.Backend.String(),
		"ransac_threshold", cfg.Homography.Threshold,
		"workers", cfg.Parallel.MaxWorkers)
	return r, nil
}
