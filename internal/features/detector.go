package features

import (
	"log/slog"
	"sort"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

// Detector finds keypoints in a single-channel image.
type Detector interface {
	Detect(img *imagebuf.Image) ([]Keypoint, error)
	Variant() DetectorVariant
}

// DetectorOptions configures both detector variants. Fields a variant does not use are
// ignored.
type DetectorOptions struct {
	// FastThreshold is the segment-test intensity difference.
	FastThreshold int
	// MaxFeatures caps the number of keypoints returned. FAST treats 0 as unlimited.
	MaxFeatures int
	// Levels is the ORB pyramid depth.
	Levels int
	// ScaleFactor is the ratio between consecutive pyramid levels.
	ScaleFactor float64
	// EdgeThreshold is the border, in pixels at each level, where ORB does not detect.
	EdgeThreshold int
}

// DefaultDetectorOptions returns the defaults used by the CLI and server.
func DefaultDetectorOptions() DetectorOptions {
	return DetectorOptions{
		FastThreshold: 20,
		MaxFeatures:   500,
		Levels:        8,
		ScaleFactor:   1.2,
		EdgeThreshold: 31,
	}
}

// Validate checks the options for the given variant.
func (o DetectorOptions) Validate(variant DetectorVariant) error {
	if o.FastThreshold < 1 || o.FastThreshold > 254 {
		return common.NewInvalidInput("detector", "fast threshold must be in [1,254], got %d", o.FastThreshold)
	}
	if o.MaxFeatures < 0 {
		return common.NewInvalidInput("detector", "max features must not be negative, got %d", o.MaxFeatures)
	}
	if variant != ORB {
		return nil
	}
	if o.MaxFeatures == 0 {
		return common.NewInvalidInput("detector", "orb needs a positive max features")
	}
	if o.Levels < 1 {
		return common.NewInvalidInput("detector", "pyramid levels must be at least 1, got %d", o.Levels)
	}
	if o.Levels > 1 && o.ScaleFactor <= 1 {
		return common.NewInvalidInput("detector", "scale factor must be greater than 1, got %g", o.ScaleFactor)
	}
	if o.EdgeThreshold < orientationRadius+1 {
		return common.NewInvalidInput("detector", "edge threshold must be at least %d, got %d",
			orientationRadius+1, o.EdgeThreshold)
	}
	return nil
}

// NewDetector builds the native detector for variant.
func NewDetector(variant DetectorVariant, opts DetectorOptions, logger *slog.Logger) (Detector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.Validate(variant); err != nil {
		return nil, err
	}

	switch variant {
	case FAST:
		return &fastDetector{opts: opts, logger: logger}, nil
	case ORB:
		return &orbDetector{opts: opts, logger: logger}, nil
	default:
		return nil, common.NewInvalidInput("detector", "unsupported detector variant %s", variant)
	}
}

// sortByResponse orders keypoints strongest first; equal responses keep raster order.
func sortByResponse(kps []Keypoint) {
	sort.SliceStable(kps, func(i, j int) bool {
		return kps[i].Response > kps[j].Response
	})
}
