package features

import (
	"log/slog"
	"math"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

// Extractor computes descriptors for keypoints. Keypoints whose support region leaves
// the image are dropped; the returned slices stay index-aligned.
type Extractor interface {
	Extract(img *imagebuf.Image, kps []Keypoint) ([]Keypoint, []Descriptor, error)
	Kind() DescriptorKind
	Variant() DescriptorVariant
}

// ExtractorOptions must match the detector's pyramid so octave coordinates line up.
type ExtractorOptions struct {
	Levels      int
	ScaleFactor float64
	// BlurSigma smooths each level before sampling. Zero disables smoothing.
	BlurSigma float64
}

// DefaultExtractorOptions mirrors DefaultDetectorOptions.
func DefaultExtractorOptions() ExtractorOptions {
	return ExtractorOptions{
		Levels:      8,
		ScaleFactor: 1.2,
		BlurSigma:   2,
	}
}

// Validate checks the pyramid depth, scale and smoothing.
func (o ExtractorOptions) Validate() error {
	if o.Levels < 1 {
		return common.NewInvalidInput("extractor", "pyramid levels must be at least 1, got %d", o.Levels)
	}
	if o.Levels > 1 && !(o.ScaleFactor > 1) {
		return common.NewInvalidInput("extractor", "scale factor must be greater than 1, got %g", o.ScaleFactor)
	}
	if !(o.BlurSigma >= 0) || math.IsInf(o.BlurSigma, 0) {
		return common.NewInvalidInput("extractor", "blur sigma must be a finite non-negative number, got %g", o.BlurSigma)
	}
	return nil
}

// NewExtractor builds the extractor for variant.
func NewExtractor(variant DescriptorVariant, opts ExtractorOptions, logger *slog.Logger) (Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	base := extractorBase{opts: opts, logger: logger}
	switch variant {
	case DescriptorORB:
		return &briefExtractor{extractorBase: base, variant: variant, steer: true}, nil
	case DescriptorBRIEF:
		return &briefExtractor{extractorBase: base, variant: variant}, nil
	case DescriptorPatch:
		return &patchExtractor{extractorBase: base}, nil
	default:
		return nil, common.NewInvalidInput("extractor", "unsupported descriptor variant %s", variant)
	}
}

type extractorBase struct {
	opts   ExtractorOptions
	logger *slog.Logger
}

// prepare builds the smoothed pyramid up to the deepest octave referenced by kps.
func (e *extractorBase) prepare(img *imagebuf.Image, kps []Keypoint) *pyramid {
	deepest := 0
	for _, kp := range kps {
		deepest = max(deepest, kp.Octave)
	}
	levels := min(deepest+1, e.opts.Levels)
	return buildPyramid(img, levels, e.opts.ScaleFactor, 1).smoothed(e.opts.BlurSigma)
}

// locate maps kp into its pyramid level and reports whether a disc of radius r around
// it fits.
func locate(pyr *pyramid, kp Keypoint, r int) (*imagebuf.Image, float64, float64, bool) {
	if kp.Octave < 0 || kp.Octave >= len(pyr.levels) {
		return nil, 0, 0, false
	}
	level := pyr.levels[kp.Octave]
	s := pyr.scales[kp.Octave]
	x, y := kp.X/s, kp.Y/s
	cx, cy := int(math.Round(x)), int(math.Round(y))
	if cx < r || cy < r || cx >= level.Width-r || cy >= level.Height-r {
		return nil, 0, 0, false
	}
	return level, x, y, true
}

func (e *extractorBase) logDone(variant DescriptorVariant, in, out int) {
	e.logger.Debug("descriptor extraction complete",
		"descriptor", variant.String(), "keypoints_in", in, "keypoints_kept", out)
}
