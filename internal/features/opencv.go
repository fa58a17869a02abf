//go:build gocv

package features

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gocv.io/x/gocv"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

// ErrNoOpenCV is never returned when the backend is linked.
var ErrNoOpenCV = errors.New("features: opencv backend not linked; build with -tags=gocv")

type opencvDetector struct {
	variant DetectorVariant
	opts    DetectorOptions
	logger  *slog.Logger
}

// NewOpenCVDetector builds a detector backed by OpenCV's FAST or ORB implementation.
func NewOpenCVDetector(variant DetectorVariant, opts DetectorOptions, logger *slog.Logger) (Detector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.Validate(variant); err != nil {
		return nil, err
	}
	if variant != FAST && variant != ORB {
		return nil, common.NewInvalidInput("detector", "unsupported detector variant %s", variant)
	}
	return &opencvDetector{variant: variant, opts: opts, logger: logger}, nil
}

func (d *opencvDetector) Variant() DetectorVariant { return d.variant }

func (d *opencvDetector) Detect(img *imagebuf.Image) ([]Keypoint, error) {
	if err := requireGray("opencv", img); err != nil {
		return nil, err
	}

	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC1, img.Pix)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap image for opencv: %w", err)
	}
	defer mat.Close()

	var raw []gocv.KeyPoint
	switch d.variant {
	case FAST:
		fast := gocv.NewFastFeatureDetectorWithParams(d.opts.FastThreshold, true, gocv.FastFeatureDetectorType9To16)
		defer fast.Close()
		raw = fast.Detect(mat)
	case ORB:
		orb := gocv.NewORBWithParams(d.opts.MaxFeatures, float32(d.opts.ScaleFactor), d.opts.Levels,
			d.opts.EdgeThreshold, 0, 2, gocv.ORBScoreTypeHarris, 31, d.opts.FastThreshold)
		defer orb.Close()
		raw = orb.Detect(mat)
	}

	kps := make([]Keypoint, 0, len(raw))
	for _, k := range raw {
		kp := Keypoint{
			X:        k.X,
			Y:        k.Y,
			Response: k.Response,
			Scale:    1,
			Angle:    k.Angle,
			Octave:   k.Octave,
		}
		if d.variant == ORB {
			kp.Scale = math.Pow(d.opts.ScaleFactor, float64(k.Octave))
		} else {
			kp.Angle = -1
		}
		kps = append(kps, kp)
	}
	sortByResponse(kps)
	if d.opts.MaxFeatures > 0 && len(kps) > d.opts.MaxFeatures {
		kps = kps[:d.opts.MaxFeatures]
	}

	d.logger.Debug("opencv detection complete", "detector", d.variant.String(), "keypoints", len(kps))
	return kps, nil
}
