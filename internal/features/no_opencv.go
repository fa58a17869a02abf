//go:build !gocv

package features

import (
	"errors"
	"log/slog"
)

// ErrNoOpenCV is returned when the OpenCV backend is requested in a build without it.
var ErrNoOpenCV = errors.New("features: opencv backend not linked; build with -tags=gocv")

// NewOpenCVDetector is unavailable in this build.
func NewOpenCVDetector(_ DetectorVariant, _ DetectorOptions, _ *slog.Logger) (Detector, error) {
	return nil, ErrNoOpenCV
}
