//go:build !gocv

package homography

import (
	"context"
	"errors"
	"log/slog"

	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

// OpenCVAvailable reports whether this build links OpenCV.
const OpenCVAvailable = false

// ErrNoOpenCV is returned by NewOpenCV in builds without the gocv tag.
var ErrNoOpenCV = errors.New("homography: opencv backend not linked; build with -tags=gocv")

// OpenCVEstimator is a placeholder in builds without OpenCV.
type OpenCVEstimator struct{}

// NewOpenCV is unavailable in this build.
func NewOpenCV(_ Params, _ *slog.Logger) (*OpenCVEstimator, error) {
	return nil, ErrNoOpenCV
}

// Estimate always fails with ErrNoOpenCV.
func (o *OpenCVEstimator) Estimate(_ context.Context, _, _ []utils.Point) (*Result, error) {
	return nil, ErrNoOpenCV
}
