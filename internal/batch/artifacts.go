package batch

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
	"github.com/blacksoil/HomographyAnalyzer/internal/visualize"
)

// Artifact name suffixes.
const (
	SuffixWarped         = "_warped"
	SuffixKeypoints      = "_keypoints"
	SuffixCorrespondence = "_correspondence"
	SuffixResiduals      = "_residuals"
	SuffixROI            = "_roi"
)

// ArtifactOptions selects which images are written next to the warped target.
type ArtifactOptions struct {
	Keypoints      bool
	Correspondence bool
	ResidualPlot   bool
	// ROIs are polygons in reference coordinates cropped from the warped image.
	ROIs [][]utils.Point
}

// ArtifactWriter writes the images of one pair into Dir.
type ArtifactWriter struct {
	Dir     string
	Options ArtifactOptions
	// Threshold is drawn on the residual plot.
	Threshold float64
}

// Write stores the artifacts of res and returns the written paths. The keypoint overlay
// is written whenever the target was described; everything else needs an estimate.
func (w *ArtifactWriter) Write(ref *pipeline.Reference, res *pipeline.PairResult) ([]string, error) {
	if res == nil || res.Target == nil {
		return nil, nil
	}
	if err := os.MkdirAll(w.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	var written []string
	save := func(suffix string, img image.Image) error {
		path := filepath.Join(w.Dir, res.Name+suffix+".png")
		if err := utils.SaveImage(path, img); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if w.Options.Keypoints {
		overlay, err := visualize.Keypoints(res.Target, res.Keypoints)
		if err != nil {
			return written, err
		}
		if err := save(SuffixKeypoints, overlay); err != nil {
			return written, err
		}
	}

	if res.Warped == nil || res.Estimate == nil {
		return written, nil
	}
	warped := res.Warped.ToImage()
	if err := save(SuffixWarped, warped); err != nil {
		return written, err
	}

	if w.Options.Correspondence {
		diagram, err := visualize.Correspondences(ref.Image, res.Target, ref.Keypoints, res.Keypoints,
			res.Correspondences, res.Estimate.InlierMask)
		if err != nil {
			return written, err
		}
		if err := save(SuffixCorrespondence, diagram); err != nil {
			return written, err
		}
	}

	if w.Options.ResidualPlot {
		path, err := w.writeResiduals(res)
		if err != nil {
			return written, err
		}
		if path != "" {
			written = append(written, path)
		}
	}

	for k, poly := range w.Options.ROIs {
		rect := utils.BoundingBox(poly).ToRect(warped.Bounds())
		if rect.Empty() {
			continue
		}
		if err := save(fmt.Sprintf("%s%d", SuffixROI, k), utils.CropImageRect(warped, rect)); err != nil {
			return written, err
		}
	}
	return written, nil
}

// residualValues returns the values plotted for res: the reprojection errors of the
// correspondences the estimate kept.
func residualValues(res *pipeline.PairResult) []float64 {
	if res == nil || res.Estimate == nil {
		return nil
	}
	return res.Estimate.InlierResiduals()
}

// writeResiduals renders the residual histogram. Pairs with no finite inlier residual
// are skipped.
func (w *ArtifactWriter) writeResiduals(res *pipeline.PairResult) (string, error) {
	plot, err := visualize.Residuals(residualValues(res), w.Threshold)
	if err != nil {
		var insufficient *common.InsufficientDataError
		if errors.As(err, &insufficient) {
			return "", nil
		}
		return "", fmt.Errorf("residual plot for %s: %w", res.Name, err)
	}
	path := filepath.Join(w.Dir, res.Name+SuffixResiduals+".png")
	f, err := os.Create(path) //nolint:gosec // path is built from the output directory
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := plot.WriteTo(f); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, f.Close()
}
