package visualize

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
)

// ResidualBins is the number of histogram bins in a residual plot.
const ResidualBins = 20

// Residuals plots a histogram of inlier reprojection errors as a PNG. Infinite values
// are skipped.
func Residuals(residuals []float64, threshold float64) (io.WriterTo, error) {
	vals := make(plotter.Values, 0, len(residuals))
	for _, r := range residuals {
		if !math.IsInf(r, 0) && !math.IsNaN(r) {
			vals = append(vals, r)
		}
	}
	if len(vals) == 0 {
		return nil, &common.InsufficientDataError{Op: "visualize", Reason: "no finite residuals to plot"}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Inlier reprojection error (threshold %.2f px)", threshold)
	p.X.Label.Text = "error (px)"
	p.Y.Label.Text = "correspondences"

	h, err := plotter.NewHist(vals, ResidualBins)
	if err != nil {
		return nil, fmt.Errorf("could not build histogram: %w", err)
	}
	p.Add(h)

	w, err := p.WriterTo(15*vg.Centimeter, 10*vg.Centimeter, "png")
	if err != nil {
		return nil, fmt.Errorf("could not render plot: %w", err)
	}
	return w, nil
}
