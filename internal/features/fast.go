package features

import (
	"log/slog"

	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

const (
	// fastArc is the number of contiguous circle pixels the segment test requires.
	fastArc = 9
	// fastBorder keeps the radius-3 circle inside the image.
	fastBorder = 3
)

// Bresenham circle of radius 3, clockwise from 12 o'clock.
var fastCircle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

type fastDetector struct {
	opts   DetectorOptions
	logger *slog.Logger
}

func (d *fastDetector) Variant() DetectorVariant { return FAST }

// Detect runs FAST-9 with non-maximum suppression. Output is strongest first.
func (d *fastDetector) Detect(img *imagebuf.Image) ([]Keypoint, error) {
	if err := requireGray("fast", img); err != nil {
		return nil, err
	}

	kps := fastCorners(img, d.opts.FastThreshold, fastBorder)
	sortByResponse(kps)
	if d.opts.MaxFeatures > 0 && len(kps) > d.opts.MaxFeatures {
		kps = kps[:d.opts.MaxFeatures]
	}

	d.logger.Debug("fast detection complete",
		"width", img.Width, "height", img.Height,
		"threshold", d.opts.FastThreshold, "keypoints", len(kps))
	return kps, nil
}

// fastCorners returns suppressed FAST corners in raster order. border must be at
// least fastBorder.
func fastCorners(img *imagebuf.Image, threshold, border int) []Keypoint {
	if border < fastBorder {
		border = fastBorder
	}
	w, h := img.Width, img.Height
	if w < 2*border+1 || h < 2*border+1 {
		return []Keypoint{}
	}

	scores := fastScores(img, threshold, border)
	kps := make([]Keypoint, 0, 64)
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			i := y*w + x
			s := scores[i]
			if s == 0 || !isLocalMax(scores, w, i, s) {
				continue
			}
			kps = append(kps, Keypoint{
				X:        float64(x),
				Y:        float64(y),
				Response: float64(s),
				Scale:    1,
				Angle:    -1,
			})
		}
	}
	return kps
}

func fastScores(img *imagebuf.Image, t, border int) []int {
	w, h := img.Width, img.Height
	pix := img.Pix
	scores := make([]int, w*h)

	var offs [16]int
	for k, c := range fastCircle {
		offs[k] = c[1]*w + c[0]
	}

	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			i := y*w + x
			c := int(pix[i])
			hi, lo := c+t, c-t

			// a 9-pixel arc always covers at least two compass points
			bright, dark := 0, 0
			for _, k := range [4]int{0, 4, 8, 12} {
				p := int(pix[i+offs[k]])
				if p > hi {
					bright++
				} else if p < lo {
					dark++
				}
			}
			if bright < 2 && dark < 2 {
				continue
			}

			var ring [16]int
			for k := range ring {
				ring[k] = int(pix[i+offs[k]])
			}
			scores[i] = segmentScore(&ring, c, t)
		}
	}
	return scores
}

// segmentScore returns 0 when no arc passes, otherwise the larger of the bright and
// dark sums of |p-c|-t.
func segmentScore(ring *[16]int, c, t int) int {
	if !hasArc(ring, c+t, true) && !hasArc(ring, c-t, false) {
		return 0
	}
	sumBright, sumDark := 0, 0
	for _, p := range ring {
		switch {
		case p > c+t:
			sumBright += p - c - t
		case p < c-t:
			sumDark += c - t - p
		}
	}
	return max(sumBright, sumDark)
}

func hasArc(ring *[16]int, bound int, bright bool) bool {
	run := 0
	for k := 0; k < 16+fastArc-1; k++ {
		p := ring[k%16]
		if (bright && p > bound) || (!bright && p < bound) {
			run++
			if run >= fastArc {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// isLocalMax applies 3x3 suppression. Among equal scores the first in raster order wins.
func isLocalMax(scores []int, w, i, s int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := scores[i+dy*w+dx]
			before := dy < 0 || (dy == 0 && dx < 0)
			if n > s || (before && n == s) {
				return false
			}
		}
	}
	return true
}
