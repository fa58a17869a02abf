package features

import (
	"log/slog"
	"math"

	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

const (
	harrisBlockSize = 7
	harrisK         = 0.04

	// orientationRadius is the radius of the intensity-centroid disc.
	orientationRadius = 15
)

// Half-widths of the radius-15 disc per row offset.
var orientationUmax = [orientationRadius + 1]int{15, 15, 15, 15, 14, 14, 14, 13, 13, 12, 11, 10, 9, 8, 6, 3}

type orbDetector struct {
	opts   DetectorOptions
	logger *slog.Logger
}

func (d *orbDetector) Variant() DetectorVariant { return ORB }

// Detect runs FAST on every pyramid level, keeps the best keypoints per level by Harris
// response and assigns each an intensity-centroid orientation.
func (d *orbDetector) Detect(img *imagebuf.Image) ([]Keypoint, error) {
	if err := requireGray("orb", img); err != nil {
		return nil, err
	}

	edge := d.opts.EdgeThreshold
	pyr := buildPyramid(img, d.opts.Levels, d.opts.ScaleFactor, 2*edge+1)
	quotas := levelQuotas(d.opts.MaxFeatures, len(pyr.levels), d.opts.ScaleFactor)

	all := make([]Keypoint, 0, d.opts.MaxFeatures)
	for l, level := range pyr.levels {
		cands := fastCorners(level, d.opts.FastThreshold, edge)
		for i := range cands {
			cands[i].Response = harrisResponse(level, int(cands[i].X), int(cands[i].Y))
		}
		sortByResponse(cands)
		if len(cands) > quotas[l] {
			cands = cands[:quotas[l]]
		}

		s := pyr.scales[l]
		for _, kp := range cands {
			kp.Angle = centroidAngle(level, int(kp.X), int(kp.Y))
			kp.X *= s
			kp.Y *= s
			kp.Scale = s
			kp.Octave = l
			all = append(all, kp)
		}
		d.logger.Debug("orb level processed", "level", l, "scale", s, "keypoints", len(cands), "quota", quotas[l])
	}

	sortByResponse(all)
	d.logger.Debug("orb detection complete",
		"width", img.Width, "height", img.Height,
		"levels", len(pyr.levels), "keypoints", len(all))
	return all, nil
}

// harrisResponse computes the Harris corner measure over a 7x7 block of Sobel
// gradients centred on (x, y). The caller keeps (x, y) at least 4 pixels from the edge.
func harrisResponse(img *imagebuf.Image, x, y int) float64 {
	w := img.Width
	pix := img.Pix
	p := func(px, py int) float64 { return float64(pix[py*w+px]) }

	half := harrisBlockSize / 2
	var a, b, c float64
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			px, py := x+dx, y+dy
			ix := (p(px+1, py-1) + 2*p(px+1, py) + p(px+1, py+1)) -
				(p(px-1, py-1) + 2*p(px-1, py) + p(px-1, py+1))
			iy := (p(px-1, py+1) + 2*p(px, py+1) + p(px+1, py+1)) -
				(p(px-1, py-1) + 2*p(px, py-1) + p(px+1, py-1))
			a += ix * ix
			b += iy * iy
			c += ix * iy
		}
	}

	scale := 1.0 / (4 * harrisBlockSize * 255)
	s2 := scale * scale
	a, b, c = a*s2, b*s2, c*s2
	return a*b - c*c - harrisK*(a+b)*(a+b)
}

// centroidAngle returns the intensity-centroid orientation in degrees [0,360). The
// caller keeps (cx, cy) at least orientationRadius pixels from the edge.
func centroidAngle(img *imagebuf.Image, cx, cy int) float64 {
	w := img.Width
	var m01, m10 int
	for dy := -orientationRadius; dy <= orientationRadius; dy++ {
		u := orientationUmax[abs(dy)]
		row := (cy+dy)*w + cx
		rowSum := 0
		for dx := -u; dx <= u; dx++ {
			v := int(img.Pix[row+dx])
			m10 += dx * v
			rowSum += v
		}
		m01 += dy * rowSum
	}

	deg := math.Atan2(float64(m01), float64(m10)) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg -= 360
	}
	return deg
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
