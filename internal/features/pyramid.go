package features

import (
	"math"

	"github.com/disintegration/imaging"

	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

// pyramid holds successively downscaled copies of a gray image. scales[l] maps level-l
// coordinates to level 0.
type pyramid struct {
	levels []*imagebuf.Image
	scales []float64
}

// buildPyramid stops early once a level would be smaller than minSize on either side.
func buildPyramid(img *imagebuf.Image, levels int, scaleFactor float64, minSize int) *pyramid {
	p := &pyramid{
		levels: []*imagebuf.Image{img},
		scales: []float64{1},
	}
	if levels <= 1 {
		return p
	}

	src := img.ToImage()
	for l := 1; l < levels; l++ {
		s := math.Pow(scaleFactor, float64(l))
		w := int(math.Round(float64(img.Width) / s))
		h := int(math.Round(float64(img.Height) / s))
		if w < minSize || h < minSize {
			break
		}
		resized := imaging.Resize(src, w, h, imaging.Linear)
		p.levels = append(p.levels, imagebuf.FromImage(resized).ToGray())
		p.scales = append(p.scales, s)
	}
	return p
}

// smoothed returns a copy of the pyramid with every level Gaussian blurred.
func (p *pyramid) smoothed(sigma float64) *pyramid {
	out := &pyramid{
		levels: make([]*imagebuf.Image, len(p.levels)),
		scales: append([]float64(nil), p.scales...),
	}
	for l, level := range p.levels {
		if sigma <= 0 {
			out.levels[l] = level
			continue
		}
		blurred := imaging.Blur(level.ToImage(), sigma)
		out.levels[l] = imagebuf.FromImage(blurred).ToGray()
	}
	return out
}

// levelQuotas splits total keypoints across levels in geometric proportion, the way
// ORB does: each level gets 1/scaleFactor of the previous one and the last level
// takes the remainder.
func levelQuotas(total, levels int, scaleFactor float64) []int {
	q := make([]int, levels)
	if levels == 1 {
		q[0] = total
		return q
	}

	factor := 1 / scaleFactor
	per := float64(total) * (1 - factor) / (1 - math.Pow(factor, float64(levels)))
	sum := 0
	for l := 0; l < levels-1; l++ {
		q[l] = int(math.Round(per))
		sum += q[l]
		per *= factor
	}
	q[levels-1] = max(total-sum, 0)
	return q
}
