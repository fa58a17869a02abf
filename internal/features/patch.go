package features

import (
	"math"

	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

const (
	// FloatDescriptorLength is the length of PATCH descriptors.
	FloatDescriptorLength = patchGrid * patchGrid

	patchGrid = 8
	patchStep = 2.0
	// patchRadius covers the rotated grid and the orientation disc.
	patchRadius = orientationRadius + 1
)

// patchExtractor samples an oriented 8x8 grid over a 16x16 window and normalizes it to
// zero mean and unit length.
type patchExtractor struct {
	extractorBase
}

func (e *patchExtractor) Kind() DescriptorKind       { return Float }
func (e *patchExtractor) Variant() DescriptorVariant { return DescriptorPatch }

func (e *patchExtractor) Extract(img *imagebuf.Image, kps []Keypoint) ([]Keypoint, []Descriptor, error) {
	if err := requireGray("patch", img); err != nil {
		return nil, nil, err
	}
	if len(kps) == 0 {
		return []Keypoint{}, []Descriptor{}, nil
	}

	pyr := e.prepare(img, kps)
	kept := make([]Keypoint, 0, len(kps))
	descs := make([]Descriptor, 0, len(kps))
	for _, kp := range kps {
		level, x, y, ok := locate(pyr, kp, patchRadius)
		if !ok {
			continue
		}
		if !kp.Oriented() {
			kp.Angle = centroidAngle(level, int(math.Round(x)), int(math.Round(y)))
		}
		kept = append(kept, kp)
		descs = append(descs, Descriptor{Float: patchDescribe(level, x, y, kp.Angle)})
	}

	e.logDone(DescriptorPatch, len(kps), len(kept))
	return kept, descs, nil
}

func patchDescribe(level *imagebuf.Image, x, y, angle float64) []float32 {
	rad := angle * math.Pi / 180
	cosA, sinA := math.Cos(rad), math.Sin(rad)

	vals := make([]float64, FloatDescriptorLength)
	mean := 0.0
	for gy := 0; gy < patchGrid; gy++ {
		for gx := 0; gx < patchGrid; gx++ {
			ox := (float64(gx) - (patchGrid-1)/2.0) * patchStep
			oy := (float64(gy) - (patchGrid-1)/2.0) * patchStep
			v := sampleGray(level, x+ox*cosA-oy*sinA, y+ox*sinA+oy*cosA)
			vals[gy*patchGrid+gx] = v
			mean += v
		}
	}
	mean /= FloatDescriptorLength

	norm := 0.0
	for i := range vals {
		vals[i] -= mean
		norm += vals[i] * vals[i]
	}
	norm = math.Sqrt(norm)

	out := make([]float32, FloatDescriptorLength)
	if norm < 1e-9 {
		return out
	}
	for i, v := range vals {
		out[i] = float32(v / norm)
	}
	return out
}

// sampleGray interpolates bilinearly; the caller keeps (x, y) inside the image.
func sampleGray(img *imagebuf.Image, x, y float64) float64 {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, img.Width-1), min(y0+1, img.Height-1)
	fx, fy := x-float64(x0), y-float64(y0)

	w := img.Width
	p00 := float64(img.Pix[y0*w+x0])
	p10 := float64(img.Pix[y0*w+x1])
	p01 := float64(img.Pix[y1*w+x0])
	p11 := float64(img.Pix[y1*w+x1])

	top := p00 + (p10-p00)*fx
	bottom := p01 + (p11-p01)*fx
	return top + (bottom-top)*fy
}
