package features

import (
	"math"
	"math/rand"

	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

const (
	// BinaryDescriptorBytes is the length of ORB and BRIEF descriptors.
	BinaryDescriptorBytes = 32

	briefPairs       = BinaryDescriptorBytes * 8
	briefPatchRadius = 15
	// briefRadius bounds a rotated test point: ceil(15*sqrt(2)) plus rounding.
	briefRadius      = 22
	briefPatternSeed = 0x0b51ef
)

type pointPair struct {
	x1, y1, x2, y2 int
}

// briefPattern is drawn once from an isotropic Gaussian (sigma = patch/5) clipped to
// the 31x31 patch. The fixed seed makes descriptors comparable across processes.
var briefPattern = generateBRIEFPattern(briefPatternSeed)

func generateBRIEFPattern(seed int64) []pointPair {
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic sampling pattern, not security relevant
	sigma := float64(2*briefPatchRadius+1) / 5
	draw := func() int {
		for {
			v := math.Round(r.NormFloat64() * sigma)
			if math.Abs(v) <= briefPatchRadius {
				return int(v)
			}
		}
	}

	pairs := make([]pointPair, 0, briefPairs)
	for len(pairs) < briefPairs {
		p := pointPair{draw(), draw(), draw(), draw()}
		if p.x1 == p.x2 && p.y1 == p.y2 {
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs
}

// briefExtractor produces 256-bit binary descriptors. With steer set the pattern is
// rotated by the keypoint angle (rBRIEF, used by ORB).
type briefExtractor struct {
	extractorBase
	variant DescriptorVariant
	steer   bool
}

func (e *briefExtractor) Kind() DescriptorKind       { return Binary }
func (e *briefExtractor) Variant() DescriptorVariant { return e.variant }

func (e *briefExtractor) Extract(img *imagebuf.Image, kps []Keypoint) ([]Keypoint, []Descriptor, error) {
	if err := requireGray(e.variant.String(), img); err != nil {
		return nil, nil, err
	}
	if len(kps) == 0 {
		return []Keypoint{}, []Descriptor{}, nil
	}

	pyr := e.prepare(img, kps)
	kept := make([]Keypoint, 0, len(kps))
	descs := make([]Descriptor, 0, len(kps))
	for _, kp := range kps {
		level, x, y, ok := locate(pyr, kp, briefRadius)
		if !ok {
			continue
		}
		cx, cy := int(math.Round(x)), int(math.Round(y))

		cosA, sinA := 1.0, 0.0
		if e.steer {
			if !kp.Oriented() {
				kp.Angle = centroidAngle(level, cx, cy)
			}
			rad := kp.Angle * math.Pi / 180
			cosA, sinA = math.Cos(rad), math.Sin(rad)
		}

		kept = append(kept, kp)
		descs = append(descs, Descriptor{Binary: briefDescribe(level, cx, cy, cosA, sinA)})
	}

	e.logDone(e.variant, len(kps), len(kept))
	return kept, descs, nil
}

func briefDescribe(level *imagebuf.Image, cx, cy int, cosA, sinA float64) []byte {
	out := make([]byte, BinaryDescriptorBytes)
	w := level.Width
	at := func(x, y int) byte {
		rx := int(math.Round(float64(x)*cosA - float64(y)*sinA))
		ry := int(math.Round(float64(x)*sinA + float64(y)*cosA))
		return level.Pix[(cy+ry)*w+cx+rx]
	}
	for i, p := range briefPattern {
		if at(p.x1, p.y1) < at(p.x2, p.y2) {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}
