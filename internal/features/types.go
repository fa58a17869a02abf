package features

import (
	"fmt"
	"strings"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

// Keypoint is a detected interest point in level-0 pixel coordinates.
type Keypoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Response float64 `json:"response"`
	// Scale is the pyramid scale of the octave the point was found at (1 for octave 0).
	Scale float64 `json:"scale"`
	// Angle is in degrees within [0,360), or -1 when unoriented.
	Angle  float64 `json:"angle"`
	Octave int     `json:"octave"`
}

// Oriented reports whether the keypoint carries an orientation.
func (k Keypoint) Oriented() bool { return k.Angle >= 0 }

// DescriptorKind tells binary descriptors from float ones.
type DescriptorKind int

const (
	Binary DescriptorKind = iota
	Float
)

func (k DescriptorKind) String() string {
	switch k {
	case Binary:
		return "binary"
	case Float:
		return "float"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Descriptor holds exactly one of Binary or Float.
type Descriptor struct {
	Binary []byte    `json:"binary,omitempty"`
	Float  []float32 `json:"float,omitempty"`
}

// Kind reports which payload is set.
func (d Descriptor) Kind() DescriptorKind {
	if d.Float != nil {
		return Float
	}
	return Binary
}

// Len returns the payload length in elements.
func (d Descriptor) Len() int {
	if d.Float != nil {
		return len(d.Float)
	}
	return len(d.Binary)
}

// DetectorVariant is the closed set of keypoint detectors.
type DetectorVariant int

const (
	FAST DetectorVariant = iota
	ORB
)

func (v DetectorVariant) String() string {
	switch v {
	case FAST:
		return "fast"
	case ORB:
		return "orb"
	default:
		return fmt.Sprintf("detector(%d)", int(v))
	}
}

// ParseDetectorVariant parses a configuration value (case insensitive).
func ParseDetectorVariant(s string) (DetectorVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return FAST, nil
	case "orb":
		return ORB, nil
	default:
		return 0, common.NewInvalidInput("features", "unknown detector %q (want fast or orb)", s)
	}
}

// DescriptorVariant is the closed set of descriptor extractors.
type DescriptorVariant int

const (
	DescriptorORB DescriptorVariant = iota
	DescriptorBRIEF
	DescriptorPatch
)

func (v DescriptorVariant) String() string {
	switch v {
	case DescriptorORB:
		return "orb"
	case DescriptorBRIEF:
		return "brief"
	case DescriptorPatch:
		return "patch"
	default:
		return fmt.Sprintf("descriptor(%d)", int(v))
	}
}

// Kind returns the descriptor kind the variant produces.
func (v DescriptorVariant) Kind() DescriptorKind {
	if v == DescriptorPatch {
		return Float
	}
	return Binary
}

// ParseDescriptorVariant parses a configuration value (case insensitive).
func ParseDescriptorVariant(s string) (DescriptorVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "orb":
		return DescriptorORB, nil
	case "brief":
		return DescriptorBRIEF, nil
	case "patch":
		return DescriptorPatch, nil
	default:
		return 0, common.NewInvalidInput("features", "unknown descriptor %q (want orb, brief or patch)", s)
	}
}

func requireGray(op string, img *imagebuf.Image) error {
	if err := img.Validate(); err != nil {
		return err
	}
	if img.Layout != imagebuf.Gray {
		return common.NewInvalidInput(op, "expected single-channel image, got %s; convert with ToGray first", img.Layout)
	}
	return nil
}
