// Package warp resamples images through a projective transform.
package warp

import (
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/homography"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

// Border decides the value of destination pixels that map outside the source.
type Border int

const (
	// Constant writes Options.Fill.
	Constant Border = iota
	// Replicate clamps the sample position to the nearest edge pixel.
	Replicate
)

func (b Border) String() string {
	switch b {
	case Constant:
		return "constant"
	case Replicate:
		return "replicate"
	default:
		return fmt.Sprintf("border(%d)", int(b))
	}
}

// ParseBorder parses a configuration value.
func ParseBorder(s string) (Border, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "constant":
		return Constant, nil
	case "replicate", "clamp":
		return Replicate, nil
	default:
		return 0, common.NewInvalidInput("warp", "unknown border %q", s)
	}
}

// ParseFill parses #RGB, #RRGGBB or #RRGGBBAA. An empty string is transparent black.
func ParseFill(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(s) {
	case 0:
		return color.NRGBA{}, nil
	case 3:
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]}) + "ff"
	case 6:
		s += "ff"
	case 8:
	default:
		return color.NRGBA{}, common.NewInvalidInput("warp", "fill %q is not a hex colour", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, common.NewInvalidInput("warp", "fill %q is not a hex colour", s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// Options configures a Warper.
type Options struct {
	Border Border
	Fill   color.Color
}

// DefaultOptions is a constant, all-zero border.
func DefaultOptions() Options {
	return Options{Border: Constant, Fill: color.NRGBA{}}
}

// Warper maps images through a homography by inverse mapping and bilinear sampling.
type Warper struct {
	opts   Options
	logger *slog.Logger
}

// New validates opts.
func New(opts Options, logger *slog.Logger) (*Warper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Border != Constant && opts.Border != Replicate {
		return nil, common.NewInvalidInput("warp", "unsupported border %s", opts.Border)
	}
	if opts.Fill == nil {
		opts.Fill = color.NRGBA{}
	}
	return &Warper{opts: opts, logger: logger}, nil
}

// Options returns the effective options.
func (w *Warper) Options() Options { return w.opts }

// Warp renders src as seen through m into a width x height buffer with the layout of src.
// m maps source pixel coordinates to destination pixel coordinates.
func (w *Warper) Warp(src *imagebuf.Image, m homography.Matrix, width, height int) (*imagebuf.Image, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, common.NewInvalidInput("warp", "output size must be positive, got %dx%d", width, height)
	}
	inv, err := m.Inverse()
	if err != nil {
		return nil, err
	}

	out, err := imagebuf.New(width, height, src.Layout)
	if err != nil {
		return nil, err
	}
	fill := imagebuf.Pixel(w.opts.Fill, src.Layout)
	ch := src.Channels()
	px := make([]byte, ch)
	outside := 0

	for y := range height {
		for x := range width {
			dst := out.Pix[out.Offset(x, y) : out.Offset(x, y)+ch]
			sx, sy, ok := inv.Project(float64(x), float64(y))
			if !ok {
				copy(dst, fill)
				outside++
				continue
			}
			if !w.sample(src, sx, sy, px) {
				copy(dst, fill)
				outside++
				continue
			}
			copy(dst, px)
		}
	}

	w.logger.Debug("warp complete",
		"width", width, "height", height, "layout", src.Layout.String(),
		"border", w.opts.Border.String(), "outside", outside)
	return out, nil
}

// sample writes the bilinear interpolation of src at (x, y) into px. It reports false when
// the position is outside the source and the border is constant.
func (w *Warper) sample(src *imagebuf.Image, x, y float64, px []byte) bool {
	maxX, maxY := float64(src.Width-1), float64(src.Height-1)
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	if x < -edgeTolerance || y < -edgeTolerance || x > maxX+edgeTolerance || y > maxY+edgeTolerance {
		if w.opts.Border == Constant {
			return false
		}
	}
	x = math.Min(math.Max(x, 0), maxX)
	y = math.Min(math.Max(y, 0), maxY)

	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, src.Width-1), min(y0+1, src.Height-1)
	fx, fy := x-float64(x0), y-float64(y0)

	o00, o10 := src.Offset(x0, y0), src.Offset(x1, y0)
	o01, o11 := src.Offset(x0, y1), src.Offset(x1, y1)
	for c := range px {
		top := lerp(float64(src.Pix[o00+c]), float64(src.Pix[o10+c]), fx)
		bottom := lerp(float64(src.Pix[o01+c]), float64(src.Pix[o11+c]), fx)
		px[c] = uint8(lerp(top, bottom, fy) + 0.5)
	}
	return true
}

// edgeTolerance absorbs rounding in the inverse matrix so that edge pixels of a
// near-identity warp stay inside the source.
const edgeTolerance = 1e-6

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
