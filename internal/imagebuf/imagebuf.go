// Package imagebuf provides the dense 8-bit pixel buffer shared by every registration stage.
package imagebuf

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
)

// Layout is the channel layout of a buffer.
type Layout int

const (
	Gray Layout = 1
	RGB  Layout = 3
	RGBA Layout = 4
)

// Channels returns the number of interleaved bytes per pixel.
func (l Layout) Channels() int { return int(l) }

func (l Layout) String() string {
	switch l {
	case Gray:
		return "gray"
	case RGB:
		return "rgb"
	case RGBA:
		return "rgba"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

func (l Layout) valid() bool {
	return l == Gray || l == RGB || l == RGBA
}

// Image is a row-major, interleaved 8-bit image.
// len(Pix) is always Width*Height*Layout.Channels().
type Image struct {
	Width  int
	Height int
	Layout Layout
	Pix    []byte
}

// New allocates a zeroed buffer.
func New(width, height int, layout Layout) (*Image, error) {
	if err := checkDims(width, height, layout); err != nil {
		return nil, err
	}
	return &Image{
		Width:  width,
		Height: height,
		Layout: layout,
		Pix:    make([]byte, width*height*layout.Channels()),
	}, nil
}

// FromBytes copies pix into a new buffer after checking its length.
func FromBytes(width, height int, layout Layout, pix []byte) (*Image, error) {
	if err := checkDims(width, height, layout); err != nil {
		return nil, err
	}
	want := width * height * layout.Channels()
	if len(pix) != want {
		return nil, common.NewInvalidInput("imagebuf", "pixel data has %d bytes, %dx%d %s needs %d",
			len(pix), width, height, layout, want)
	}
	data := make([]byte, want)
	copy(data, pix)
	return &Image{Width: width, Height: height, Layout: layout, Pix: data}, nil
}

func checkDims(width, height int, layout Layout) error {
	if width <= 0 || height <= 0 {
		return common.NewInvalidInput("imagebuf", "dimensions must be positive, got %dx%d", width, height)
	}
	if !layout.valid() {
		return common.NewInvalidInput("imagebuf", "unsupported layout %s", layout)
	}
	return nil
}

// Validate checks the buffer invariant. Buffers built by hand should be validated before
// they are handed to a registration stage.
func (im *Image) Validate() error {
	if im == nil {
		return common.NewInvalidInput("imagebuf", "nil image")
	}
	if err := checkDims(im.Width, im.Height, im.Layout); err != nil {
		return err
	}
	if want := im.Width * im.Height * im.Layout.Channels(); len(im.Pix) != want {
		return common.NewInvalidInput("imagebuf", "pixel data has %d bytes, %dx%d %s needs %d",
			len(im.Pix), im.Width, im.Height, im.Layout, want)
	}
	return nil
}

// Channels is shorthand for im.Layout.Channels().
func (im *Image) Channels() int { return im.Layout.Channels() }

// Offset returns the index of channel 0 of pixel (x, y) in Pix.
func (im *Image) Offset(x, y int) int {
	return (y*im.Width + x) * im.Layout.Channels()
}

// At returns channel c of pixel (x, y). Coordinates are not bounds checked.
func (im *Image) At(x, y, c int) byte {
	return im.Pix[im.Offset(x, y)+c]
}

// Set writes channel c of pixel (x, y).
func (im *Image) Set(x, y, c int, v byte) {
	im.Pix[im.Offset(x, y)+c] = v
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	pix := make([]byte, len(im.Pix))
	copy(pix, im.Pix)
	return &Image{Width: im.Width, Height: im.Height, Layout: im.Layout, Pix: pix}
}

// ToGray converts to a single-channel luma buffer using BT.601 weights. A gray image is
// cloned. Alpha is ignored.
func (im *Image) ToGray() *Image {
	if im.Layout == Gray {
		return im.Clone()
	}
	out := &Image{Width: im.Width, Height: im.Height, Layout: Gray, Pix: make([]byte, im.Width*im.Height)}
	ch := im.Layout.Channels()
	for i := range out.Pix {
		p := im.Pix[i*ch : i*ch+3]
		out.Pix[i] = luma(p[0], p[1], p[2])
	}
	return out
}

func luma(r, g, b byte) byte {
	// fixed-point 0.299, 0.587, 0.114 with 14 fractional bits
	return byte((uint32(r)*4899 + uint32(g)*9617 + uint32(b)*1868 + 8192) >> 14)
}

// ToRGBA expands any layout to RGBA with opaque alpha where the source has none.
func (im *Image) ToRGBA() *Image {
	if im.Layout == RGBA {
		return im.Clone()
	}
	out := &Image{Width: im.Width, Height: im.Height, Layout: RGBA, Pix: make([]byte, im.Width*im.Height*4)}
	ch := im.Layout.Channels()
	for i := 0; i < im.Width*im.Height; i++ {
		d := out.Pix[i*4 : i*4+4]
		if ch == 1 {
			v := im.Pix[i]
			d[0], d[1], d[2] = v, v, v
		} else {
			copy(d[:3], im.Pix[i*ch:i*ch+3])
		}
		d[3] = 0xff
	}
	return out
}

// ToImage converts to a standard library image. Gray maps to *image.Gray, colour layouts
// to *image.NRGBA.
func (im *Image) ToImage() image.Image {
	rect := image.Rect(0, 0, im.Width, im.Height)
	if im.Layout == Gray {
		g := image.NewGray(rect)
		copy(g.Pix, im.Pix)
		return g
	}
	n := image.NewNRGBA(rect)
	if im.Layout == RGBA {
		copy(n.Pix, im.Pix)
		return n
	}
	copy(n.Pix, im.ToRGBA().Pix)
	return n
}

// FromImage copies a standard library image into a buffer. *image.Gray stays single
// channel, everything else becomes RGBA.
func FromImage(img image.Image) *Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if g, ok := img.(*image.Gray); ok {
		out := &Image{Width: w, Height: h, Layout: Gray, Pix: make([]byte, w*h)}
		for y := 0; y < h; y++ {
			row := g.Pix[(y+b.Min.Y-g.Rect.Min.Y)*g.Stride+(b.Min.X-g.Rect.Min.X):]
			copy(out.Pix[y*w:(y+1)*w], row[:w])
		}
		return out
	}

	// imaging.Clone normalizes any image to a zero-origin NRGBA with a tight stride
	n := imaging.Clone(img)
	pix := make([]byte, len(n.Pix))
	copy(pix, n.Pix)
	return &Image{Width: w, Height: h, Layout: RGBA, Pix: pix}
}

// Fill sets every pixel to c.
func (im *Image) Fill(c color.Color) {
	px := Pixel(c, im.Layout)
	ch := im.Layout.Channels()
	for i := 0; i < len(im.Pix); i += ch {
		copy(im.Pix[i:i+ch], px)
	}
}

// Pixel encodes c in the byte order of layout (non-premultiplied).
func Pixel(c color.Color, layout Layout) []byte {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	switch layout {
	case Gray:
		return []byte{luma(n.R, n.G, n.B)}
	case RGB:
		return []byte{n.R, n.G, n.B}
	default:
		return []byte{n.R, n.G, n.B, n.A}
	}
}
