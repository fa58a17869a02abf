package testutil

import (
	"image"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common test image sizes.
	SmallSize  = ImageSize{160, 120}
	MediumSize = ImageSize{320, 240}
	LargeSize  = ImageSize{640, 480}
)

// TexturedScene renders a deterministic gray scene of overlapping rectangles and discs
// over a smooth gradient. The same seed always yields the same pixels.
func TexturedScene(width, height int, seed int64) *imagebuf.Image {
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible test content
	img, _ := imagebuf.New(width, height, imagebuf.Gray)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := 60 + 80*float64(x)/float64(width) + 40*float64(y)/float64(height)
			img.Pix[y*width+x] = byte(v)
		}
	}

	maxSide := max(6, min(width, height)/6)
	shapes := max(12, width*height/900)
	for i := 0; i < shapes; i++ {
		cx, cy := r.Intn(width), r.Intn(height)
		sw, sh := 4+r.Intn(maxSide), 4+r.Intn(maxSide)
		v := byte(r.Intn(256))
		disc := r.Intn(10) < 3

		for y := max(0, cy-sh/2); y < min(height, cy+sh/2); y++ {
			for x := max(0, cx-sw/2); x < min(width, cx+sw/2); x++ {
				if disc {
					dx := float64(x-cx) / (float64(sw) / 2)
					dy := float64(y-cy) / (float64(sh) / 2)
					if dx*dx+dy*dy > 1 {
						continue
					}
				}
				img.Pix[y*width+x] = v
			}
		}
	}
	return img
}

// ColorScene is TexturedScene tinted into an RGBA buffer.
func ColorScene(width, height int, seed int64) *imagebuf.Image {
	gray := TexturedScene(width, height, seed)
	out := gray.ToRGBA()
	for i := 0; i < width*height; i++ {
		v := gray.Pix[i]
		out.Pix[i*4+1] = byte((int(v) * 3) / 4)
		out.Pix[i*4+2] = 255 - v
	}
	return out
}

// NoiseImage fills a gray buffer with uniform random intensities.
func NoiseImage(width, height int, seed int64) *imagebuf.Image {
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible test content
	img, _ := imagebuf.New(width, height, imagebuf.Gray)
	for i := range img.Pix {
		img.Pix[i] = byte(r.Intn(256))
	}
	return img
}

// UniformImage returns a gray buffer with every pixel set to v.
func UniformImage(width, height int, v byte) *imagebuf.Image {
	img, _ := imagebuf.New(width, height, imagebuf.Gray)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// Translate returns a copy of src moved by whole pixels (dx, dy). Uncovered pixels
// are zero.
func Translate(src *imagebuf.Image, dx, dy int) *imagebuf.Image {
	out, _ := imagebuf.New(src.Width, src.Height, src.Layout)
	ch := src.Channels()
	for y := 0; y < src.Height; y++ {
		sy := y - dy
		if sy < 0 || sy >= src.Height {
			continue
		}
		for x := 0; x < src.Width; x++ {
			sx := x - dx
			if sx < 0 || sx >= src.Width {
				continue
			}
			copy(out.Pix[out.Offset(x, y):out.Offset(x, y)+ch], src.Pix[src.Offset(sx, sy):src.Offset(sx, sy)+ch])
		}
	}
	return out
}

// MaxAbsDiff returns the largest per-byte difference between two buffers of equal
// shape, or math.MaxInt when the shapes differ.
func MaxAbsDiff(a, b *imagebuf.Image) int {
	if a.Width != b.Width || a.Height != b.Height || a.Layout != b.Layout {
		return math.MaxInt
	}
	worst := 0
	for i := range a.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		worst = max(worst, d)
	}
	return worst
}

// SaveImage saves an image as PNG, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, EnsureDir(dir), "Failed to create directory %s", dir)

	file, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()

	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// LoadImage decodes an image file.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: Test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")
	return img
}
