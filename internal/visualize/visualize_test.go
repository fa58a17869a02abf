package visualize

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/features"
	"github.com/blacksoil/HomographyAnalyzer/internal/match"
	"github.com/blacksoil/HomographyAnalyzer/internal/testutil"
)

func TestKeypoints_DrawsMarkers(t *testing.T) {
	img := testutil.UniformImage(60, 40, 0)
	kps := []features.Keypoint{
		{X: 20, Y: 20, Scale: 1, Angle: -1},
		{X: 40, Y: 20, Scale: 2, Angle: 0},
	}

	out, err := Keypoints(img, kps)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 60, 40), out.Bounds())

	assert.Equal(t, keypointColor, out.RGBAAt(23, 20), "radius 3 circle at scale 1")
	assert.Equal(t, keypointColor, out.RGBAAt(46, 20), "radius 6 circle at scale 2")
	assert.Equal(t, tickColor, out.RGBAAt(42, 20), "orientation tick along 0 degrees")
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, out.RGBAAt(20, 20), "unoriented centre untouched")
}

func TestKeypoints_KeepsSourcePixels(t *testing.T) {
	img := testutil.ColorScene(32, 24, 3)
	out, err := Keypoints(img, nil)
	require.NoError(t, err)
	c := out.RGBAAt(5, 7)
	o := img.Offset(5, 7)
	assert.Equal(t, img.Pix[o:o+3], []byte{c.R, c.G, c.B})
}

func TestCorrespondences_DrawsOnlyInliers(t *testing.T) {
	ref := testutil.UniformImage(50, 40, 0)
	tgt := testutil.UniformImage(30, 60, 0)
	refKps := []features.Keypoint{{X: 10, Y: 10}, {X: 10, Y: 30}}
	tgtKps := []features.Keypoint{{X: 5, Y: 10}, {X: 5, Y: 30}}
	corr := []match.Correspondence{
		{QueryIndex: 0, TrainIndex: 0},
		{QueryIndex: 1, TrainIndex: 1},
	}

	out, err := Correspondences(ref, tgt, refKps, tgtKps, corr, []bool{true, false})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 50+Gap+30, 60+CaptionHeight), out.Bounds())

	// inlier line runs horizontally at y=10 across the gap
	assert.Equal(t, palette[0], out.RGBAAt(52, 10))
	// outlier line at y=30 is absent
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, out.RGBAAt(52, 30))

	captionPixels := 0
	for y := 60; y < 60+CaptionHeight; y++ {
		for x := range 80 {
			if out.RGBAAt(x, y) == captionColor {
				captionPixels++
			}
		}
	}
	assert.Positive(t, captionPixels)
}

func TestCorrespondences_Validation(t *testing.T) {
	img := testutil.UniformImage(10, 10, 0)
	kps := []features.Keypoint{{X: 1, Y: 1}}
	var invalid *common.InvalidInputError

	_, err := Correspondences(img, img, kps, kps, []match.Correspondence{{}}, nil)
	assert.True(t, errors.As(err, &invalid))

	_, err = Correspondences(img, img, kps, kps, []match.Correspondence{{QueryIndex: 3}}, []bool{true})
	assert.True(t, errors.As(err, &invalid))

	// out-of-range outliers are never dereferenced
	_, err = Correspondences(img, img, kps, kps, []match.Correspondence{{QueryIndex: 3}}, []bool{false})
	assert.NoError(t, err)
}

func TestResiduals_RendersPNG(t *testing.T) {
	w, err := Residuals([]float64{0.1, 0.4, 0.9, 1.3, 2.2, math.Inf(1)}, 3)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = w.WriteTo(&buf)
	require.NoError(t, err)
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())

	_, err = Residuals([]float64{math.Inf(1)}, 3)
	var insufficient *common.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}
