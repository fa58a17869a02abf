// Package visualize renders keypoint overlays, correspondence diagrams and residual plots.
package visualize

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/features"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
	"github.com/blacksoil/HomographyAnalyzer/internal/match"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

const (
	// Gap is the horizontal spacing between the two halves of a correspondence diagram.
	Gap = 10
	// CaptionHeight is the band below a correspondence diagram holding its caption.
	CaptionHeight = 18

	markerRadius = 3.0
	tickLength   = 1.5
)

var (
	keypointColor = color.RGBA{0, 255, 0, 255}
	tickColor     = color.RGBA{255, 64, 64, 255}
	captionColor  = color.RGBA{255, 255, 255, 255}

	palette = []color.RGBA{
		{255, 80, 80, 255},
		{80, 255, 80, 255},
		{80, 160, 255, 255},
		{255, 220, 60, 255},
		{255, 80, 255, 255},
		{60, 240, 240, 255},
	}
)

// toCanvas copies img into a new RGBA canvas at offset.
func toCanvas(dst *image.RGBA, img *imagebuf.Image, offset image.Point) {
	src := img.ToImage()
	r := image.Rectangle{Min: offset, Max: offset.Add(image.Pt(img.Width, img.Height))}
	draw.Draw(dst, r, src, image.Point{}, draw.Src)
}

// Keypoints draws a circle of radius 3·Scale around every keypoint. Oriented keypoints
// also get a tick from the centre along their angle.
func Keypoints(img *imagebuf.Image, kps []features.Keypoint) (*image.RGBA, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	toCanvas(out, img, image.Point{})

	for _, kp := range kps {
		drawKeypoint(out, kp, image.Point{})
	}
	return out, nil
}

func drawKeypoint(dst *image.RGBA, kp features.Keypoint, offset image.Point) {
	scale := kp.Scale
	if scale <= 0 {
		scale = 1
	}
	r := markerRadius * scale
	c := utils.Point{X: kp.X + float64(offset.X), Y: kp.Y + float64(offset.Y)}
	if kp.Oriented() {
		a := kp.Angle * math.Pi / 180
		end := utils.Point{X: c.X + tickLength*r*math.Cos(a), Y: c.Y + tickLength*r*math.Sin(a)}
		utils.DrawLine(dst, c, end, tickColor, 1)
	}
	utils.DrawCircle(dst, c, r, keypointColor)
}

// Correspondences places ref on the left and tgt on the right, top aligned and Gap pixels
// apart, and joins each inlier correspondence with a line. Outliers are not drawn.
// Correspondences use target keypoints as query and reference keypoints as train.
func Correspondences(
	ref, tgt *imagebuf.Image,
	refKps, tgtKps []features.Keypoint,
	corr []match.Correspondence,
	mask []bool,
) (*image.RGBA, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := tgt.Validate(); err != nil {
		return nil, err
	}
	if len(mask) != len(corr) {
		return nil, common.NewInvalidInput("visualize", "mask has %d entries for %d correspondences", len(mask), len(corr))
	}

	width := ref.Width + Gap + tgt.Width
	height := max(ref.Height, tgt.Height)
	out := image.NewRGBA(image.Rect(0, 0, width, height+CaptionHeight))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	toCanvas(out, ref, image.Point{})
	tgtOffset := image.Pt(ref.Width+Gap, 0)
	toCanvas(out, tgt, tgtOffset)

	inliers := 0
	for i, c := range corr {
		if !mask[i] {
			continue
		}
		if c.TrainIndex < 0 || c.TrainIndex >= len(refKps) || c.QueryIndex < 0 || c.QueryIndex >= len(tgtKps) {
			return nil, common.NewInvalidInput("visualize", "correspondence %d references keypoint outside range", i)
		}
		a := utils.Point{X: refKps[c.TrainIndex].X, Y: refKps[c.TrainIndex].Y}
		b := utils.OffsetPoint(utils.Point{X: tgtKps[c.QueryIndex].X, Y: tgtKps[c.QueryIndex].Y}, float64(tgtOffset.X), 0)
		col := palette[inliers%len(palette)]
		utils.DrawLine(out, a, b, col, 1)
		utils.DrawDot(out, a, 1, col)
		utils.DrawDot(out, b, 1, col)
		inliers++
	}

	caption(out, fmt.Sprintf("inliers %d/%d", inliers, len(corr)), height)
	return out, nil
}

func caption(dst *image.RGBA, text string, top int) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(captionColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, top+CaptionHeight-5),
	}
	d.DrawString(text)
}
