// Command generate-workspace writes a synthetic registration workspace: a textured
// reference, targets warped by known random homographies and a truth.yaml with the
// planted matrices.
package main

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/homography"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
	"github.com/blacksoil/HomographyAnalyzer/internal/logging"
	"github.com/blacksoil/HomographyAnalyzer/internal/testutil"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
	"github.com/blacksoil/HomographyAnalyzer/internal/warp"
)

// TruthFile is the name of the ground truth written next to input/.
const TruthFile = "truth.yaml"

// Options control the generated workspace.
type Options struct {
	Dir         string
	Targets     int
	Width       int
	Height      int
	Seed        int64
	MaxShift    float64
	MaxRotation float64 // degrees
	MaxScale    float64 // relative, 0.1 allows 0.9..1.1
	MaxTilt     float64 // perspective coefficient
	Noise       int     // targets made of noise only
}

// Truth records what was planted in each target.
type Truth struct {
	Seed      int64         `yaml:"seed"`
	Reference string        `yaml:"reference"`
	Width     int           `yaml:"width"`
	Height    int           `yaml:"height"`
	Targets   []TargetTruth `yaml:"targets"`
}

// TargetTruth holds the planted transform of one target. Planted maps reference pixels
// onto the target; Expected is its inverse, the transform registration should recover.
type TargetTruth struct {
	Name     string      `yaml:"name"`
	File     string      `yaml:"file"`
	Noise    bool        `yaml:"noise,omitempty"`
	Planted  [][]float64 `yaml:"planted,omitempty,flow"`
	Expected [][]float64 `yaml:"expected,omitempty,flow"`
}

func main() {
	opts := Options{}
	var logLevel string

	fs := pflag.NewFlagSet("generate-workspace", pflag.ExitOnError)
	fs.StringVarP(&opts.Dir, "dir", "d", "testdata/workspace", "workspace directory to create")
	fs.IntVarP(&opts.Targets, "targets", "n", 5, "number of warped targets")
	fs.IntVar(&opts.Width, "width", testutil.LargeSize.Width, "image width")
	fs.IntVar(&opts.Height, "height", testutil.LargeSize.Height, "image height")
	fs.Int64Var(&opts.Seed, "seed", 1, "random seed for scene and transforms")
	fs.Float64Var(&opts.MaxShift, "max-shift", 20, "maximum translation in pixels")
	fs.Float64Var(&opts.MaxRotation, "max-rotation", 8, "maximum rotation in degrees")
	fs.Float64Var(&opts.MaxScale, "max-scale", 0.08, "maximum relative scale change")
	fs.Float64Var(&opts.MaxTilt, "max-tilt", 1e-4, "maximum perspective coefficient")
	fs.IntVar(&opts.Noise, "noise", 0, "number of additional pure noise targets")
	fs.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate a synthetic workspace with known homographies.\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	logger, _, err := logging.New(logging.Config{Level: logLevel, Format: "text"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	truth, err := Generate(opts, logger)
	if err != nil {
		slog.Error("Failed to generate workspace", "error", err)
		os.Exit(1)
	}
	slog.Info("Workspace generated", "dir", opts.Dir, "targets", len(truth.Targets))
}

// Generate writes the workspace described by opts and returns the planted truth.
func Generate(opts Options, logger *slog.Logger) (*Truth, error) {
	if opts.Targets < 0 || opts.Noise < 0 {
		return nil, fmt.Errorf("target counts must not be negative")
	}
	if opts.Width < 32 || opts.Height < 32 {
		return nil, fmt.Errorf("image must be at least 32x32, got %dx%d", opts.Width, opts.Height)
	}

	input := filepath.Join(opts.Dir, batch.InputDir)
	if err := os.MkdirAll(input, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create input directory: %w", err)
	}

	r := rand.New(rand.NewSource(opts.Seed)) //nolint:gosec // reproducible synthetic data
	scene := testutil.TexturedScene(opts.Width, opts.Height, opts.Seed)
	refFile := batch.ReferenceName + ".png"
	if err := save(filepath.Join(input, refFile), scene); err != nil {
		return nil, err
	}

	w, err := warp.New(warp.DefaultOptions(), logger)
	if err != nil {
		return nil, err
	}

	truth := &Truth{Seed: opts.Seed, Reference: refFile, Width: opts.Width, Height: opts.Height}
	for i := range opts.Targets {
		name := strconv.Itoa(i + 1)
		planted := randomHomography(r, opts)
		expected, err := planted.Inverse()
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", name, err)
		}

		img, err := w.Warp(scene, planted, opts.Width, opts.Height)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", name, err)
		}
		if err := save(filepath.Join(input, name+".png"), img); err != nil {
			return nil, err
		}
		truth.Targets = append(truth.Targets, TargetTruth{
			Name:     name,
			File:     name + ".png",
			Planted:  rows(planted),
			Expected: rows(expected.Normalized()),
		})
		logger.Debug("target written", "name", name, "planted", planted.String())
	}

	for i := range opts.Noise {
		name := strconv.Itoa(opts.Targets + i + 1)
		img := testutil.NoiseImage(opts.Width, opts.Height, r.Int63())
		if err := save(filepath.Join(input, name+".png"), img); err != nil {
			return nil, err
		}
		truth.Targets = append(truth.Targets, TargetTruth{Name: name, File: name + ".png", Noise: true})
	}

	data, err := yaml.Marshal(truth)
	if err != nil {
		return nil, fmt.Errorf("failed to encode truth: %w", err)
	}
	if err := os.WriteFile(filepath.Join(opts.Dir, TruthFile), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write truth: %w", err)
	}
	return truth, nil
}

// randomHomography composes a rotation and scale about the image centre with a shift
// and a small perspective tilt.
func randomHomography(r *rand.Rand, opts Options) homography.Matrix {
	uniform := func(limit float64) float64 { return (2*r.Float64() - 1) * limit }

	cx, cy := float64(opts.Width)/2, float64(opts.Height)/2
	theta := uniform(opts.MaxRotation) * math.Pi / 180
	s := 1 + uniform(opts.MaxScale)
	cos, sin := s*math.Cos(theta), s*math.Sin(theta)

	toOrigin := homography.Matrix{1, 0, -cx, 0, 1, -cy, 0, 0, 1}
	similarity := homography.Matrix{cos, -sin, 0, sin, cos, 0, 0, 0, 1}
	tilt := homography.Matrix{1, 0, 0, 0, 1, 0, uniform(opts.MaxTilt), uniform(opts.MaxTilt), 1}
	back := homography.Matrix{1, 0, cx + uniform(opts.MaxShift), 0, 1, cy + uniform(opts.MaxShift), 0, 0, 1}

	return back.Mul(tilt).Mul(similarity).Mul(toOrigin).Normalized()
}

func rows(m homography.Matrix) [][]float64 {
	return [][]float64{
		{m[0], m[1], m[2]},
		{m[3], m[4], m[5]},
		{m[6], m[7], m[8]},
	}
}

func save(path string, img *imagebuf.Image) error {
	if err := utils.SaveImage(path, img.ToImage()); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
