package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/config"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

const (
	outputFormatText = "text"
	outputFormatJSON = "json"
	outputFormatCSV  = "csv"
)

// override replaces *dst with the flag value when the flag was set on the command line.
func override[T any](cmd *cobra.Command, name string, dst *T, get func(string) (T, error)) {
	if cmd.Flags().Lookup(name) == nil || !cmd.Flags().Changed(name) {
		return
	}
	if v, err := get(name); err == nil {
		*dst = v
	}
}

// addRegistrationFlags adds the detector, matcher, estimator and warp flags.
func addRegistrationFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	r := d.Registration
	f := cmd.Flags()
	f.String("detector", r.Detector, "keypoint detector: fast, orb")
	f.String("descriptor", r.Descriptor, "descriptor: orb, brief, patch")
	f.String("metric", r.Metric, "match metric: auto, hamming, l2")
	f.String("backend", r.Backend, "implementation backend: native, opencv")
	f.Bool("cross-check", r.CrossCheck, "keep only mutual nearest neighbours")
	f.Int("fast-threshold", r.FastThreshold, "FAST intensity threshold")
	f.Int("max-features", r.MaxFeatures, "maximum keypoints per image (0 = unlimited)")
	f.Int("levels", r.PyramidLevels, "ORB pyramid levels")
	f.Float64("scale-factor", r.ScaleFactor, "ORB pyramid scale factor")
	f.Float64("ransac-threshold", r.RansacThreshold, "RANSAC inlier threshold in pixels")
	f.Int("max-iterations", r.MaxIterations, "RANSAC iteration cap")
	f.Float64("confidence", r.Confidence, "RANSAC confidence (0..1)")
	f.Float64("min-inlier-ratio", r.MinInlierRatio, "minimum inlier ratio for success (0..1)")
	f.Bool("refine", r.Refine, "refine the homography on all inliers")
	f.Int64("seed", r.Seed, "RANSAC sampling seed")
	f.String("border", d.Warp.Border, "warp border policy: constant, replicate")
	f.String("fill", d.Warp.Fill, "constant border fill color (#RRGGBBAA)")
}

func applyRegistrationFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	r := &cfg.Registration
	override(cmd, "detector", &r.Detector, f.GetString)
	override(cmd, "descriptor", &r.Descriptor, f.GetString)
	override(cmd, "metric", &r.Metric, f.GetString)
	override(cmd, "backend", &r.Backend, f.GetString)
	override(cmd, "cross-check", &r.CrossCheck, f.GetBool)
	override(cmd, "fast-threshold", &r.FastThreshold, f.GetInt)
	override(cmd, "max-features", &r.MaxFeatures, f.GetInt)
	override(cmd, "levels", &r.PyramidLevels, f.GetInt)
	override(cmd, "scale-factor", &r.ScaleFactor, f.GetFloat64)
	override(cmd, "ransac-threshold", &r.RansacThreshold, f.GetFloat64)
	override(cmd, "max-iterations", &r.MaxIterations, f.GetInt)
	override(cmd, "confidence", &r.Confidence, f.GetFloat64)
	override(cmd, "min-inlier-ratio", &r.MinInlierRatio, f.GetFloat64)
	override(cmd, "refine", &r.Refine, f.GetBool)
	override(cmd, "seed", &r.Seed, f.GetInt64)
	override(cmd, "border", &cfg.Warp.Border, f.GetString)
	override(cmd, "fill", &cfg.Warp.Fill, f.GetString)
}

// addArtifactFlags adds the output directory, artifact toggles and report format.
func addArtifactFlags(cmd *cobra.Command) {
	o := config.DefaultConfig().Output
	f := cmd.Flags()
	f.StringP("format", "f", o.Format, "report format: text, json, csv")
	f.String("output-dir", o.Dir, "directory for artifacts")
	f.Bool("keypoints", o.Keypoints, "write <name>_keypoints.png")
	f.Bool("correspondence", o.Correspondence, "write <name>_correspondence.png")
	f.Bool("residual-plot", o.ResidualPlot, "write <name>_residuals.png")
}

func applyArtifactFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	o := &cfg.Output
	override(cmd, "format", &o.Format, f.GetString)
	override(cmd, "output-dir", &o.Dir, f.GetString)
	override(cmd, "keypoints", &o.Keypoints, f.GetBool)
	override(cmd, "correspondence", &o.Correspondence, f.GetBool)
	override(cmd, "residual-plot", &o.ResidualPlot, f.GetBool)
}

// commandConfig returns the loaded configuration with the command's flags applied and
// validated again.
func commandConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := GetConfig()
	applyRegistrationFlags(cmd, cfg)
	applyArtifactFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return cfg, nil
}

func artifactOptions(cfg *config.Config) (batch.ArtifactOptions, error) {
	rois, err := cfg.Output.Polygons()
	if err != nil {
		return batch.ArtifactOptions{}, err
	}
	return batch.ArtifactOptions{
		Keypoints:      cfg.Output.Keypoints,
		Correspondence: cfg.Output.Correspondence,
		ResidualPlot:   cfg.Output.ResidualPlot,
		ROIs:           rois,
	}, nil
}

func buildRegistrar(cfg *config.Config) (*pipeline.Registrar, error) {
	pc, err := cfg.ToPipelineConfig()
	if err != nil {
		return nil, err
	}
	return pipeline.NewBuilder().WithConfig(pc).WithLogger(slog.Default()).Build()
}

// loadImage decodes path into an image buffer.
func loadImage(path string) (*imagebuf.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, common.NewInvalidInput("load", "%v", err)
	}
	if !utils.IsSupportedImage(path) {
		return nil, common.NewInvalidInput("load", "unsupported image format: %s", path)
	}
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return nil, common.NewInvalidInput("load", "%v", err)
	}
	return imagebuf.FromImage(img), nil
}
