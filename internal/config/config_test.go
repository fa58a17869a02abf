package config

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacksoil/HomographyAnalyzer/internal/features"
	"github.com/blacksoil/HomographyAnalyzer/internal/match"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
	"github.com/blacksoil/HomographyAnalyzer/internal/warp"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "orb", cfg.Registration.Detector)
	assert.Equal(t, "orb", cfg.Registration.Descriptor)
	assert.Equal(t, "auto", cfg.Registration.Metric)
	assert.Equal(t, "native", cfg.Registration.Backend)
	assert.Equal(t, "constant", cfg.Warp.Border)
	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, "info.txt", cfg.Output.InfoFile)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Store.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"output format", func(c *Config) { c.Output.Format = "yaml" }, "invalid output format"},
		{"detector", func(c *Config) { c.Registration.Detector = "sift" }, "sift"},
		{"descriptor", func(c *Config) { c.Registration.Descriptor = "surf" }, "surf"},
		{"metric", func(c *Config) { c.Registration.Metric = "cosine" }, "cosine"},
		{"backend", func(c *Config) { c.Registration.Backend = "cuda" }, "cuda"},
		{"border", func(c *Config) { c.Warp.Border = "wrap" }, "wrap"},
		{"fill", func(c *Config) { c.Warp.Fill = "#zzz" }, "hex"},
		{"confidence", func(c *Config) { c.Registration.Confidence = 1.5 }, "registration.confidence"},
		{"inlier ratio", func(c *Config) { c.Registration.MinInlierRatio = -0.1 }, "registration.min_inlier_ratio"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "invalid max upload size"},
		{"timeout", func(c *Config) { c.Server.TimeoutSec = 0 }, "invalid timeout"},
		{"workers", func(c *Config) { c.Batch.Workers = -1 }, "invalid batch workers"},
		{"store dsn", func(c *Config) { c.Store.Enabled = true }, "store.dsn"},
		{"roi points", func(c *Config) { c.Output.ROIs = [][][]float64{{{0, 0}, {1, 1}}} }, "at least 3 points"},
		{"roi coords", func(c *Config) { c.Output.ROIs = [][][]float64{{{0, 0}, {1, 1}, {2}}} }, "want [x, y]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToPipelineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registration.Detector = "fast"
	cfg.Registration.Descriptor = "patch"
	cfg.Registration.Metric = "auto"
	cfg.Registration.CrossCheck = true
	cfg.Registration.FastThreshold = 35
	cfg.Registration.MaxFeatures = 250
	cfg.Registration.PyramidLevels = 4
	cfg.Registration.ScaleFactor = 1.5
	cfg.Registration.RansacThreshold = 2.5
	cfg.Registration.MaxIterations = 700
	cfg.Registration.Seed = 42
	cfg.Warp.Border = "replicate"
	cfg.Warp.Fill = "#ff000080"
	cfg.Batch.Workers = 3

	pc, err := cfg.ToPipelineConfig()
	require.NoError(t, err)

	assert.Equal(t, features.FAST, pc.Detector)
	assert.Equal(t, features.DescriptorPatch, pc.Descriptor)
	assert.False(t, pc.MetricSet)
	assert.Equal(t, match.L2, pc.EffectiveMetric())
	assert.True(t, pc.CrossCheck)
	assert.Equal(t, pipeline.Native, pc.Backend)

	assert.Equal(t, 35, pc.DetectorOptions.FastThreshold)
	assert.Equal(t, 250, pc.DetectorOptions.MaxFeatures)
	assert.Equal(t, 4, pc.DetectorOptions.Levels)
	assert.Equal(t, 4, pc.ExtractorOptions.Levels)
	assert.InDelta(t, 1.5, pc.ExtractorOptions.ScaleFactor, 1e-12)

	assert.InDelta(t, 2.5, pc.Homography.Threshold, 1e-12)
	assert.Equal(t, 700, pc.Homography.MaxIterations)
	assert.Equal(t, int64(42), pc.Homography.Seed)

	assert.Equal(t, warp.Replicate, pc.Warp.Border)
	assert.Equal(t, color.NRGBA{R: 255, A: 128}, pc.Warp.Fill)
	assert.Equal(t, 3, pc.Parallel.MaxWorkers)
}

func TestToPipelineConfig_ExplicitMetric(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registration.Metric = "hamming"

	pc, err := cfg.ToPipelineConfig()
	require.NoError(t, err)
	assert.True(t, pc.MetricSet)
	assert.Equal(t, match.Hamming, pc.Metric)

	// A mismatched metric parses but is rejected when the pipeline validates.
	cfg.Registration.Descriptor = "patch"
	pc, err = cfg.ToPipelineConfig()
	require.NoError(t, err)
	assert.Error(t, pipeline.NewBuilder().WithConfig(pc).Validate())
}

func TestPolygons(t *testing.T) {
	out := OutputConfig{ROIs: [][][]float64{
		{{0, 0}, {10, 0}, {10, 5}},
		{{1, 2}, {3, 4}, {5, 6}, {7, 8}},
	}}
	polys, err := out.Polygons()
	require.NoError(t, err)
	require.Len(t, polys, 2)
	assert.Equal(t, utils.Point{X: 10, Y: 5}, polys[0][2])
	assert.Len(t, polys[1], 4)

	polys, err = OutputConfig{}.Polygons()
	require.NoError(t, err)
	assert.Empty(t, polys)
}
