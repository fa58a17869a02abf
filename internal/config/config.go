package config

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/blacksoil/HomographyAnalyzer/internal/features"
	"github.com/blacksoil/HomographyAnalyzer/internal/homography"
	"github.com/blacksoil/HomographyAnalyzer/internal/match"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
	"github.com/blacksoil/HomographyAnalyzer/internal/warp"
)

// Config represents the complete configuration for the homography tool.
// It covers every command (register, batch, detect, serve) and is loaded from
// configuration files, environment variables and command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Log          LogConfig          `mapstructure:"log" yaml:"log" json:"log"`
	Registration RegistrationConfig `mapstructure:"registration" yaml:"registration" json:"registration"`
	Warp         WarpConfig         `mapstructure:"warp" yaml:"warp" json:"warp"`
	Output       OutputConfig       `mapstructure:"output" yaml:"output" json:"output"`
	Batch        BatchConfig        `mapstructure:"batch" yaml:"batch" json:"batch"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server" json:"server"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store" json:"store"`
}

// LogConfig selects the log sink. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	Format     string `mapstructure:"format" yaml:"format" json:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress" json:"compress"`
}

// RegistrationConfig contains detector, descriptor, matcher and estimator settings.
type RegistrationConfig struct {
	Detector   string `mapstructure:"detector" yaml:"detector" json:"detector"`
	Descriptor string `mapstructure:"descriptor" yaml:"descriptor" json:"descriptor"`
	Metric     string `mapstructure:"metric" yaml:"metric" json:"metric"`
	Backend    string `mapstructure:"backend" yaml:"backend" json:"backend"`
	CrossCheck bool   `mapstructure:"cross_check" yaml:"cross_check" json:"cross_check"`

	FastThreshold int     `mapstructure:"fast_threshold" yaml:"fast_threshold" json:"fast_threshold"`
	MaxFeatures   int     `mapstructure:"max_features" yaml:"max_features" json:"max_features"`
	PyramidLevels int     `mapstructure:"pyramid_levels" yaml:"pyramid_levels" json:"pyramid_levels"`
	ScaleFactor   float64 `mapstructure:"scale_factor" yaml:"scale_factor" json:"scale_factor"`

	RansacThreshold float64 `mapstructure:"ransac_threshold" yaml:"ransac_threshold" json:"ransac_threshold"`
	MaxIterations   int     `mapstructure:"max_iterations" yaml:"max_iterations" json:"max_iterations"`
	Confidence      float64 `mapstructure:"confidence" yaml:"confidence" json:"confidence"`
	MinInlierRatio  float64 `mapstructure:"min_inlier_ratio" yaml:"min_inlier_ratio" json:"min_inlier_ratio"`
	Refine          bool    `mapstructure:"refine" yaml:"refine" json:"refine"`
	Seed            int64   `mapstructure:"seed" yaml:"seed" json:"seed"`
}

// WarpConfig contains border handling for warped output.
type WarpConfig struct {
	Border string `mapstructure:"border" yaml:"border" json:"border"`
	Fill   string `mapstructure:"fill" yaml:"fill" json:"fill"`
}

// OutputConfig contains artifact and report settings.
type OutputConfig struct {
	Dir            string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Format         string `mapstructure:"format" yaml:"format" json:"format"`
	Keypoints      bool   `mapstructure:"keypoints" yaml:"keypoints" json:"keypoints"`
	Correspondence bool   `mapstructure:"correspondence" yaml:"correspondence" json:"correspondence"`
	ResidualPlot   bool   `mapstructure:"residual_plot" yaml:"residual_plot" json:"residual_plot"`
	InfoFile       string `mapstructure:"info_file" yaml:"info_file" json:"info_file"`
	// ROIs are polygons in reference coordinates, each a list of [x, y] points.
	ROIs [][][]float64 `mapstructure:"rois" yaml:"rois" json:"rois"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers int    `mapstructure:"workers" yaml:"workers" json:"workers"`
	Include string `mapstructure:"include" yaml:"include" json:"include"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Rate limiting per client IP. Zero disables a limit.
	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// StoreConfig enables the Postgres result store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
}

// DefaultConfig returns a configuration with the defaults of every component.
func DefaultConfig() Config {
	det := features.DefaultDetectorOptions()
	est := homography.DefaultParams()
	return Config{
		LogLevel: "info",
		Log: LogConfig{
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Registration: RegistrationConfig{
			Detector:        features.ORB.String(),
			Descriptor:      features.DescriptorORB.String(),
			Metric:          "auto",
			Backend:         pipeline.Native.String(),
			FastThreshold:   det.FastThreshold,
			MaxFeatures:     det.MaxFeatures,
			PyramidLevels:   det.Levels,
			ScaleFactor:     det.ScaleFactor,
			RansacThreshold: est.Threshold,
			MaxIterations:   est.MaxIterations,
			Confidence:      est.Confidence,
			MinInlierRatio:  est.MinInlierRatio,
			Refine:          est.Refine,
		},
		Warp: WarpConfig{Border: warp.Constant.String()},
		Output: OutputConfig{
			Dir:            "output",
			Format:         "text",
			Keypoints:      true,
			Correspondence: true,
			InfoFile:       "info.txt",
		},
		Batch: BatchConfig{
			Workers: runtime.NumCPU(),
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      60,
			ShutdownTimeout: 10,

			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     500 * 1024 * 1024,
		},
	}
}

// Validate checks enum values and ranges. Component-level checks run again when the
// pipeline is built.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	validLogFormats := []string{"json", "text"}
	if c.Log.Format != "" && !slices.Contains(validLogFormats, c.Log.Format) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", c.Log.Format, strings.Join(validLogFormats, ", "))
	}
	validFormats := []string{"text", "json", "csv"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Batch.Workers < 0 {
		return fmt.Errorf("invalid batch workers: %d (must not be negative)", c.Batch.Workers)
	}
	if c.Store.Enabled && c.Store.DSN == "" {
		return errors.New("store.dsn is required when store.enabled is set")
	}

	if err := validateRatio(c.Registration.Confidence, "registration.confidence"); err != nil {
		return err
	}
	if err := validateRatio(c.Registration.MinInlierRatio, "registration.min_inlier_ratio"); err != nil {
		return err
	}
	pc, err := c.ToPipelineConfig()
	if err != nil {
		return err
	}
	if err := pipeline.NewBuilder().WithConfig(pc).Validate(); err != nil {
		return err
	}
	if _, err := c.Output.Polygons(); err != nil {
		return err
	}

	return nil
}

// ToPipelineConfig converts the registration, warp and batch sections into a
// pipeline.Config. It fails on unknown variant names.
func (c *Config) ToPipelineConfig() (pipeline.Config, error) {
	r := c.Registration
	cfg := pipeline.DefaultConfig()

	var err error
	if cfg.Detector, err = features.ParseDetectorVariant(r.Detector); err != nil {
		return cfg, err
	}
	if cfg.Descriptor, err = features.ParseDescriptorVariant(r.Descriptor); err != nil {
		return cfg, err
	}
	if cfg.Metric, cfg.MetricSet, err = match.ParseMetric(r.Metric); err != nil {
		return cfg, err
	}
	if cfg.Backend, err = pipeline.ParseBackend(r.Backend); err != nil {
		return cfg, err
	}
	cfg.CrossCheck = r.CrossCheck

	cfg.DetectorOptions.FastThreshold = r.FastThreshold
	cfg.DetectorOptions.MaxFeatures = r.MaxFeatures
	cfg.DetectorOptions.Levels = r.PyramidLevels
	cfg.DetectorOptions.ScaleFactor = r.ScaleFactor
	cfg.ExtractorOptions.Levels = r.PyramidLevels
	cfg.ExtractorOptions.ScaleFactor = r.ScaleFactor

	cfg.Homography.Threshold = r.RansacThreshold
	cfg.Homography.MaxIterations = r.MaxIterations
	cfg.Homography.Confidence = r.Confidence
	cfg.Homography.MinInlierRatio = r.MinInlierRatio
	cfg.Homography.Refine = r.Refine
	cfg.Homography.Seed = r.Seed

	if cfg.Warp.Border, err = warp.ParseBorder(c.Warp.Border); err != nil {
		return cfg, err
	}
	fill, err := warp.ParseFill(c.Warp.Fill)
	if err != nil {
		return cfg, err
	}
	cfg.Warp.Fill = fill

	cfg.Parallel.MaxWorkers = c.Batch.Workers
	return cfg, nil
}

// Polygons converts the configured ROIs to point lists.
func (o OutputConfig) Polygons() ([][]utils.Point, error) {
	polys := make([][]utils.Point, 0, len(o.ROIs))
	for i, roi := range o.ROIs {
		if len(roi) < 3 {
			return nil, fmt.Errorf("invalid output.rois[%d]: need at least 3 points, got %d", i, len(roi))
		}
		poly := make([]utils.Point, len(roi))
		for j, p := range roi {
			if len(p) != 2 {
				return nil, fmt.Errorf("invalid output.rois[%d][%d]: want [x, y], got %v", i, j, p)
			}
			poly[j] = utils.Point{X: p[0], Y: p[1]}
		}
		polys = append(polys, poly)
	}
	return polys, nil
}

// validateRatio validates that a value is between 0.0 and 1.0.
func validateRatio(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
