package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "homography"

	// EnvPrefix is the prefix for environment variables, e.g. HOMOG_REGISTRATION_DETECTOR.
	EnvPrefix = "HOMOG"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags bound by the
// root command are visible.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on an isolated viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the first config file found on the search paths, applies environment
// variables and defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithFile is Load with an explicit config file. An empty path searches the
// default locations.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads configuration without validating it. The
// config command uses it to show broken files.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	l.setupEnvironmentVariables()
	l.setDefaults()

	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
		if err := l.v.ReadInConfig(); err != nil {
			// A missing file is fine; defaults and env vars still apply.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// GetResolvedConfig returns the merged settings.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so that AutomaticEnv and Unmarshal see it.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("log.file", d.Log.File)
	l.v.SetDefault("log.format", d.Log.Format)
	l.v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	l.v.SetDefault("log.max_backups", d.Log.MaxBackups)
	l.v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	l.v.SetDefault("log.compress", d.Log.Compress)

	r := d.Registration
	l.v.SetDefault("registration.detector", r.Detector)
	l.v.SetDefault("registration.descriptor", r.Descriptor)
	l.v.SetDefault("registration.metric", r.Metric)
	l.v.SetDefault("registration.backend", r.Backend)
	l.v.SetDefault("registration.cross_check", r.CrossCheck)
	l.v.SetDefault("registration.fast_threshold", r.FastThreshold)
	l.v.SetDefault("registration.max_features", r.MaxFeatures)
	l.v.SetDefault("registration.pyramid_levels", r.PyramidLevels)
	l.v.SetDefault("registration.scale_factor", r.ScaleFactor)
	l.v.SetDefault("registration.ransac_threshold", r.RansacThreshold)
	l.v.SetDefault("registration.max_iterations", r.MaxIterations)
	l.v.SetDefault("registration.confidence", r.Confidence)
	l.v.SetDefault("registration.min_inlier_ratio", r.MinInlierRatio)
	l.v.SetDefault("registration.refine", r.Refine)
	l.v.SetDefault("registration.seed", r.Seed)

	l.v.SetDefault("warp.border", d.Warp.Border)
	l.v.SetDefault("warp.fill", d.Warp.Fill)

	l.v.SetDefault("output.dir", d.Output.Dir)
	l.v.SetDefault("output.format", d.Output.Format)
	l.v.SetDefault("output.keypoints", d.Output.Keypoints)
	l.v.SetDefault("output.correspondence", d.Output.Correspondence)
	l.v.SetDefault("output.residual_plot", d.Output.ResidualPlot)
	l.v.SetDefault("output.info_file", d.Output.InfoFile)
	l.v.SetDefault("output.rois", d.Output.ROIs)

	l.v.SetDefault("batch.workers", d.Batch.Workers)
	l.v.SetDefault("batch.include", d.Batch.Include)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit_enabled", d.Server.RateLimitEnabled)
	l.v.SetDefault("server.requests_per_minute", d.Server.RequestsPerMinute)
	l.v.SetDefault("server.requests_per_hour", d.Server.RequestsPerHour)
	l.v.SetDefault("server.max_requests_per_day", d.Server.MaxRequestsPerDay)
	l.v.SetDefault("server.max_data_per_day", d.Server.MaxDataPerDay)

	l.v.SetDefault("store.enabled", d.Store.Enabled)
	l.v.SetDefault("store.dsn", d.Store.DSN)
}

// GenerateDefaultConfigFile writes the defaults as YAML to filename
// (homography.yaml when empty).
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.v.WriteConfigAs(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched, in order.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		paths = append(paths, home)
	}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if homeErr == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}
	return append(paths, "/etc/"+ConfigFileName)
}
