package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/blacksoil/HomographyAnalyzer/internal/config"
	"github.com/blacksoil/HomographyAnalyzer/internal/logging"
	"github.com/blacksoil/HomographyAnalyzer/internal/version"
)

var (
	// Configuration loader of the current execution.
	configLoader *config.Loader
	// Configuration of the current execution.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
	// Log file opened by the current execution, closed after it.
	logFile io.Closer
)

// rootFlagBindings maps config keys to the persistent flags that override them.
var rootFlagBindings = map[string]string{
	"verbose":    "verbose",
	"log_level":  "log-level",
	"log.format": "log-format",
	"log.file":   "log-file",
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "homography",
	Short: "Feature-based image registration",
	Long: `Align target images onto a reference image by estimating a planar homography
from FAST/ORB keypoints, binary or float descriptors and RANSAC.

This tool provides:
- Single-pair registration with warped, keypoint and correspondence artifacts
- Batch registration of a workspace or a file list against one reference
- Keypoint inspection
- An HTTP and websocket server

Examples:
  homography register reference.png target.png
  homography batch ./workspace --format json
  homography detect photo.png --detector fast
  homography serve --port 8080`,
	Version:           version.String(),
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return initConfig(cmd, true) },
	PersistentPostRun: func(*cobra.Command, []string) { closeLog() },
}

// Execute runs the root command. main.main calls it once.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/homography, /etc/homography)")
	flags.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.String("log-file", "", "write logs to a rotating file instead of stderr")
}

// initConfig loads the configuration of this execution. Every execution gets its own
// viper instance so flags of earlier runs never leak into it. The root flags are reached
// through cmd so the command tree does not refer back to itself.
func initConfig(cmd *cobra.Command, validate bool) error {
	v := viper.New()
	if err := bindFlags(v, cmd.Root().PersistentFlags(), rootFlagBindings); err != nil {
		return err
	}

	loader := config.NewLoaderWithViper(v)
	var (
		cfg *config.Config
		err error
	)
	if validate {
		cfg, err = loader.LoadWithFile(cfgFile)
	} else {
		cfg, err = loader.LoadWithFileWithoutValidation(cfgFile)
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	configLoader, globalConfig = loader, cfg

	return setupLogging(cfg)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) error {
	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func setupLogging(cfg *config.Config) error {
	closeLog()
	logger, w, err := logging.New(logging.Config{
		Level:      cfg.LogLevel,
		Verbose:    cfg.Verbose,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	if c, ok := w.(io.Closer); ok && cfg.Log.File != "" {
		logFile = c
	}
	slog.SetDefault(logger)
	return nil
}

func closeLog() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// GetConfig returns the configuration of the current execution.
func GetConfig() *config.Config {
	if globalConfig == nil {
		d := config.DefaultConfig()
		return &d
	}
	cfg := *globalConfig
	return &cfg
}

// GetConfigLoader returns the configuration loader of the current execution.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoaderWithViper(viper.New())
	}
	return configLoader
}
