package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/blacksoil/HomographyAnalyzer/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration files",
	Long: `Inspect the effective configuration or write a default configuration file.

Configuration is merged from defaults, the config file, HOMOG_* environment variables
and command-line flags, in increasing precedence.

Examples:
  homography config show
  homography config show --format json
  homography config init homography.yaml
  homography config path`,
	// Loads without validation so that broken files can still be shown.
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return initConfig(cmd, false) },
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := GetConfig()
		format, _ := cmd.Flags().GetString("format")
		out := cmd.OutOrStdout()

		switch format {
		case outputFormatJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
		case "yaml", "":
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			_, _ = out.Write(data)
		default:
			return fmt.Errorf("unsupported format %q (must be yaml or json)", format)
		}

		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "# loaded from %s\n", used)
		}
		if err := cfg.Validate(); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "# warning: %v\n", err)
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write the default configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			filename = args[0]
		}
		if err := config.GenerateDefaultConfigFile(filename); err != nil {
			return fmt.Errorf("failed to write %s: %w", filename, err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", filename)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "List the configuration search paths",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		for _, p := range config.GetConfigSearchPaths() {
			_, _ = fmt.Fprintln(out, p)
		}
		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(out, "\nin use: %s\n", used)
		}
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd, configPathCmd)
	configShowCmd.Flags().StringP("format", "f", "yaml", "output format: yaml, json")
}
