package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/config"
	"github.com/blacksoil/HomographyAnalyzer/internal/store"
)

var batchCmd = &cobra.Command{
	Use:   "batch [workspace | targets...]",
	Short: "Register many targets against one reference",
	Long: `Register every target against a single reference. The reference keypoints are
computed once; each target succeeds or fails on its own.

With one directory argument and no --reference the directory is a workspace:
  <workspace>/input/REFERENCE.png   the reference
  <workspace>/input/<name>.png      the targets (png, jpg, bmp)
Artifacts go to <workspace>/output and the summary to <workspace>/info.txt.

With --reference the arguments are target files or directories.

Examples:
  homography batch ./workspace
  homography batch ./workspace --format json --workers 4
  homography batch --reference ref.png shots/ --recursive --output-dir out
  homography batch ./workspace --include '1*' --progress --stats`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatchCommand,
}

// configToBatchConfig maps the configuration and the command's flags to batch.Config.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command, args []string) (*batch.Config, error) {
	pc, err := cfg.ToPipelineConfig()
	if err != nil {
		return nil, err
	}
	opts, err := artifactOptions(cfg)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	workers := cfg.Batch.Workers
	override(cmd, "workers", &workers, f.GetInt)
	pc.Parallel.MaxWorkers = workers

	include := batch.SplitPatterns(cfg.Batch.Include)
	override(cmd, "include", &include, f.GetStringSlice)

	bc := &batch.Config{
		Pipeline:        pc,
		Logger:          slog.Default(),
		Artifacts:       opts,
		IncludePatterns: include,
		InfoFile:        cfg.Output.InfoFile,
		ProgressWriter:  cmd.ErrOrStderr(),
	}
	override(cmd, "info-file", &bc.InfoFile, f.GetString)
	bc.Reference, _ = f.GetString("reference")
	bc.Recursive, _ = f.GetBool("recursive")
	bc.ExcludePatterns, _ = f.GetStringSlice("exclude")
	bc.ShowProgress, _ = f.GetBool("progress")
	bc.Quiet, _ = f.GetBool("quiet")

	// The configured output directory only applies when it was asked for; a
	// workspace otherwise writes into <workspace>/output.
	if f.Changed("output-dir") {
		bc.OutputDir = cfg.Output.Dir
	}

	if bc.Reference == "" {
		if len(args) != 1 {
			return nil, errors.New("expected one workspace directory, or --reference with target files")
		}
		bc.Workspace = args[0]
	} else {
		bc.Targets = args
	}
	return bc, nil
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	bc, err := configToBatchConfig(cfg, cmd, args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Store.Enabled {
		st, err := store.New(ctx, cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("failed to open result store: %w", err)
		}
		defer st.Close()
		bc.Recorder = st
	}

	result, err := batch.ProcessBatch(ctx, bc)
	if err != nil {
		return fmt.Errorf("batch processing failed: %w", err)
	}

	out := cmd.OutOrStdout()
	outputFile, _ := cmd.Flags().GetString("output")
	if err := result.SaveResults(out, cfg.Output.Format, outputFile, bc.Quiet); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	if stats, _ := cmd.Flags().GetBool("stats"); stats && !bc.Quiet {
		result.PrintStats(out)
	}
	if result.InfoPath != "" && !bc.Quiet {
		slog.Info("run summary written", "path", result.InfoPath)
	}

	if fail, _ := cmd.Flags().GetBool("fail-on-error"); fail && result.Info.Failed > 0 {
		return fmt.Errorf("%d of %d targets failed", result.Info.Failed, len(result.Info.Targets))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addRegistrationFlags(batchCmd)
	addArtifactFlags(batchCmd)

	f := batchCmd.Flags()
	f.String("reference", "", "reference image; the arguments are then target files or directories")
	f.StringP("output", "o", "", "write the report to this file instead of stdout")
	f.String("info-file", config.DefaultConfig().Output.InfoFile, "run summary file (YAML); empty disables it")
	f.IntP("workers", "w", 0, "number of parallel workers (default: number of CPUs)")
	f.BoolP("recursive", "r", false, "recursively scan target directories")
	f.StringSlice("include", nil, "target name patterns to include")
	f.StringSlice("exclude", nil, "target name patterns to exclude")
	f.Bool("progress", false, "show progress bar")
	f.Bool("quiet", false, "suppress progress output")
	f.Bool("stats", false, "show processing statistics")
	f.Bool("fail-on-error", false, "exit non-zero when any target fails")

	_ = batchCmd.RegisterFlagCompletionFunc("format", formatCompletion)
}

func formatCompletion(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return []string{outputFormatText, outputFormatJSON, outputFormatCSV}, cobra.ShellCompDirectiveNoFileComp
}
