package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
)

// errRegistrationFailed marks a pair that was reported but not registered.
var errRegistrationFailed = errors.New("registration failed")

var registerCmd = &cobra.Command{
	Use:   "register <reference> <target>",
	Short: "Register one target image onto a reference image",
	Long: `Estimate the homography mapping the target onto the reference, warp the target into
the reference frame and write the artifacts to the output directory:

  <target>_warped.png          target in reference coordinates
  <target>_keypoints.png       target keypoints (--keypoints)
  <target>_correspondence.png  inlier matches side by side (--correspondence)
  <target>_residuals.png       inlier residual histogram (--residual-plot)

The report is printed in the selected format. A failed registration still prints its
report and exits non-zero.

Examples:
  homography register reference.png target.png
  homography register ref.png t.png --detector fast --descriptor brief --format json
  homography register ref.png t.png --ransac-threshold 2 --output-dir results`,
	Args: cobra.ExactArgs(2),
	RunE: runRegisterCommand,
}

func runRegisterCommand(cmd *cobra.Command, args []string) error {
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := artifactOptions(cfg)
	if err != nil {
		return err
	}
	reg, err := buildRegistrar(cfg)
	if err != nil {
		return fmt.Errorf("failed to build registration pipeline: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	refPath, targetPath := args[0], args[1]

	refImg, err := loadImage(refPath)
	if err != nil {
		return fmt.Errorf("reference %s: %w", refPath, err)
	}
	ref, err := reg.Prepare(ctx, refImg)
	if err != nil {
		return fmt.Errorf("reference %s: %w", refPath, err)
	}

	start := time.Now()
	name := batch.TargetName(targetPath)
	var res *pipeline.PairResult
	target, err := loadImage(targetPath)
	if err == nil {
		res, err = reg.Register(ctx, ref, target, name)
	}

	ti := batch.NewTargetInfo(pipeline.Outcome{Name: name, Result: res, Err: err}, targetPath)
	writer := &batch.ArtifactWriter{Dir: cfg.Output.Dir, Options: opts, Threshold: cfg.Registration.RansacThreshold}
	paths, werr := writer.Write(ref, res)
	if werr != nil {
		slog.Warn("writing artifacts failed", "target", name, "error", werr)
	}
	ti.Artifacts = paths

	info := batch.NewInfo(reg, ref, refPath, 1)
	info.Targets[0] = ti
	info.Duration = time.Since(start)
	info.Tally()

	out, ferr := batch.FormatInfo(info, cfg.Output.Format)
	if ferr != nil {
		return fmt.Errorf("failed to format report: %w", ferr)
	}
	_, _ = fmt.Fprint(cmd.OutOrStdout(), out)

	if err != nil {
		return fmt.Errorf("%w: %s: %w", errRegistrationFailed, name, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(registerCmd)
	addRegistrationFlags(registerCmd)
	addArtifactFlags(registerCmd)
}
