package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/features"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
	"github.com/blacksoil/HomographyAnalyzer/internal/visualize"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Detect keypoints and write an overlay",
	Long: `Run the configured keypoint detector on one image, write <name>_keypoints.png to the
output directory and print the keypoint count.

Examples:
  homography detect photo.png
  homography detect photo.png --detector fast --fast-threshold 30 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runDetectCommand,
}

// DetectReport is the machine readable output of the detect command.
type DetectReport struct {
	Image     string `json:"image"`
	Detector  string `json:"detector"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Keypoints int    `json:"keypoints"`
	Oriented  int    `json:"oriented"`
	Overlay   string `json:"overlay,omitempty"`
}

func runDetectCommand(cmd *cobra.Command, args []string) error {
	cfg, err := commandConfig(cmd)
	if err != nil {
		return err
	}
	pc, err := cfg.ToPipelineConfig()
	if err != nil {
		return err
	}

	var det features.Detector
	if pc.Backend == pipeline.OpenCV {
		det, err = features.NewOpenCVDetector(pc.Detector, pc.DetectorOptions, slog.Default())
	} else {
		det, err = features.NewDetector(pc.Detector, pc.DetectorOptions, slog.Default())
	}
	if err != nil {
		return fmt.Errorf("failed to build detector: %w", err)
	}

	img, err := loadImage(args[0])
	if err != nil {
		return err
	}
	kps, err := det.Detect(img.ToGray())
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	report := DetectReport{
		Image:     args[0],
		Detector:  det.Variant().String(),
		Width:     img.Width,
		Height:    img.Height,
		Keypoints: len(kps),
	}
	for _, kp := range kps {
		if kp.Oriented() {
			report.Oriented++
		}
	}

	if cfg.Output.Keypoints {
		overlay, err := visualize.Keypoints(img, kps)
		if err != nil {
			return fmt.Errorf("failed to draw keypoints: %w", err)
		}
		path := filepath.Join(cfg.Output.Dir, batch.TargetName(args[0])+batch.SuffixKeypoints+".png")
		if err := utils.SaveImage(path, overlay); err != nil {
			return err
		}
		report.Overlay = path
	}

	out := cmd.OutOrStdout()
	switch cfg.Output.Format {
	case outputFormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case outputFormatCSV:
		_, _ = fmt.Fprintln(out, "image,detector,width,height,keypoints,oriented,overlay")
		_, _ = fmt.Fprintf(out, "%s,%s,%d,%d,%d,%d,%s\n", report.Image, report.Detector,
			report.Width, report.Height, report.Keypoints, report.Oriented, report.Overlay)
	default:
		_, _ = fmt.Fprintf(out, "%s: %d keypoints (%s, %dx%d)\n",
			report.Image, report.Keypoints, report.Detector, report.Width, report.Height)
		if report.Overlay != "" {
			_, _ = fmt.Fprintf(out, "overlay: %s\n", report.Overlay)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(detectCmd)
	addRegistrationFlags(detectCmd)
	addArtifactFlags(detectCmd)
}
