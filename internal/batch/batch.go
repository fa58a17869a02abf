// Package batch registers many targets against one reference, either from a workspace
// directory or from explicit files, and writes artifacts and a run summary.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/imagebuf"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
	"github.com/blacksoil/HomographyAnalyzer/internal/utils"
)

// Recorder persists runs and pair results. Recorder errors are logged and never fail
// the batch.
type Recorder interface {
	BeginRun(ctx context.Context, info *Info) (int64, error)
	RecordPair(ctx context.Context, runID int64, target TargetInfo) error
	FinishRun(ctx context.Context, runID int64, info *Info) error
}

// inputs are the resolved paths of one run.
type inputs struct {
	reference string
	targets   []string
	outputDir string
	infoPath  string
}

func resolveInputs(config *Config) (*inputs, error) {
	in := &inputs{outputDir: config.OutputDir}
	if config.Workspace != "" {
		ws := Workspace{Root: config.Workspace}
		ref, targets, err := ws.Discover(config.IncludePatterns)
		if err != nil {
			return nil, err
		}
		in.reference, in.targets = ref, targets
		if in.outputDir == "" {
			in.outputDir = ws.OutputPath()
		}
		if config.InfoFile != "" {
			in.infoPath = filepath.Join(ws.Root, config.InfoFile)
		}
		return in, nil
	}

	if config.Reference == "" {
		return nil, errors.New("no reference image given")
	}
	if !utils.IsSupportedImage(config.Reference) {
		return nil, fmt.Errorf("unsupported reference format: %s", config.Reference)
	}
	targets, err := discoverImageFiles(config.Targets, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover target images: %w", err)
	}
	in.reference, in.targets = config.Reference, targets
	if in.outputDir == "" {
		in.outputDir = OutputDir
	}
	if config.InfoFile != "" {
		in.infoPath = filepath.Join(in.outputDir, config.InfoFile)
	}
	return in, nil
}

// loadImage decodes path into an image buffer. Decode failures are invalid input.
func loadImage(path string) (*imagebuf.Image, error) {
	if !utils.IsSupportedImage(path) {
		return nil, common.NewInvalidInput("load", "unsupported image format: %s", path)
	}
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return nil, common.NewInvalidInput("load", "%v", err)
	}
	return imagebuf.FromImage(img), nil
}

// ProcessBatch registers every target against the reference. The reference is prepared
// once; a failing target never affects the others. It returns an error only when the
// batch cannot start (no inputs, unusable reference, bad configuration).
func ProcessBatch(ctx context.Context, config *Config) (*Result, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	in, err := resolveInputs(config)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistrar(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build registration pipeline: %w", err)
	}

	refImg, err := loadImage(in.reference)
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", in.reference, err)
	}
	ref, err := reg.Prepare(ctx, refImg)
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", in.reference, err)
	}

	startTime := time.Now()
	memBefore := common.GetMemoryStats()
	targets := make([]pipeline.Target, len(in.targets))
	loadErrs := make([]error, len(in.targets))
	for i, path := range in.targets {
		targets[i].Name = TargetName(path)
		targets[i].Image, loadErrs[i] = loadImage(path)
	}

	pc := reg.Config()
	info := NewInfo(reg, ref, in.reference, len(targets))
	info.Workspace = config.Workspace
	info.StartedAt = startTime.UTC()

	var runID int64
	recorder := config.Recorder
	if recorder != nil {
		if runID, err = recorder.BeginRun(ctx, info); err != nil {
			logger.Warn("recording run failed", "error", err)
			recorder = nil
		}
	}

	writer := &ArtifactWriter{Dir: in.outputDir, Options: config.Artifacts, Threshold: pc.Homography.Threshold}
	handler := func(o pipeline.Outcome) {
		if loadErrs[o.Index] != nil {
			o.Err, o.Result = loadErrs[o.Index], nil
		}
		ti := NewTargetInfo(o, in.targets[o.Index])
		paths, err := writer.Write(ref, o.Result)
		if err != nil {
			logger.Warn("writing artifacts failed", "target", o.Name, "error", err)
		}
		ti.Artifacts = paths
		info.Targets[o.Index] = ti
		if o.Err != nil {
			logger.Warn("target failed", "target", o.Name, "kind", ti.ErrorKind, "error", o.Err)
		}
		if recorder != nil {
			if err := recorder.RecordPair(ctx, runID, ti); err != nil {
				logger.Warn("recording pair failed", "target", o.Name, "error", err)
			}
		}
	}

	outcomes := reg.RegisterBatch(ctx, ref, targets, handler)
	for i, err := range loadErrs {
		if err != nil {
			outcomes[i].Err, outcomes[i].Result = err, nil
		}
	}

	info.Tally()
	duration := time.Since(startTime)
	info.Duration = duration
	memory := common.GetMemoryStats().Since(memBefore)

	if in.infoPath != "" {
		if err := WriteInfo(in.infoPath, info); err != nil {
			return nil, err
		}
	}
	if recorder != nil {
		if err := recorder.FinishRun(context.WithoutCancel(ctx), runID, info); err != nil {
			logger.Warn("finishing run record failed", "error", err)
		}
	}

	logger.Info("batch complete",
		"targets", len(targets), "succeeded", info.Succeeded, "failed", info.Failed,
		"duration", duration.Round(time.Millisecond), "allocated_kb", memory.Allocated/1024)
	return &Result{Info: info, Outcomes: outcomes, InfoPath: in.infoPath, Duration: duration, Memory: memory}, nil
}
