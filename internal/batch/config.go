package batch

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
)

// Config holds all configuration for batch registration.
type Config struct {
	// Workspace, when set, supplies the reference and targets; otherwise Reference
	// and Targets are used.
	Workspace string
	Reference string
	Targets   []string

	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	Pipeline pipeline.Config
	Logger   *slog.Logger

	// OutputDir defaults to <workspace>/output, or ./output without a workspace.
	OutputDir string
	// InfoFile is relative to the workspace root (or OutputDir); empty disables it.
	InfoFile  string
	Artifacts ArtifactOptions

	ShowProgress bool
	Quiet        bool
	// ProgressWriter receives the progress bar; defaults to stderr.
	ProgressWriter io.Writer

	// Recorder, when set, persists the run and every pair result.
	Recorder Recorder
}

// Result holds the outcome of a batch run.
type Result struct {
	Info     *Info
	Outcomes []pipeline.Outcome
	InfoPath string
	Duration time.Duration
	// Memory is the allocator activity while targets were registered.
	Memory common.MemoryDelta
}

// FormatResults formats the summary in the specified format.
func (r *Result) FormatResults(format string) (string, error) {
	return FormatInfo(r.Info, format)
}

// SaveResults writes the formatted summary to outputFile, or to w when outputFile is empty.
func (r *Result) SaveResults(w io.Writer, format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}
	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(w, "Results written to %s\n", outputFile)
		}
		return nil
	}
	_, _ = fmt.Fprint(w, output)
	return nil
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(w io.Writer) {
	n := len(r.Info.Targets)
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total targets: %d\n", n)
	_, _ = fmt.Fprintf(w, "  Registered: %d\n", r.Info.Succeeded)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", r.Info.Failed)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	if n > 0 {
		_, _ = fmt.Fprintf(w, "  Avg per target: %v\n", (r.Duration / time.Duration(n)).Round(time.Millisecond))
	}
	if r.Memory.Allocated > 0 {
		_, _ = fmt.Fprintf(w, "  Memory: %s\n", r.Memory)
	}
}
