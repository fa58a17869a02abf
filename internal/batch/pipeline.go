package batch

import (
	"log/slog"
	"os"

	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
)

// buildRegistrar creates a registrar from the batch configuration with progress reporting
// attached.
func buildRegistrar(config *Config, logger *slog.Logger) (*pipeline.Registrar, error) {
	return pipeline.NewBuilder().
		WithConfig(config.Pipeline).
		WithLogger(logger).
		WithProgressCallback(progressCallback(config, logger)).
		Build()
}

// progressCallback logs progress at debug level and adds a bar unless quiet.
func progressCallback(config *Config, logger *slog.Logger) pipeline.ProgressCallback {
	multi := pipeline.NewMultiProgressCallback(pipeline.NewLogProgressCallback(logger, slog.LevelDebug, 10))
	if config.ShowProgress && !config.Quiet {
		w := config.ProgressWriter
		if w == nil {
			w = os.Stderr
		}
		multi.Add(pipeline.NewBarProgressCallback(w, "Registering"))
	}
	return multi
}
