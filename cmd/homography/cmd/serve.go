package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/config"
	"github.com/blacksoil/HomographyAnalyzer/internal/server"
	"github.com/blacksoil/HomographyAnalyzer/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the registration API",
	Long: `Start an HTTP server that registers uploaded images.

The server provides the following endpoints:
  POST /register     - Register the multipart "target" onto the "reference"
                       (format=json|png, artifact=warped|keypoints|correspondence)
  GET  /ws/register  - Websocket batch registration with per-target outcomes
  GET  /health       - Health check endpoint
  GET  /metrics      - Prometheus metrics

Examples:
  homography serve
  homography serve --port 8080
  homography serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	Args: cobra.NoArgs,
	RunE: runServeCommand,
}

// applyServerFlags overrides the server section with the flags set on the command line.
func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	s := &cfg.Server
	override(cmd, "host", &s.Host, f.GetString)
	override(cmd, "port", &s.Port, f.GetInt)
	override(cmd, "cors-origin", &s.CORSOrigin, f.GetString)
	override(cmd, "max-upload-size", &s.MaxUploadMB, f.GetInt)
	override(cmd, "timeout", &s.TimeoutSec, f.GetInt)
	override(cmd, "shutdown-timeout", &s.ShutdownTimeout, f.GetInt)
	override(cmd, "rate-limit-enabled", &s.RateLimitEnabled, f.GetBool)
	override(cmd, "requests-per-minute", &s.RequestsPerMinute, f.GetInt)
	override(cmd, "requests-per-hour", &s.RequestsPerHour, f.GetInt)
	override(cmd, "max-requests-per-day", &s.MaxRequestsPerDay, f.GetInt)
	override(cmd, "max-data-per-day", &s.MaxDataPerDay, f.GetInt64)
}

func serverConfig(cfg *config.Config, recorder batch.Recorder) (server.Config, error) {
	pc, err := cfg.ToPipelineConfig()
	if err != nil {
		return server.Config{}, err
	}
	s := cfg.Server
	return server.Config{
		Host:        s.Host,
		Port:        s.Port,
		CORSOrigin:  s.CORSOrigin,
		MaxUploadMB: int64(s.MaxUploadMB),
		TimeoutSec:  s.TimeoutSec,
		Pipeline:    pc,
		RateLimit: server.RateLimitConfig{
			Enabled:           s.RateLimitEnabled,
			RequestsPerMinute: s.RequestsPerMinute,
			RequestsPerHour:   s.RequestsPerHour,
			MaxRequestsPerDay: s.MaxRequestsPerDay,
			MaxDataPerDay:     s.MaxDataPerDay,
		},
		Logger:   slog.Default(),
		Recorder: recorder,
	}, nil
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg := GetConfig()
	applyRegistrationFlags(cmd, cfg)
	applyServerFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var recorder batch.Recorder
	if cfg.Store.Enabled {
		st, err := store.New(ctx, cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("failed to open result store: %w", err)
		}
		defer st.Close()
		recorder = st
	}

	sc, err := serverConfig(cfg, recorder)
	if err != nil {
		return err
	}
	srv, err := server.NewServer(sc)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	s := cfg.Server
	timeout := time.Duration(s.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.Host, s.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		// Registration itself may take the whole request timeout.
		WriteTimeout: 2 * timeout,
	}

	go func() {
		slog.Info("starting registration server", "host", s.Host, "port", s.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
	}

	shutdownTimeout := time.Duration(s.ShutdownTimeout) * time.Second
	slog.Info("starting graceful shutdown", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
		return err
	}
	slog.Info("graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addRegistrationFlags(serveCmd)

	s := config.DefaultConfig().Server
	f := serveCmd.Flags()
	f.StringP("host", "H", s.Host, "server host")
	f.IntP("port", "p", s.Port, "server port")
	f.String("cors-origin", s.CORSOrigin, "CORS allowed origins")
	f.Int("max-upload-size", s.MaxUploadMB, "maximum upload size in MB")
	f.Int("timeout", s.TimeoutSec, "registration timeout in seconds")
	f.Int("shutdown-timeout", s.ShutdownTimeout, "shutdown timeout in seconds")
	// Rate limiting
	f.Bool("rate-limit-enabled", s.RateLimitEnabled, "enable rate limiting")
	f.Int("requests-per-minute", s.RequestsPerMinute, "maximum requests per minute per client")
	f.Int("requests-per-hour", s.RequestsPerHour, "maximum requests per hour per client")
	f.Int("max-requests-per-day", s.MaxRequestsPerDay, "maximum requests per day per client")
	f.Int64("max-data-per-day", s.MaxDataPerDay, "maximum data uploaded per day per client (bytes)")
}
