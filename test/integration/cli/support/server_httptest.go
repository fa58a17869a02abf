package support

import (
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/blacksoil/HomographyAnalyzer/internal/logging"
	"github.com/blacksoil/HomographyAnalyzer/internal/pipeline"
	"github.com/blacksoil/HomographyAnalyzer/internal/server"
)

// HTTPTestServerWrapper runs the registration server in-process.
type HTTPTestServerWrapper struct {
	Server *httptest.Server
	URL    string
}

// StartHTTPTestServer starts a server with the default pipeline and a fixed RANSAC
// seed. mutate adjusts the configuration before the server is built.
func StartHTTPTestServer(mutate func(*server.Config)) (*HTTPTestServerWrapper, error) {
	pc := pipeline.DefaultConfig()
	pc.Homography.Seed = 1

	cfg := server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 10,
		TimeoutSec:  30,
		Pipeline:    pc,
		Logger:      logging.Discard(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	ts := httptest.NewServer(mux)
	return &HTTPTestServerWrapper{Server: ts, URL: ts.URL}, nil
}

// Close shuts the server down.
func (w *HTTPTestServerWrapper) Close() {
	if w != nil && w.Server != nil {
		w.Server.Close()
	}
}
