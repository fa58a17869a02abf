package support

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacksoil/HomographyAnalyzer/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastStderr   string
	LastError    error
	LastExitCode int
	LastDuration time.Duration

	// Test environment
	WorkingDir string
	TempDir    string
	EnvVars    []string
	// Vars are substituted into commands and paths as {name}.
	Vars map[string]string

	// HTTP state
	HTTPTestServer     *HTTPTestServerWrapper
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a context with its own temporary directory. Commands run in
// the project root.
func NewTestContext() (*TestContext, error) {
	workingDir, err := testutil.GetProjectRoot()
	if err != nil {
		if workingDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	tempDir, err := os.MkdirTemp("", "homography-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	ctx := &TestContext{
		WorkingDir: workingDir,
		TempDir:    tempDir,
		// Keep stderr quiet and the user's config files out of the way.
		EnvVars: []string{
			"HOMOG_LOG_LEVEL=error",
			"HOME=" + tempDir,
			"XDG_CONFIG_HOME=" + filepath.Join(tempDir, ".config"),
		},
		Vars: map[string]string{
			"tmp": tempDir,
			"out": filepath.Join(tempDir, "out"),
		},
	}
	return ctx, nil
}

// Cleanup stops the test server and removes the temporary directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if testCtx.HTTPTestServer != nil {
		testCtx.HTTPTestServer.Close()
		testCtx.HTTPTestServer = nil
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}

// Substitute replaces every {name} placeholder with its variable.
func (testCtx *TestContext) Substitute(s string) string {
	for name, value := range testCtx.Vars {
		s = strings.ReplaceAll(s, "{"+name+"}", value)
	}
	return s
}

// Path resolves a placeholder path; relative paths are taken from the temp directory.
func (testCtx *TestContext) Path(p string) string {
	p = testCtx.Substitute(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(testCtx.TempDir, p)
	}
	return p
}
