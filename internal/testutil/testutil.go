package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// rootMarkers must all exist under the module root.
var rootMarkers = []string{"go.mod", "cmd/homography", "internal"}

// GetProjectRoot walks up from this source file to the directory holding go.mod.
func GetProjectRoot() (string, error) {
	_, here, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("no caller information")
	}
	for dir := filepath.Dir(here); ; {
		if FileExists(filepath.Join(dir, "go.mod")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod above %s", filepath.Dir(here))
		}
		dir = parent
	}
}

// GetProjectRootValidated is GetProjectRoot plus a check of the module layout.
func GetProjectRootValidated() (string, error) {
	root, err := GetProjectRoot()
	if err != nil {
		return "", err
	}
	for _, m := range rootMarkers {
		if !FileExists(filepath.Join(root, m)) {
			return "", fmt.Errorf("invalid project root %s: %s missing", root, m)
		}
	}
	return root, nil
}

// CreateWorkspace returns a temporary workspace root with empty input/ and output/.
func CreateWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, sub := range []string{"input", "output"} {
		require.NoError(t, EnsureDir(filepath.Join(root, sub)))
	}
	return root
}

// EnsureDir creates path and its parents when missing.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists reports whether path exists. Directories count.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DirExists reports whether path is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
