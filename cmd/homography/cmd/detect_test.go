package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacksoil/HomographyAnalyzer/internal/testutil"
)

func TestDetectCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	ref, _ := writePair(t, dir)
	out := filepath.Join(dir, "out")

	stdout, _, err := executeCommand(t, "detect", ref, "--output-dir", out, "--format", "json")
	require.NoError(t, err)

	var report DetectReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "orb", report.Detector)
	assert.Equal(t, testutil.MediumSize.Width, report.Width)
	assert.Positive(t, report.Keypoints)
	assert.LessOrEqual(t, report.Keypoints, 500)
	assert.Equal(t, report.Keypoints, report.Oriented)
	assert.Equal(t, filepath.Join(out, "reference_keypoints.png"), report.Overlay)
	assert.True(t, testutil.FileExists(report.Overlay))
}

func TestDetectCommand_FastIsUnoriented(t *testing.T) {
	dir := t.TempDir()
	ref, _ := writePair(t, dir)

	stdout, _, err := executeCommand(t, "detect", ref, "--detector", "fast", "--keypoints=false", "--format", "json")
	require.NoError(t, err)

	var report DetectReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "fast", report.Detector)
	assert.Positive(t, report.Keypoints)
	assert.Zero(t, report.Oriented)
	assert.Empty(t, report.Overlay)
}

func TestDetectCommand_UniformImageText(t *testing.T) {
	dir := t.TempDir()
	blank := filepath.Join(dir, "blank.png")
	testutil.SaveImage(t, testutil.UniformImage(64, 64, 90).ToImage(), blank)

	stdout, _, err := executeCommand(t, "detect", blank, "--detector", "fast", "--output-dir", filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Contains(t, stdout, blank+": 0 keypoints (fast, 64x64)")
}

func TestDetectCommand_Errors(t *testing.T) {
	_, _, err := executeCommand(t, "detect")
	require.Error(t, err)

	_, _, err = executeCommand(t, "detect", filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.png")
}
