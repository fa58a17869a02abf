package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
	"github.com/blacksoil/HomographyAnalyzer/internal/common"
	"github.com/blacksoil/HomographyAnalyzer/internal/testutil"
)

func TestRegisterCommand_JSONReport(t *testing.T) {
	dir := t.TempDir()
	ref, target := writePair(t, dir)
	out := filepath.Join(dir, "out")

	stdout, _, err := executeCommand(t, "register", ref, target,
		"--output-dir", out, "--format", "json", "--seed", "1")
	require.NoError(t, err)

	var info batch.Info
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, ref, info.Reference)
	assert.Positive(t, info.KeypointsReference)
	assert.Equal(t, "orb", info.Detector)
	assert.Equal(t, 1, info.Succeeded)
	require.Len(t, info.Targets, 1)

	ti := info.Targets[0]
	assert.Equal(t, "target", ti.Name)
	assert.Equal(t, batch.StatusOK, ti.Status)
	require.Len(t, ti.Homography, 3)
	assert.InDelta(t, -6, ti.Homography[0][2], 0.5)
	assert.InDelta(t, -4, ti.Homography[1][2], 0.5)

	for _, suffix := range []string{batch.SuffixWarped, batch.SuffixKeypoints, batch.SuffixCorrespondence} {
		path := filepath.Join(out, "target"+suffix+".png")
		assert.True(t, testutil.FileExists(path), path)
		assert.Contains(t, ti.Artifacts, path)
	}
}

func TestRegisterCommand_TextReportAndToggles(t *testing.T) {
	dir := t.TempDir()
	ref, target := writePair(t, dir)
	out := filepath.Join(dir, "out")

	stdout, _, err := executeCommand(t, "register", ref, target, "--output-dir", out,
		"--keypoints=false", "--correspondence=false", "--residual-plot",
		"--detector", "fast", "--descriptor", "brief", "--seed", "1")
	require.NoError(t, err)

	assert.Contains(t, stdout, "reference: "+ref)
	assert.Contains(t, stdout, "detector=fast descriptor=brief")
	assert.True(t, testutil.FileExists(filepath.Join(out, "target"+batch.SuffixWarped+".png")))
	assert.True(t, testutil.FileExists(filepath.Join(out, "target"+batch.SuffixResiduals+".png")))
	assert.False(t, testutil.FileExists(filepath.Join(out, "target"+batch.SuffixKeypoints+".png")))
	assert.False(t, testutil.FileExists(filepath.Join(out, "target"+batch.SuffixCorrespondence+".png")))
}

func TestRegisterCommand_FailureStillReports(t *testing.T) {
	dir := t.TempDir()
	ref, _ := writePair(t, dir)
	noise := filepath.Join(dir, "noise.png")
	testutil.SaveImage(t, testutil.NoiseImage(testutil.MediumSize.Width, testutil.MediumSize.Height, 99).ToImage(), noise)

	stdout, _, err := executeCommand(t, "register", ref, noise,
		"--output-dir", filepath.Join(dir, "out"), "--format", "json", "--seed", "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errRegistrationFailed)

	var info batch.Info
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	require.Len(t, info.Targets, 1)
	assert.Equal(t, batch.StatusFailed, info.Targets[0].Status)
	assert.Equal(t, 1, info.Failed)
	assert.NotEqual(t, common.KindInvalidInput, info.Targets[0].ErrorKind)
}

func TestRegisterCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	ref, target := writePair(t, dir)
	blank := filepath.Join(dir, "blank.png")
	testutil.SaveImage(t, testutil.UniformImage(64, 64, 128).ToImage(), blank)

	tests := []struct {
		name        string
		args        []string
		errContains string
	}{
		{name: "missing argument", args: []string{"register", ref}, errContains: "accepts 2 arg(s)"},
		{name: "missing reference", args: []string{"register", filepath.Join(dir, "nope.png"), target}, errContains: "reference"},
		{name: "blank reference", args: []string{"register", blank, target}, errContains: "reference"},
		{name: "unknown detector", args: []string{"register", ref, target, "--detector", "sift"}, errContains: "invalid options"},
		{name: "bad confidence", args: []string{"register", ref, target, "--confidence", "1.5"}, errContains: "registration.confidence"},
		{name: "metric mismatch", args: []string{"register", ref, target, "--descriptor", "patch", "--metric", "hamming"}, errContains: "invalid options"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(t, append(tt.args, "--output-dir", filepath.Join(dir, "out"))...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestRegisterCommand_MissingTargetIsReported(t *testing.T) {
	dir := t.TempDir()
	ref, _ := writePair(t, dir)

	stdout, _, err := executeCommand(t, "register", ref, filepath.Join(dir, "gone.png"),
		"--output-dir", filepath.Join(dir, "out"), "--format", "csv")
	require.Error(t, err)
	assert.Contains(t, stdout, "gone")
	assert.Contains(t, stdout, common.KindInvalidInput)
}
