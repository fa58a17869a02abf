package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "homography.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithNoConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.LogLevel, cfg.LogLevel)
	assert.Equal(t, def.Registration, cfg.Registration)
	assert.Equal(t, def.Server, cfg.Server)
}

func TestLoadWithFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
registration:
  detector: fast
  descriptor: brief
  ransac_threshold: 4.5
  cross_check: true
warp:
  border: replicate
output:
  format: json
  rois:
    - [[0, 0], [20, 0], [20, 10], [0, 10]]
server:
  port: 9090
`)
	loader := newTestLoader()
	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, path, loader.GetConfigFileUsed())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "fast", cfg.Registration.Detector)
	assert.Equal(t, "brief", cfg.Registration.Descriptor)
	assert.InDelta(t, 4.5, cfg.Registration.RansacThreshold, 1e-12)
	assert.True(t, cfg.Registration.CrossCheck)
	assert.Equal(t, "replicate", cfg.Warp.Border)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, 9090, cfg.Server.Port)

	polys, err := cfg.Output.Polygons()
	require.NoError(t, err)
	require.Len(t, polys, 1)
	assert.Len(t, polys[0], 4)

	// Unset keys keep their defaults.
	assert.Equal(t, DefaultConfig().Registration.MaxFeatures, cfg.Registration.MaxFeatures)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "registration:\n  detector: orb\n")
	t.Setenv("HOMOG_REGISTRATION_DETECTOR", "fast")
	t.Setenv("HOMOG_SERVER_PORT", "7070")

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fast", cfg.Registration.Detector)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadWithFile_Errors(t *testing.T) {
	_, err := newTestLoader().LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	broken := writeConfig(t, "registration: [unclosed\n")
	_, err = newTestLoader().LoadWithFile(broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	invalid := writeConfig(t, "registration:\n  detector: sift\n")
	_, err = newTestLoader().LoadWithFile(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")

	cfg, err := newTestLoader().LoadWithFileWithoutValidation(invalid)
	require.NoError(t, err)
	assert.Equal(t, "sift", cfg.Registration.Detector)
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "generated.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Registration, cfg.Registration)
}

func TestGetConfigSearchPaths(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	paths := GetConfigSearchPaths()
	require.NotEmpty(t, paths)
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, filepath.Join(xdg, "homography"))
	assert.Equal(t, "/etc/homography", paths[len(paths)-1])
}
