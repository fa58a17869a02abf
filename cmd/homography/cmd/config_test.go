package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/blacksoil/HomographyAnalyzer/internal/config"
)

func TestConfigShow_YAML(t *testing.T) {
	stdout, _, err := executeCommand(t, "config", "show")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &cfg))
	d := config.DefaultConfig()
	assert.Equal(t, d.Registration.Detector, cfg.Registration.Detector)
	assert.Equal(t, d.Server.Port, cfg.Server.Port)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestConfigShow_JSON(t *testing.T) {
	stdout, _, err := executeCommand(t, "config", "show", "--format", "json")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(stdout), &cfg))
	assert.Equal(t, "orb", cfg.Registration.Descriptor)

	_, _, err = executeCommand(t, "config", "show", "--format", "toml")
	require.Error(t, err)
}

func TestConfigShow_InvalidFileIsShownWithWarning(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  port: 0\n"), 0o600))

	stdout, stderr, err := executeCommand(t, "--config", cfgPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "port: 0")
	assert.Contains(t, stderr, "loaded from "+cfgPath)
	assert.Contains(t, stderr, "invalid server port")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homography.yaml")

	stdout, _, err := executeCommand(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Configuration written to "+path)

	loaded, err := config.NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Registration.RansacThreshold, loaded.Registration.RansacThreshold)
}

func TestConfigPath(t *testing.T) {
	stdout, _, err := executeCommand(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, stdout, ".\n")
	assert.Contains(t, stdout, "/etc/homography")
}
