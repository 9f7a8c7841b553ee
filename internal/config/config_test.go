package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvFileSetsFields(t *testing.T) {
	cfg := &ToolConfig{Baud: DefaultBaud}
	parseEnvFile("ESP32TOOL_PORT=/dev/ttyUSB0\nESP32TOOL_BAUD=460800\nESP32TOOL_TRACE=true\n", cfg)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Port)
	assert.Equal(t, 460800, cfg.Baud)
	assert.True(t, cfg.Trace)
}

func TestParseEnvFileIgnoresCommentsAndBlankLines(t *testing.T) {
	cfg := &ToolConfig{Baud: DefaultBaud}
	parseEnvFile("# a comment\n\nESP32TOOL_PORT=/dev/ttyACM0\n", cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.Port)
}

func TestEnvironmentOverridesEnvFile(t *testing.T) {
	Reset()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ESP32TOOL_PORT=/dev/ttyUSB0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example\n\ngo 1.23\n"), 0o644))

	oldWD, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldWD)

	t.Setenv("ESP32TOOL_PORT", "/dev/ttyACM1")
	defer Reset()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", cfg.Port)
}

func TestLoadDefaultsBaudWhenUnset(t *testing.T) {
	Reset()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example\n\ngo 1.23\n"), 0o644))

	oldWD, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldWD)
	defer Reset()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaud, cfg.Baud)
}
