// Package config resolves the serial port, baud rate and trace-logging
// settings a CLI session starts with: a project-root .env file, then
// ESP32TOOL_PORT/ESP32TOOL_BAUD/ESP32TOOL_TRACE environment variables
// that override it.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/xyproto/env/v2"
)

// DefaultBaud is used when neither .env nor the environment set one.
const DefaultBaud = 115200

// ToolConfig is the resolved session configuration.
type ToolConfig struct {
	Port  string
	Baud  int
	Trace bool
}

var (
	toolConfig  *ToolConfig
	configLoaded bool
)

// Load resolves the configuration once and caches it; subsequent calls
// return the cached value.
func Load() (*ToolConfig, error) {
	if toolConfig != nil && configLoaded {
		return toolConfig, nil
	}

	cfg := &ToolConfig{Baud: DefaultBaud}

	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), cfg)
	}

	if env.Has("ESP32TOOL_PORT") {
		cfg.Port = env.Str("ESP32TOOL_PORT")
	}
	if env.Has("ESP32TOOL_BAUD") {
		if baud := env.Int("ESP32TOOL_BAUD"); baud != 0 {
			cfg.Baud = baud
		}
	}
	if env.Has("ESP32TOOL_TRACE") {
		cfg.Trace = env.Bool("ESP32TOOL_TRACE")
	}

	toolConfig = cfg
	configLoaded = true
	return cfg, nil
}

func parseEnvFile(content string, cfg *ToolConfig) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "ESP32TOOL_PORT":
			cfg.Port = value
		case "ESP32TOOL_BAUD":
			if n := parseIntOrZero(value); n != 0 {
				cfg.Baud = n
			}
		case "ESP32TOOL_TRACE":
			cfg.Trace = value == "1" || strings.EqualFold(value, "true")
		}
	}
}

func parseIntOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

// Reset clears the cached configuration, for tests that need to reload
// under a different environment.
func Reset() {
	toolConfig = nil
	configLoaded = false
}
