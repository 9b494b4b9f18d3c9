// Package config - Server configuration loaded from yaml with env overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Server holds runtime configuration for the daemon. Values come from the
// yaml file in the data directory; environment variables with the RHINOX
// prefix override the file (RHINOX_API_ADDR, RHINOX_LOG_LEVEL, ...).
type Server struct {
	// APIAddr is the JSON-RPC listen address.
	APIAddr string `yaml:"api_addr" envconfig:"API_ADDR"`

	// DataDir is the storage directory.
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`

	// Timezone is the IANA zone used for hourly chart bucketing.
	Timezone string `yaml:"timezone" envconfig:"TIMEZONE"`

	// RequestTimeoutSeconds is the per-request deadline.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" envconfig:"REQUEST_TIMEOUT_SECONDS"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() *Server {
	return &Server{
		APIAddr:               "127.0.0.1:8080",
		DataDir:               "~/.rhinox",
		LogLevel:              "info",
		Timezone:              "Africa/Lagos",
		RequestTimeoutSeconds: 30,
	}
}

// LoadServer loads configuration from dir/config.yaml, creating the file
// with defaults when missing, then applies environment overrides.
func LoadServer(dir string) (*Server, error) {
	cfg := DefaultServer()

	path := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if werr := writeDefault(path, cfg); werr != nil {
			return nil, werr
		}
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := envconfig.Process("RHINOX", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	return cfg, nil
}

func writeDefault(path string, cfg *Server) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}
