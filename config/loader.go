package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before the YAML file and environment are read.
const (
	DefaultPort        = 8880
	DefaultBaseURL     = "http://localhost:8880"
	DefaultIdleTimeout = 120 * time.Second
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			BaseURL:     DefaultBaseURL,
			Port:        DefaultPort,
			IdleTimeout: DefaultIdleTimeout,
		},
	}
}

// Load builds the configuration in three layers: built-in defaults, the
// YAML file at path (skipped when path is empty), then environment
// overrides. The result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays SCIMGW_* environment variables. Only scalar knobs are
// exposed this way; credential lists live in the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SCIMGW_BASEURL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("SCIMGW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("SCIMGW_AUTH_BASIC_USERNAME"); v != "" {
		password := os.Getenv("SCIMGW_AUTH_BASIC_PASSWORD")
		cfg.Auth.Basic = append(cfg.Auth.Basic, BasicAuthConfig{
			Username: v,
			Password: password,
		})
	}
	if v := os.Getenv("SCIMGW_AUTH_BEARER_TOKEN"); v != "" {
		cfg.Auth.BearerTokens = append(cfg.Auth.BearerTokens, BearerAuthConfig{Token: v})
	}
	if v := os.Getenv("SCIMGW_SOFTSYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SCIM.SoftSync = b
		}
	}
	if v := os.Getenv("SCIMGW_BULK_MAX_OPERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SCIM.BulkMaxOperations = n
		}
	}
}
