package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/meshstore/internal/infra/confloader"
)

// EnvPrefix prefixes environment overrides of the profile, e.g.
// MESHSTORE_CLI_SERVER.
const EnvPrefix = "MESHSTORE_CLI_"

// DefaultConfigPath returns ~/.meshstore/cli.yaml, or a relative path when
// the home directory is unknown.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".meshstore", "cli.yaml")
	}
	return filepath.Join(home, ".meshstore", "cli.yaml")
}

// Load reads the profile at path over the defaults, then applies
// environment overrides. A missing file is not an error. An empty path
// means DefaultConfigPath.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	opts := []confloader.Option{confloader.WithEnvPrefix(EnvPrefix)}
	switch _, err := os.Stat(path); {
	case err == nil:
		opts = append(opts, confloader.WithConfigFile(path))
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("cli config: %w", err)
	}

	cfg := Default()
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, fmt.Errorf("cli config: %w", err)
	}
	return cfg, nil
}

// Save writes the profile with owner-only permissions.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("cli config: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cli config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("cli config: %w", err)
	}
	return nil
}
