package config

import (
	"fmt"

	"github.com/yndnr/meshstore/internal/infra/confloader"
)

// Load builds a validated configuration from defaults, the YAML file at
// path (optional), MESHSTORE_* environment variables and overrides, in
// increasing priority. Overrides use dotted keys such as
// "storage.data_dir"; empty strings are ignored.
func Load(path string, overrides map[string]any) (*ServerConfig, error) {
	cfg := Default()

	var opts []confloader.Option
	if path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	loader := confloader.NewLoader(opts...)
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if len(overrides) > 0 {
		if err := loader.LoadFlags(overrides); err != nil {
			return nil, err
		}
		if err := loader.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	ApplyDefaults(cfg)
	if err := Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
