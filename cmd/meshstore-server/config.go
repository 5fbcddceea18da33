package main

import (
	"io"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/yndnr/meshstore/internal/server/config"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"data-dir":  "storage.data_dir",
	"http-addr": "server.http.addr",
	"log-level": "log.level",
}

func loadConfig(c *cli.Context) (*config.ServerConfig, error) {
	overrides := make(map[string]any, len(flagKeys))
	for flag, key := range flagKeys {
		overrides[key] = c.String(flag)
	}
	return config.Load(c.String("config"), overrides)
}

func printConfig(w io.Writer, cfg *config.ServerConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(config.Sanitize(cfg)); err != nil {
		return err
	}
	return enc.Close()
}
