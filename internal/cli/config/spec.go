package config

import "time"

// CLIConfig is the meshstore-cli profile.
type CLIConfig struct {
	// Server is the admin API address of meshstore-server.
	Server string `koanf:"server" yaml:"server"`

	// Output is the default output format: table, json or yaml.
	Output string `koanf:"output" yaml:"output"`

	// ServerConfig is the server's YAML config. Local backup commands read
	// the backup dir, restore path and encryption settings from it.
	ServerConfig string `koanf:"server_config" yaml:"server_config"`

	// Timeout bounds each admin API request.
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`

	// CAFile verifies a TLS admin API; empty uses the system roots.
	// Setting it or the client pair switches plain addresses to https.
	CAFile   string `koanf:"ca_file" yaml:"ca_file,omitempty"`
	CertFile string `koanf:"cert_file" yaml:"cert_file,omitempty"`
	KeyFile  string `koanf:"key_file" yaml:"key_file,omitempty"`
}

// TLS reports whether the profile asks for TLS.
func (c *CLIConfig) TLS() bool {
	return c.CAFile != "" || c.CertFile != ""
}

// Default returns the built-in profile.
func Default() *CLIConfig {
	return &CLIConfig{
		Server:       "127.0.0.1:5080",
		Output:       "table",
		ServerConfig: "/etc/meshstore/server.yaml",
		Timeout:      2 * time.Minute,
	}
}
