package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	content := "server: 10.0.0.5:5080\noutput: yaml\ntimeout: 30s\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MESHSTORE_CLI_OUTPUT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server != "10.0.0.5:5080" {
		t.Errorf("Server = %q", cfg.Server)
	}
	if cfg.Output != "json" {
		t.Errorf("Output = %q, env should win over file", cfg.Output)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if cfg.ServerConfig != Default().ServerConfig {
		t.Errorf("ServerConfig = %q, want default kept", cfg.ServerConfig)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cli.yaml")
	want := &CLIConfig{
		Server:       "admin.internal:5080",
		Output:       "yaml",
		ServerConfig: "/srv/meshstore.yaml",
		Timeout:      time.Minute,
	}
	if err := Save(want, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := st.Mode().Perm(); perm != 0600 {
		t.Errorf("mode = %o, want 0600", perm)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *got != *want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	if got := DefaultConfigPath(); filepath.Base(got) != "cli.yaml" || filepath.Base(filepath.Dir(got)) != ".meshstore" {
		t.Errorf("DefaultConfigPath() = %q", got)
	}
}
