package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Priority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	yaml := `
storage:
  data_dir: /from/file
log:
  level: warn
datastores:
  - type: config
    shards: [config-a, config-b]
    raft_addr: 127.0.0.1:7400
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MESHSTORE_LOG__FORMAT", "text")

	cfg, err := Load(path, map[string]any{
		"storage.data_dir": "/from/flag",
		"log.level":        "",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.DataDir != "/from/flag" {
		t.Errorf("data_dir = %q, want flag value", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %q, want file value", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("log.format = %q, want env value", cfg.Log.Format)
	}
	if len(cfg.Datastores) != 1 || len(cfg.Datastores[0].Shards) != 2 {
		t.Errorf("datastores = %+v", cfg.Datastores)
	}
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load("", map[string]any{"raft.log_store": "leveldb"})
	if err == nil || !strings.Contains(err.Error(), "raft.log_store") {
		t.Fatalf("Load() error = %v, want log_store error", err)
	}
}
