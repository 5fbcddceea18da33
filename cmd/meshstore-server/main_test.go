package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/meshstore/internal/infra/tlsroots"
	"github.com/yndnr/meshstore/internal/infra/tlsroots/tlstest"
	"github.com/yndnr/meshstore/internal/server/config"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
	"github.com/yndnr/meshstore/internal/storage/snapshot/snapshottest"
)

func testConfig(t *testing.T) *config.ServerConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.HTTP.Addr = "127.0.0.1:0"
	cfg.Server.HTTP.AdminRateLimit = 0
	cfg.Node.ID = "member-1"
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Raft.LogStore = "inmem"
	cfg.Raft.Transport = "inmem"
	cfg.Raft.HeartbeatTimeout = 50 * time.Millisecond
	cfg.Raft.ElectionTimeout = 50 * time.Millisecond
	cfg.Raft.LeaderLeaseTimeout = 50 * time.Millisecond
	cfg.Raft.CommitTimeout = 5 * time.Millisecond
	cfg.Restore.Dir = filepath.Join(dir, "restore")
	cfg.Backup.Dir = filepath.Join(dir, "backup")
	cfg.Datastores = []config.DatastoreConfig{
		{Type: snapshottest.ConfigType, Shards: []string{"config-one"}},
		{Type: snapshottest.OperationalType, Shards: []string{"oper-one"}},
	}
	config.ApplyDefaults(cfg)
	if err := config.Verify(cfg); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	return cfg
}

func startServer(t *testing.T, cfg *config.ServerConfig) *server {
	t.Helper()
	srv, err := newServer(cfg, "", io.Discard)
	if err != nil {
		t.Fatalf("newServer() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.start(ctx); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.shutdown.Shutdown() })
	return srv
}

type envelope struct {
	Code string          `json:"code"`
	Data json.RawMessage `json:"data"`
}

func call(t *testing.T, method, url string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode: %v", method, url, err)
	}
	return resp.StatusCode, env
}

func TestServer_RestoresBundleAndServes(t *testing.T) {
	cfg := testConfig(t)
	artifact := filepath.Join(cfg.Restore.Dir, cfg.Restore.FileName)
	if err := os.MkdirAll(cfg.Restore.Dir, 0750); err != nil {
		t.Fatal(err)
	}
	if _, err := snapshot.WriteFile(artifact, snapshottest.Bundle(), snapshot.WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	srv := startServer(t, cfg)
	base := "http://" + srv.http.Addr()

	if _, err := os.Stat(artifact); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("artifact still present after every datastore claimed it: %v", err)
	}

	if status, _ := call(t, http.MethodGet, base+"/readyz"); status != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200", status)
	}

	status, env := call(t, http.MethodGet, base+"/restore/pending")
	if status != http.StatusOK {
		t.Fatalf("/restore/pending status = %d", status)
	}
	var pending struct {
		Pending []string `json:"pending"`
	}
	if err := json.Unmarshal(env.Data, &pending); err != nil {
		t.Fatal(err)
	}
	if len(pending.Pending) != 0 {
		t.Errorf("pending = %v, want none", pending.Pending)
	}

	// config-two comes from the restored manager snapshot, not the config.
	status, env = call(t, http.MethodGet, base+"/admin/v1/datastores")
	if status != http.StatusOK {
		t.Fatalf("datastores status = %d", status)
	}
	var datastores []struct {
		Type     string `json:"type"`
		Restored bool   `json:"restored"`
		Shards   []struct {
			Name string `json:"name"`
		} `json:"shards"`
	}
	if err := json.Unmarshal(env.Data, &datastores); err != nil {
		t.Fatal(err)
	}
	if len(datastores) != 2 {
		t.Fatalf("datastores = %d, want 2", len(datastores))
	}
	if !datastores[0].Restored || len(datastores[0].Shards) != 2 {
		t.Errorf("config datastore = %+v, want restored with 2 shards", datastores[0])
	}

	if status, _ := call(t, http.MethodGet, base+"/admin/v1/datastores/config/tree/cars/car/optima"); status != http.StatusOK {
		t.Errorf("restored car status = %d, want 200", status)
	}

	status, env = call(t, http.MethodPost, base+"/admin/v1/backups")
	if status != http.StatusCreated {
		t.Fatalf("create backup status = %d (%s)", status, env.Code)
	}
	var info snapshot.Info
	if err := json.Unmarshal(env.Data, &info); err != nil {
		t.Fatal(err)
	}
	if info.NodeID != "member-1" || len(info.Datastores) != 2 {
		t.Errorf("backup info = %+v", info)
	}
	infos, err := srv.backups.List()
	if err != nil || len(infos) != 1 {
		t.Errorf("List() = %d backups, %v; want 1", len(infos), err)
	}

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"meshstore_shard_applied_index", "meshstore_restore_"} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("/metrics missing %s", want)
		}
	}

	if err := srv.shutdown.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestServer_BackupOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.OnShutdown = true

	srv := startServer(t, cfg)
	if err := srv.shutdown.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	entries, err := os.ReadDir(cfg.Backup.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".mbk") {
		t.Fatalf("backup dir = %v, want one bundle", entries)
	}
	info, err := snapshot.InspectFile(filepath.Join(cfg.Backup.Dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Datastores) != 2 {
		t.Errorf("bundle datastores = %v", info.Datastores)
	}
}

func TestServer_CorruptArtifactStopsStartup(t *testing.T) {
	cfg := testConfig(t)
	artifact := filepath.Join(cfg.Restore.Dir, cfg.Restore.FileName)
	if err := os.MkdirAll(cfg.Restore.Dir, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(artifact, []byte("not a bundle"), 0600); err != nil {
		t.Fatal(err)
	}

	srv, err := newServer(cfg, "", io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	err = srv.start(context.Background())
	if !errors.Is(err, snapshot.ErrCorruptSnapshot) {
		t.Fatalf("start() error = %v, want corrupt snapshot", err)
	}
	if _, err := os.Stat(artifact); err != nil {
		t.Errorf("corrupt artifact removed: %v", err)
	}
	if len(srv.managers) != 0 {
		t.Errorf("datastores opened despite corrupt artifact")
	}
}

func TestPrintConfig_MasksSecrets(t *testing.T) {
	cfg := config.Default()
	config.ApplyDefaults(cfg)
	cfg.Security.EncryptionKey = strings.Repeat("ab", 16)

	var buf bytes.Buffer
	if err := printConfig(&buf, cfg); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, cfg.Security.EncryptionKey) {
		t.Error("encryption key printed in clear")
	}
	if !strings.Contains(out, "data_dir: "+config.DefaultDataDir) {
		t.Errorf("output missing data_dir:\n%s", out)
	}
	if !strings.Contains(out, "heartbeat_timeout: 1s") {
		t.Errorf("durations should print as strings:\n%s", out)
	}
}

func TestServer_ServesTLS(t *testing.T) {
	f := tlstest.Write(t)
	cfg := testConfig(t)
	cfg.Server.HTTP.TLS = config.TLSConfig{CertFile: f.CertFile, KeyFile: f.KeyFile}
	srv := startServer(t, cfg)

	tlsCfg, err := tlsroots.ClientConfig(f.CAFile, "", "")
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}, Timeout: 5 * time.Second}

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := client.Get("https://" + srv.http.Addr() + "/readyz")
		if err != nil {
			t.Fatalf("GET /readyz over TLS: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("readyz status = %d", resp.StatusCode)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
