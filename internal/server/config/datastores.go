package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/meshstore/internal/backup"
	"github.com/yndnr/meshstore/internal/datastore"
	"github.com/yndnr/meshstore/internal/restore"
	"github.com/yndnr/meshstore/internal/shard"
	"github.com/yndnr/meshstore/internal/storage"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
)

// nodeIDFile persists a generated node ID under the data dir so a restart
// keeps the raft server ID its stores were written with.
const nodeIDFile = "node-id"

// ResolveNodeID returns the configured node ID. Without one it reuses the
// ID persisted in the data dir, generating and persisting it on first
// start.
func ResolveNodeID(cfg *ServerConfig, logger *slog.Logger) (string, error) {
	if cfg.Node.ID != "" {
		return cfg.Node.ID, nil
	}
	if cfg.Storage.DataDir == "" {
		return generateNodeID()
	}

	path := filepath.Join(cfg.Storage.DataDir, nodeIDFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read node id: %w", err)
	}

	id, err := generateNodeID()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0750); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write node id: %w", err)
	}
	if logger != nil {
		logger.Info("generated node ID", "node_id", id, "path", path)
	}
	return id, nil
}

// generateNodeID returns "msnode-" followed by 16 hex characters.
func generateNodeID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return "msnode-" + hex.EncodeToString(buf), nil
}

// EncryptionConfig builds the bundle encryption settings. A hex master key
// is run through DeriveBackupKey; a passphrase is passed through as is.
func EncryptionConfig(cfg *ServerConfig) (snapshot.EncryptionConfig, error) {
	s := cfg.Security
	enc := snapshot.EncryptionConfig{Algorithm: s.Cipher}
	switch {
	case s.Passphrase != "":
		enc.Passphrase = []byte(s.Passphrase)
	case s.EncryptionKey != "":
		master, err := hex.DecodeString(s.EncryptionKey)
		if err != nil {
			return snapshot.EncryptionConfig{}, fmt.Errorf("security.encryption_key: %w", err)
		}
		defer snapshot.ZeroKey(master)
		key, err := snapshot.DeriveBackupKey(master)
		if err != nil {
			return snapshot.EncryptionConfig{}, fmt.Errorf("security.encryption_key: %w", err)
		}
		enc.Key = key
	}
	return enc, nil
}

// ToDatastoreConfigs maps the configured domains to shard manager configs.
func ToDatastoreConfigs(cfg *ServerConfig, nodeID string, logger *slog.Logger, reg prometheus.Registerer) []datastore.Config {
	r := cfg.Raft
	timing := shard.Timing{
		HeartbeatTimeout:   r.HeartbeatTimeout,
		ElectionTimeout:    r.ElectionTimeout,
		CommitTimeout:      r.CommitTimeout,
		LeaderLeaseTimeout: r.LeaderLeaseTimeout,
		SnapshotInterval:   r.SnapshotInterval,
		SnapshotThreshold:  r.SnapshotThreshold,
	}

	var badger *storage.BadgerConfig
	if shard.Storage(r.LogStore) == shard.StorageBadger {
		bc := storage.DefaultBadgerConfig("")
		if r.Badger.GCInterval > 0 {
			bc.GCInterval = r.Badger.GCInterval
		}
		if r.Badger.GCThreshold > 0 {
			bc.GCThreshold = r.Badger.GCThreshold
		}
		bc.SyncWrites = r.Badger.SyncWrites
		badger = &bc
	}

	out := make([]datastore.Config, 0, len(cfg.Datastores))
	for _, ds := range cfg.Datastores {
		out = append(out, datastore.Config{
			Type:               ds.Type,
			NodeID:             nodeID,
			Dir:                filepath.Join(cfg.Storage.DataDir, ds.Type),
			Shards:             append([]string(nil), ds.Shards...),
			Storage:            shard.Storage(r.LogStore),
			Badger:             badger,
			Transport:          shard.Transport(r.Transport),
			BindAddr:           ds.RaftAddr,
			Timing:             timing,
			SnapshotRetain:     r.SnapshotRetain,
			PreserveMembership: r.PreserveMembership,
			Logger:             logger,
			Registerer:         reg,
		})
	}
	return out
}

// ToRestoreConfig maps the restore section to a coordinator config.
func ToRestoreConfig(cfg *ServerConfig, enc snapshot.EncryptionConfig, logger *slog.Logger) restore.Config {
	return restore.Config{
		Dir:          cfg.Restore.Dir,
		FileName:     cfg.Restore.FileName,
		Encryption:   enc,
		DeletePolicy: restore.DeletePolicy(cfg.Restore.DeletePolicy),
		Logger:       logger,
	}
}

// ToBackupConfig maps the backup section to a backup manager config.
func ToBackupConfig(cfg *ServerConfig, nodeID string, enc snapshot.EncryptionConfig, logger *slog.Logger) backup.Config {
	return backup.Config{
		Dir:            cfg.Backup.Dir,
		RetentionCount: cfg.Backup.RetentionCount,
		RetentionDays:  cfg.Backup.RetentionDays,
		NodeID:         nodeID,
		Encryption:     enc,
		Logger:         logger,
	}
}
