package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/yndnr/meshstore/internal/restore"
	"github.com/yndnr/meshstore/internal/shard"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
	"github.com/yndnr/meshstore/pkg/crypto/adaptive"
)

// Verify validates the configuration. It does not touch the filesystem.
func Verify(cfg *ServerConfig) error {
	checks := []func(*ServerConfig) error{
		verifyServer,
		verifyStorage,
		verifyRaft,
		verifyRestore,
		verifyBackup,
		verifySecurity,
		verifyDatastores,
		verifyLog,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func verifyServer(cfg *ServerConfig) error {
	h := &cfg.Server.HTTP
	if h.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(h.Addr); err != nil {
		return fmt.Errorf("server.http.addr: %w", err)
	}
	if h.AdminRateLimit < 0 {
		return errors.New("server.http.admin_rate_limit must not be negative")
	}
	if h.AdminRateLimit > 0 && h.AdminBurst < 1 {
		return errors.New("server.http.admin_burst must be at least 1 when rate limiting")
	}
	for _, entry := range h.AdminAllowList {
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("server.http.admin_allow_list: invalid entry %q", entry)
		}
	}
	t := h.TLS
	if (t.CertFile == "") != (t.KeyFile == "") {
		return errors.New("server.http.tls: cert_file and key_file must be set together")
	}
	if t.ClientCAFile != "" && !t.Enabled() {
		return errors.New("server.http.tls.client_ca_file requires cert_file")
	}
	return nil
}

func verifyStorage(cfg *ServerConfig) error {
	if cfg.Storage.DataDir == "" && shard.Storage(cfg.Raft.LogStore) != shard.StorageInmem {
		return errors.New("storage.data_dir is required")
	}
	return nil
}

func verifyRaft(cfg *ServerConfig) error {
	r := &cfg.Raft
	switch shard.Storage(r.LogStore) {
	case shard.StorageBolt, shard.StorageBadger, shard.StorageInmem:
	default:
		return fmt.Errorf("raft.log_store: unknown store %q", r.LogStore)
	}
	switch shard.Transport(r.Transport) {
	case shard.TransportTCP, shard.TransportInmem:
	default:
		return fmt.Errorf("raft.transport: unknown transport %q", r.Transport)
	}
	if r.SnapshotRetain < 1 {
		return errors.New("raft.snapshot_retain must be at least 1")
	}
	if r.LeaderLeaseTimeout > r.HeartbeatTimeout {
		return errors.New("raft.leader_lease_timeout must not exceed raft.heartbeat_timeout")
	}
	if r.Badger.GCThreshold < 0 || r.Badger.GCThreshold >= 1 {
		return errors.New("raft.badger.gc_threshold must be in [0, 1)")
	}
	return nil
}

func verifyRestore(cfg *ServerConfig) error {
	if cfg.Restore.Dir == "" {
		return errors.New("restore.dir is required")
	}
	switch restore.DeletePolicy(cfg.Restore.DeletePolicy) {
	case "", restore.DeleteOnDrain, restore.DeleteOnLoad:
	default:
		return fmt.Errorf("restore.delete_policy: unknown policy %q", cfg.Restore.DeletePolicy)
	}
	return nil
}

func verifyBackup(cfg *ServerConfig) error {
	b := &cfg.Backup
	if b.OnShutdown && b.Dir == "" {
		return errors.New("backup.dir is required when backup.on_shutdown is set")
	}
	if b.RetentionCount < 0 {
		return errors.New("backup.retention_count must not be negative")
	}
	if b.RetentionDays < 0 {
		return errors.New("backup.retention_days must not be negative")
	}
	return nil
}

func verifySecurity(cfg *ServerConfig) error {
	s := &cfg.Security
	if s.EncryptionKey != "" && s.Passphrase != "" {
		return errors.New("security.encryption_key and security.passphrase are mutually exclusive")
	}
	if s.EncryptionKey != "" {
		key, err := hex.DecodeString(s.EncryptionKey)
		if err != nil {
			return fmt.Errorf("security.encryption_key: %w", err)
		}
		if len(key) < snapshot.MinKeyLength {
			return fmt.Errorf("security.encryption_key: %w", snapshot.ErrKeyTooShort)
		}
	}
	if s.Passphrase != "" && len(s.Passphrase) < snapshot.MinPassphraseLength {
		return fmt.Errorf("security.passphrase: %w", snapshot.ErrPassphraseTooWeak)
	}
	if _, err := adaptive.ParseAlgorithm(s.Cipher); err != nil {
		return fmt.Errorf("security.cipher: %w", err)
	}
	return nil
}

func verifyDatastores(cfg *ServerConfig) error {
	seen := make(map[string]bool, len(cfg.Datastores))
	for i, ds := range cfg.Datastores {
		if ds.Type == "" {
			return fmt.Errorf("datastores[%d].type is required", i)
		}
		if seen[ds.Type] {
			return fmt.Errorf("datastores[%d]: duplicate type %q", i, ds.Type)
		}
		seen[ds.Type] = true

		if shard.Transport(cfg.Raft.Transport) == shard.TransportTCP {
			if _, _, err := net.SplitHostPort(ds.RaftAddr); err != nil {
				return fmt.Errorf("datastores[%d].raft_addr: %w", i, err)
			}
		}
	}
	return nil
}

func verifyLog(cfg *ServerConfig) error {
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Log.Format)
	}
	return nil
}
