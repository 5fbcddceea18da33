package config

import "time"

// ServerConfig is the root configuration of meshstore-server.
type ServerConfig struct {
	Server     ServerSection     `koanf:"server" yaml:"server"`
	Node       NodeSection       `koanf:"node" yaml:"node"`
	Storage    StorageSection    `koanf:"storage" yaml:"storage"`
	Raft       RaftSection       `koanf:"raft" yaml:"raft"`
	Restore    RestoreSection    `koanf:"restore" yaml:"restore"`
	Backup     BackupSection     `koanf:"backup" yaml:"backup"`
	Security   SecuritySection   `koanf:"security" yaml:"security"`
	Datastores []DatastoreConfig `koanf:"datastores" yaml:"datastores"`
	Log        LogSection        `koanf:"log" yaml:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http" yaml:"http"`
}

// HTTPConfig configures the admin HTTP server (/metrics, /healthz,
// /restore/pending).
type HTTPConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`

	// AdminAllowList restricts /admin/v1 to these IPs and CIDR prefixes.
	// Empty allows every client.
	AdminAllowList []string `koanf:"admin_allow_list" yaml:"admin_allow_list"`

	// AdminRateLimit is requests per second per client on /admin/v1.
	// Zero disables limiting.
	AdminRateLimit float64 `koanf:"admin_rate_limit" yaml:"admin_rate_limit"`
	AdminBurst     int     `koanf:"admin_burst" yaml:"admin_burst"`

	TLS TLSConfig `koanf:"tls" yaml:"tls"`
}

// TLSConfig serves the HTTP endpoints over TLS when CertFile is set. The
// key pair is reloaded when its files change.
type TLSConfig struct {
	CertFile string `koanf:"cert_file" yaml:"cert_file"`
	KeyFile  string `koanf:"key_file" yaml:"key_file"`

	// ClientCAFile, when set, requires client certificates signed by one
	// of its CAs.
	ClientCAFile string `koanf:"client_ca_file" yaml:"client_ca_file"`
}

// Enabled reports whether TLS is configured.
func (t TLSConfig) Enabled() bool { return t.CertFile != "" }

// NodeSection identifies this node.
type NodeSection struct {
	// ID is the raft server ID. If empty, one is generated at startup.
	ID string `koanf:"id" yaml:"id"`
}

// StorageSection configures on-disk layout.
type StorageSection struct {
	// DataDir holds one directory per datastore, each holding one
	// directory per shard.
	DataDir string `koanf:"data_dir" yaml:"data_dir"`
}

// RaftSection configures the raft replica of every shard.
type RaftSection struct {
	// LogStore is "bolt", "badger" or "inmem".
	LogStore string `koanf:"log_store" yaml:"log_store"`

	// Transport is "tcp" or "inmem".
	Transport string `koanf:"transport" yaml:"transport"`

	HeartbeatTimeout   time.Duration `koanf:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	ElectionTimeout    time.Duration `koanf:"election_timeout" yaml:"election_timeout"`
	CommitTimeout      time.Duration `koanf:"commit_timeout" yaml:"commit_timeout"`
	LeaderLeaseTimeout time.Duration `koanf:"leader_lease_timeout" yaml:"leader_lease_timeout"`
	SnapshotInterval   time.Duration `koanf:"snapshot_interval" yaml:"snapshot_interval"`
	SnapshotThreshold  uint64        `koanf:"snapshot_threshold" yaml:"snapshot_threshold"`
	SnapshotRetain     int           `koanf:"snapshot_retain" yaml:"snapshot_retain"`

	// PreserveMembership restores the captured raft membership instead of
	// recovering each restored shard as a single-node cluster.
	PreserveMembership bool `koanf:"preserve_membership" yaml:"preserve_membership"`

	Badger BadgerSection `koanf:"badger" yaml:"badger"`
}

// BadgerSection tunes the badger log store.
type BadgerSection struct {
	GCInterval  time.Duration `koanf:"gc_interval" yaml:"gc_interval"`
	GCThreshold float64       `koanf:"gc_threshold" yaml:"gc_threshold"`
	SyncWrites  bool          `koanf:"sync_writes" yaml:"sync_writes"`
}

// RestoreSection configures the restore artifact consumed at startup.
type RestoreSection struct {
	Dir      string `koanf:"dir" yaml:"dir"`
	FileName string `koanf:"file_name" yaml:"file_name"`

	// DeletePolicy is "on-drain" or "on-load".
	DeletePolicy string `koanf:"delete_policy" yaml:"delete_policy"`
}

// BackupSection configures backup bundles.
type BackupSection struct {
	Dir string `koanf:"dir" yaml:"dir"`

	// OnShutdown writes a backup of every datastore during shutdown.
	OnShutdown bool `koanf:"on_shutdown" yaml:"on_shutdown"`

	RetentionCount int `koanf:"retention_count" yaml:"retention_count"`
	RetentionDays  int `koanf:"retention_days" yaml:"retention_days"`
}

// SecuritySection configures bundle encryption. Key and passphrase are
// mutually exclusive.
type SecuritySection struct {
	// EncryptionKey is a hex-encoded master key. Bundles are encrypted
	// with a key derived from it.
	EncryptionKey string `koanf:"encryption_key" yaml:"encryption_key"`
	Passphrase    string `koanf:"passphrase" yaml:"passphrase"`

	// Cipher is "aes-gcm" (default) or "chacha20-poly1305".
	Cipher string `koanf:"cipher" yaml:"cipher"`
}

// DatastoreConfig configures one datastore domain.
type DatastoreConfig struct {
	Type   string   `koanf:"type" yaml:"type"`
	Shards []string `koanf:"shards" yaml:"shards"`

	// RaftAddr is the raft address of the domain's first shard. Later
	// shards take consecutive ports.
	RaftAddr string `koanf:"raft_addr" yaml:"raft_addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}
