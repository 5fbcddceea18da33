package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr = "127.0.0.1:5080"

	DefaultAdminRateLimit = 5.0
	DefaultAdminBurst     = 10

	DefaultDataDir    = "/var/lib/meshstore/data"
	DefaultRestoreDir = "/var/lib/meshstore/restore"
	DefaultBackupDir  = "/var/lib/meshstore/backup"

	DefaultLogStore  = "bolt"
	DefaultTransport = "tcp"

	DefaultHeartbeatTimeout   = 1000 * time.Millisecond
	DefaultElectionTimeout    = 1000 * time.Millisecond
	DefaultCommitTimeout      = 50 * time.Millisecond
	DefaultLeaderLeaseTimeout = 500 * time.Millisecond
	DefaultSnapshotInterval   = 2 * time.Minute
	DefaultSnapshotThreshold  = 8192
	DefaultSnapshotRetain     = 3

	DefaultBadgerGCInterval  = 10 * time.Minute
	DefaultBadgerGCThreshold = 0.5

	DefaultRestoreFileName = "backup"
	DefaultDeletePolicy    = "on-drain"

	DefaultRetentionCount = 5
	DefaultRetentionDays  = 7

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration. Datastores are left
// empty; ApplyDefaults fills them in after loading.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:           DefaultHTTPAddr,
				AdminRateLimit: DefaultAdminRateLimit,
				AdminBurst:     DefaultAdminBurst,
			},
		},
		Storage: StorageSection{DataDir: DefaultDataDir},
		Raft: RaftSection{
			LogStore:           DefaultLogStore,
			Transport:          DefaultTransport,
			HeartbeatTimeout:   DefaultHeartbeatTimeout,
			ElectionTimeout:    DefaultElectionTimeout,
			CommitTimeout:      DefaultCommitTimeout,
			LeaderLeaseTimeout: DefaultLeaderLeaseTimeout,
			SnapshotInterval:   DefaultSnapshotInterval,
			SnapshotThreshold:  DefaultSnapshotThreshold,
			SnapshotRetain:     DefaultSnapshotRetain,
			Badger: BadgerSection{
				GCInterval:  DefaultBadgerGCInterval,
				GCThreshold: DefaultBadgerGCThreshold,
				SyncWrites:  true,
			},
		},
		Restore: RestoreSection{
			Dir:          DefaultRestoreDir,
			FileName:     DefaultRestoreFileName,
			DeletePolicy: DefaultDeletePolicy,
		},
		Backup: BackupSection{
			Dir:            DefaultBackupDir,
			RetentionCount: DefaultRetentionCount,
			RetentionDays:  DefaultRetentionDays,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// DefaultDatastores returns the config and operational domains with one
// shard each.
func DefaultDatastores() []DatastoreConfig {
	return []DatastoreConfig{
		{Type: "config", Shards: []string{"config-default"}, RaftAddr: "127.0.0.1:5400"},
		{Type: "operational", Shards: []string{"oper-default"}, RaftAddr: "127.0.0.1:5500"},
	}
}

// ApplyDefaults fills values that cannot be merged at load time.
func ApplyDefaults(cfg *ServerConfig) {
	if len(cfg.Datastores) == 0 {
		cfg.Datastores = DefaultDatastores()
	}
	if cfg.Restore.FileName == "" {
		cfg.Restore.FileName = DefaultRestoreFileName
	}
}
