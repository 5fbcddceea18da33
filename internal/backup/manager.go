package backup

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/meshstore/internal/storage/snapshot"
)

const (
	filePrefix    = "backup-"
	fileExtension = ".mbk"

	DefaultRetentionCount = 5
	DefaultRetentionDays  = 7
)

var (
	ErrDirRequired = errors.New("backup: dir is required")
	ErrNoSources   = errors.New("backup: no datastores to back up")
	ErrNotFound    = errors.New("backup: not found")
	ErrNoBackups   = errors.New("backup: no backups available")
)

// Source is a datastore that can be captured. *datastore.Manager
// implements it.
type Source interface {
	Type() string
	Snapshot(ctx context.Context) (*snapshot.DatastoreSnapshot, error)
}

// Config configures the backup manager.
type Config struct {
	Dir string

	// RetentionCount keeps the newest n backups and RetentionDays keeps
	// backups younger than n days. Zero turns a rule off; the newest backup
	// is always kept. DefaultConfig sets both.
	RetentionCount int
	RetentionDays  int

	NodeID     string
	Encryption snapshot.EncryptionConfig
	Logger     *slog.Logger
}

// DefaultConfig returns a config with default retention.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		RetentionCount: DefaultRetentionCount,
		RetentionDays:  DefaultRetentionDays,
	}
}

// Manager writes, lists and prunes backup bundles in one directory.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewManager creates the backup directory if needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, ErrDirRequired
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("backup: create dir: %w", err)
	}
	if err := snapshot.ValidateConfig(cfg.Encryption); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "backup"),
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}, nil
}

// Dir returns the backup directory.
func (m *Manager) Dir() string { return m.cfg.Dir }

// Create captures every source and writes them as one bundle named by a
// fresh ULID. Sources must have distinct types.
func (m *Manager) Create(ctx context.Context, sources ...Source) (*snapshot.Info, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	b := &snapshot.Bundle{Datastores: make([]snapshot.DatastoreSnapshot, 0, len(sources))}
	for _, src := range sources {
		ds, err := src.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("backup: capture %s: %w", src.Type(), err)
		}
		b.Datastores = append(b.Datastores, *ds)
	}

	now := m.now()
	id, err := m.newID(now)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(m.cfg.Dir, filePrefix+id+fileExtension)

	info, err := snapshot.WriteFile(path, b, snapshot.WriteOptions{
		BackupID:   id,
		NodeID:     m.cfg.NodeID,
		CreatedAt:  now,
		Encryption: m.cfg.Encryption,
	})
	if err != nil {
		return nil, fmt.Errorf("backup: write %s: %w", id, err)
	}

	m.logger.Info("backup created",
		"backup_id", id,
		"datastores", info.Datastores,
		"size", info.Size,
		"encrypted", info.Encrypted)
	return info, nil
}

func (m *Manager) newID(t time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), m.entropy)
	if err != nil {
		return "", fmt.Errorf("backup: generate id: %w", err)
	}
	return id.String(), nil
}

// List returns the backups oldest first. Files whose header cannot be read
// are skipped and logged.
func (m *Manager) List() ([]*snapshot.Info, error) {
	paths, err := m.paths()
	if err != nil {
		return nil, err
	}
	infos := make([]*snapshot.Info, 0, len(paths))
	for _, p := range paths {
		info, err := snapshot.InspectFile(p)
		if err != nil {
			m.logger.Warn("skipping unreadable backup", "path", p, "error", err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// paths returns backup file paths sorted by id. ULIDs sort by time.
func (m *Manager) paths() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: read dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		if _, err := ulid.ParseStrict(idFromName(name)); err != nil {
			continue
		}
		paths = append(paths, filepath.Join(m.cfg.Dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func idFromName(name string) string {
	return strings.TrimSuffix(strings.TrimPrefix(filepath.Base(name), filePrefix), fileExtension)
}

// Path resolves a backup id, or "latest", to its file.
func (m *Manager) Path(id string) (string, error) {
	paths, err := m.paths()
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", ErrNoBackups
	}
	if id == "latest" {
		return paths[len(paths)-1], nil
	}
	for _, p := range paths {
		if idFromName(p) == strings.ToUpper(id) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Verify fully decodes and validates a backup.
func (m *Manager) Verify(id string) (*snapshot.Info, error) {
	path, err := m.Path(id)
	if err != nil {
		return nil, err
	}
	_, info, err := snapshot.ReadFile(path, m.cfg.Encryption)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Stage copies a verified backup to the restore artifact path so the next
// server start restores from it. An existing artifact is replaced.
func (m *Manager) Stage(id, restorePath string) (*snapshot.Info, error) {
	path, err := m.Path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: read %s: %w", path, err)
	}
	if _, info, err := snapshot.Unpack(data, m.cfg.Encryption); err != nil {
		return nil, err
	} else if len(info.Datastores) == 0 {
		return nil, fmt.Errorf("backup: %s holds no datastores", id)
	}

	if err := os.MkdirAll(filepath.Dir(restorePath), 0750); err != nil {
		return nil, fmt.Errorf("backup: create restore dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(restorePath), ".stage-*")
	if err != nil {
		return nil, fmt.Errorf("backup: stage: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("backup: stage: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("backup: stage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("backup: stage: %w", err)
	}
	if err := os.Rename(tmp.Name(), restorePath); err != nil {
		return nil, fmt.Errorf("backup: stage: %w", err)
	}

	info, err := snapshot.InspectFile(restorePath)
	if err != nil {
		return nil, err
	}
	m.logger.Info("backup staged for restore", "backup_id", info.BackupID, "path", restorePath)
	return info, nil
}

// Prune applies the retention policy: keep the newest RetentionCount
// backups and any younger than RetentionDays, and always the newest one.
// It returns the number of files removed.
func (m *Manager) Prune() (int, error) {
	paths, err := m.paths()
	if err != nil {
		return 0, err
	}
	if len(paths) <= 1 {
		return 0, nil
	}

	keep := make(map[string]struct{}, len(paths))
	if m.cfg.RetentionCount > 0 {
		start := max(len(paths)-m.cfg.RetentionCount, 0)
		for _, p := range paths[start:] {
			keep[p] = struct{}{}
		}
	}
	if m.cfg.RetentionDays > 0 {
		cutoff := m.now().Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)
		for _, p := range paths {
			id, err := ulid.ParseStrict(idFromName(p))
			if err != nil {
				continue
			}
			if ulid.Time(id.Time()).After(cutoff) {
				keep[p] = struct{}{}
			}
		}
	}
	keep[paths[len(paths)-1]] = struct{}{}

	removed := 0
	for _, p := range paths {
		if _, ok := keep[p]; ok {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("prune backup failed", "path", p, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("backups pruned", "removed", removed, "kept", len(paths)-removed)
	}
	return removed, nil
}
