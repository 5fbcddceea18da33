package confloader

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "MESHSTORE_"

// envSectionSeparator splits sections in environment variable names, so
// MESHSTORE_STORAGE__DATA_DIR maps to storage.data_dir.
const envSectionSeparator = "__"

// Loader merges configuration from a YAML file, the environment and flag
// overrides, in increasing priority.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the YAML file to load. An empty path skips the file.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configured file path.
func (l *Loader) FilePath() string { return l.filePath }

// Load reads the file and the environment and unmarshals the result over
// target. Fields absent from every source keep the values target already
// holds, so callers pass a struct pre-filled with defaults.
//
// Flag overrides take priority over both sources: merge them with
// LoadFlags after Load and call Unmarshal again.
func (l *Loader) Load(target any) error {
	if err := l.LoadFile(l.filePath); err != nil {
		return err
	}
	if err := l.LoadEnv(); err != nil {
		return err
	}
	if err := l.Unmarshal(target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// LoadFile merges a YAML file.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}
	return nil
}

// LoadEnv merges prefixed environment variables. A double underscore
// separates sections and a single underscore stays part of the key:
//
//	MESHSTORE_RAFT__LOG_STORE=badger -> raft.log_store
func (l *Loader) LoadEnv() error {
	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, envSectionSeparator, ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadFlags merges dotted-key overrides, typically from command-line flags.
// Empty string values are skipped so unset flags do not clear file values.
func (l *Loader) LoadFlags(values map[string]any) error {
	set := make(map[string]any, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		set[k] = v
	}
	if len(set) == 0 {
		return nil
	}
	if err := l.k.Load(mapProvider(set), nil); err != nil {
		return fmt.Errorf("load flags: %w", err)
	}
	return nil
}

// Unmarshal decodes the merged configuration into target using koanf tags.
func (l *Loader) Unmarshal(target any) error {
	return l.k.Unmarshal("", target)
}

// String returns a merged value as a string.
func (l *Loader) String(key string) string {
	return l.k.String(key)
}

// Keys returns every merged key.
func (l *Loader) Keys() []string {
	return l.k.Keys()
}
