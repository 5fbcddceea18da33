// Package config defines the meshstore-server configuration.
//
//   - spec.go: ServerConfig and its sections
//   - default.go: default values
//   - load.go: merging file, environment and overrides
//   - verify.go: validation
//   - sanitize.go: secret masking for logs
//   - datastores.go: mapping onto datastore, restore and backup configs
//
// Configuration is loaded with internal/infra/confloader from a YAML file,
// MESHSTORE_ environment variables and command-line flags.
//
// @design DS-0502
package config
