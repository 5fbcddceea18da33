// Package config holds the meshstore-cli profile: which server to talk
// to, the default output format and where the server's own config lives.
//
// The profile is read from ~/.meshstore/cli.yaml and MESHSTORE_CLI_*
// environment variables. Command-line flags override both.
//
// @design DS-0603
package config
