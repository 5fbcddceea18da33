// Package command defines the meshstore-cli commands on urfave/cli/v2:
//
//   - root.go: the app, global flags and profile loading
//   - backup.go: list, inspect, verify, create, prune and stage backups
//   - datastore.go: datastores and tree reads of a running server
//   - system.go: readiness and restore status
//   - config.go: the CLI profile and the server config
//
// Backup commands other than create work on the files named by the
// server config and need no running server. Everything else talks to the
// admin API.
//
// @design DS-0604
package command
