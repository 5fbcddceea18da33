// Package main provides the entry point for meshstore-cli.
//
// The CLI manages backup bundles on the local disk and queries a running
// meshstore-server:
//
//   - Backups: list, inspect, verify, prune and stage for restore
//   - Datastores: shard status and subtree reads
//   - System: readiness and pending restores
//   - Configuration: the CLI profile and server config validation
//
// Usage:
//
//	meshstore-cli backup list
//	meshstore-cli backup stage latest
//	meshstore-cli -o json datastore get config /cars
//
// @design DS-0604
package main
