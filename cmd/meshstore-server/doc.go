// Package main provides the entry point for meshstore-server.
//
// On start the server reads the restore artifact (if any), bootstraps every
// configured datastore concurrently, letting each claim its own snapshot
// from the bundle, and then serves:
//
//   - /healthz, /readyz and /restore/pending probes
//   - /metrics in the Prometheus exposition format
//   - the /admin/v1 API (datastores, tree reads, backups)
//
// Usage:
//
//	meshstore-server serve --config /etc/meshstore/server.yaml
//	meshstore-server check-config --config /etc/meshstore/server.yaml
//	meshstore-server version
//
// @design DS-0501
package main
