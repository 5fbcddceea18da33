// Package metric holds the Prometheus registry served at /metrics and the
// collector exporting per-shard raft positions.
//
// @design DS-0402
package metric
