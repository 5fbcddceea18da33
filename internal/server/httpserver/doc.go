// Package httpserver serves the meshstore admin API: health probes,
// restore progress, Prometheus metrics and the /admin/v1 endpoints for
// datastore status, tree reads and backups.
//
// @design DS-0301
package httpserver
