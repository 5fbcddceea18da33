// Package handler implements the admin HTTP endpoints of meshstore-server:
// liveness and readiness, restore progress, datastore status and reads,
// and backups.
//
// Every JSON response uses the Response envelope.
//
// @design DS-0301
package handler
