// Package connection is the meshstore-cli client for the server's admin
// HTTP API. Responses arrive in the server's JSON envelope; non-OK codes
// surface as *APIError.
//
// @design DS-0602
package connection
