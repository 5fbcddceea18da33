// Package tlsroots loads the TLS material of the admin API.
//
//   - roots.go: CA pools from PEM files or directories, and the server and
//     client tls.Config built from them
//   - watcher.go: a key pair that reloads when its files change
//
// @design DS-0501
package tlsroots
