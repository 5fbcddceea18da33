// Package shutdown runs ordered cleanup hooks when the process receives
// SIGINT or SIGTERM.
//
// @design DS-0501
package shutdown
