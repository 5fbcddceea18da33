// Package buildinfo reports the version of the running binary.
//
// @design DS-0501
package buildinfo
