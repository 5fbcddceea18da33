// Package datastore manages the shards of one datastore domain.
//
// A Manager bootstraps its domain exactly once: it claims the domain's
// restore entry from a Restorer, derives the shard set from the restored
// shards, the restored manager snapshot and its configuration, and opens
// every shard. Paths route to shards by their top-level element over a
// murmur3 consistent-hash ring.
//
// @design DS-0401
package datastore
