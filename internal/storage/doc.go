// Package storage provides the Badger-backed raft log and stable store.
//
// A BadgerStore keeps raft log entries under the "l/" prefix keyed by
// big-endian index, and stable-store values (current term, last vote) under
// "s/". Log records use protobuf wire encoding. A background loop runs value
// log GC and refreshes size gauges.
//
// @design DS-0401
// @adr AD-0402
package storage
