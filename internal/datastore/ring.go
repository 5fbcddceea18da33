package datastore

import (
	"encoding/binary"
	"sort"

	"github.com/spaolacci/murmur3"
)

// DefaultVirtualNodes is the number of ring points per shard.
const DefaultVirtualNodes = 64

// ring routes keys to shard names by consistent hashing with virtual
// nodes. It is built once per bootstrap and read without locking.
type ring struct {
	hashes []uint64
	owners map[uint64]string
}

func newRing(shards []string, virtualNodes int) *ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	r := &ring{owners: make(map[uint64]string, len(shards)*virtualNodes)}
	for _, name := range shards {
		for i := 0; i < virtualNodes; i++ {
			h := virtualHash(name, i)
			// On a collision the lexically smaller shard wins so routing
			// does not depend on insertion order.
			if prev, ok := r.owners[h]; ok && prev < name {
				continue
			}
			r.owners[h] = name
		}
	}
	r.hashes = make([]uint64, 0, len(r.owners))
	for h := range r.owners {
		r.hashes = append(r.hashes, h)
	}
	sort.Slice(r.hashes, func(i, j int) bool { return r.hashes[i] < r.hashes[j] })
	return r
}

// owner returns the shard owning key, or "" for an empty ring.
func (r *ring) owner(key string) string {
	if len(r.hashes) == 0 {
		return ""
	}
	h := murmur3.Sum64([]byte(key))
	idx := sort.Search(len(r.hashes), func(i int) bool { return r.hashes[i] >= h })
	if idx == len(r.hashes) {
		idx = 0
	}
	return r.owners[r.hashes[idx]]
}

func virtualHash(shard string, index int) uint64 {
	h := murmur3.New64()
	h.Write([]byte(shard))
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(index))
	h.Write(b[:])
	return h.Sum64()
}
