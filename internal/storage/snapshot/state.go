package snapshot

import (
	"fmt"
	"maps"

	"github.com/yndnr/meshstore/internal/datatree"
)

// StateKind tags the state carried by a ReplicatedLogSnapshot. The tag is
// written to the payload so new kinds can be added without guessing.
type StateKind uint32

const (
	KindUnknown   StateKind = 0
	KindShardTree StateKind = 1
)

func (k StateKind) String() string {
	switch k {
	case KindShardTree:
		return "shard-tree"
	default:
		return fmt.Sprintf("StateKind(%d)", uint32(k))
	}
}

// State is the state-machine contents captured at the applied position.
type State interface {
	Kind() StateKind
}

// TreeState is a captured shard data tree.
type TreeState struct {
	Root     *datatree.Node
	Metadata map[string]uint64
}

// NewTreeState wraps a root node and its metadata.
func NewTreeState(root *datatree.Node, metadata map[string]uint64) *TreeState {
	return &TreeState{Root: root, Metadata: metadata}
}

// Kind implements State.
func (*TreeState) Kind() StateKind { return KindShardTree }

// Equal compares the root structurally and the metadata by value. A nil
// metadata map equals an empty one.
func (t *TreeState) Equal(o *TreeState) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.Root.Equal(o.Root) && maps.Equal(t.Metadata, o.Metadata)
}

func statesEqual(a, b State) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case *TreeState:
		bv, ok := b.(*TreeState)
		return ok && av.Equal(bv)
	default:
		return false
	}
}
