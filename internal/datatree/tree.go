package datatree

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// MetaNextTransactionID is the metadata counter bumped by every applied
// command. It is captured with the root node so a restored shard resumes
// transaction numbering where the original left off.
const MetaNextTransactionID = "next-transaction-id"

// Errors returned by tree operations.
var (
	ErrEmptyPath    = errors.New("datatree: path addresses the root")
	ErrNameMismatch = errors.New("datatree: node name does not match last path element")
	ErrNotContainer = errors.New("datatree: path crosses a leaf")
	ErrUnknownOp    = errors.New("datatree: unknown command op")
	ErrMissingNode  = errors.New("datatree: command requires a node")
)

// Tree is a concurrency-safe hierarchical tree with a small metadata map.
type Tree struct {
	mu       sync.RWMutex
	root     *Node
	metadata map[string]uint64
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		root:     NewContainer(""),
		metadata: make(map[string]uint64),
	}
}

// Read returns a copy of the node at path.
func (t *Tree) Read(path Path) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.lookup(path)
	if n == nil {
		return nil, false
	}
	return n.Clone(), true
}

// Has reports whether a node exists at path without copying it.
func (t *Tree) Has(path Path) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookup(path) != nil
}

// Write replaces the subtree at path with node, creating missing parent
// containers. node.Name must equal the last path element.
func (t *Tree) Write(path Path, node *Node) error {
	if node == nil {
		return ErrMissingNode
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write(path, node.Clone())
}

// Merge merges node into the subtree at path: containers are merged child
// by child, leaves are overwritten.
func (t *Tree) Merge(path Path, node *Node) error {
	if node == nil {
		return ErrMissingNode
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.merge(path, node.Clone())
}

// Delete removes the subtree at path. Deleting a missing path is a no-op.
func (t *Tree) Delete(path Path) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delete(path)
}

// Root returns a copy of the root node.
func (t *Tree) Root() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.Clone()
}

// Metadata returns a copy of the metadata map.
func (t *Tree) Metadata() map[string]uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyMetadata(t.metadata)
}

// State returns copies of the root node and metadata taken under one lock.
func (t *Tree) State() (*Node, map[string]uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.Clone(), copyMetadata(t.metadata)
}

// Load replaces the whole tree. A nil root loads an empty container.
func (t *Tree) Load(root *Node, metadata map[string]uint64) {
	if root == nil {
		root = NewContainer("")
	} else {
		root = root.Clone()
		root.normalize()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = root
	t.metadata = copyMetadata(metadata)
}

// Apply executes a command and bumps the transaction counter.
func (t *Tree) Apply(cmd Command) error {
	path := ParsePath(cmd.Path)

	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	switch cmd.Op {
	case OpWrite:
		if cmd.Node == nil {
			return ErrMissingNode
		}
		err = t.write(path, cmd.Node.Clone())
	case OpMerge:
		if cmd.Node == nil {
			return ErrMissingNode
		}
		err = t.merge(path, cmd.Node.Clone())
	case OpDelete:
		err = t.delete(path)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}
	if err != nil {
		return err
	}
	t.metadata[MetaNextTransactionID]++
	return nil
}

func (t *Tree) lookup(path Path) *Node {
	n := t.root
	for _, name := range path {
		n = n.Child(name)
		if n == nil {
			return nil
		}
	}
	return n
}

// parent walks to the parent of path, creating containers when create is set.
func (t *Tree) parent(path Path, create bool) (*Node, error) {
	n := t.root
	for _, name := range path[:len(path)-1] {
		if n.IsLeaf() {
			return nil, ErrNotContainer
		}
		next := n.Child(name)
		if next == nil {
			if !create {
				return nil, nil
			}
			next = NewContainer(name)
			n.setChild(next)
		}
		n = next
	}
	if n.IsLeaf() {
		return nil, ErrNotContainer
	}
	return n, nil
}

func (t *Tree) write(path Path, node *Node) error {
	node.normalize()
	if path.IsRoot() {
		node.Name = ""
		node.Value = nil
		t.root = node
		return nil
	}
	if node.Name != path[len(path)-1] {
		return fmt.Errorf("%w: %s vs %q", ErrNameMismatch, path, node.Name)
	}
	parent, err := t.parent(path, true)
	if err != nil {
		return err
	}
	parent.setChild(node)
	return nil
}

func (t *Tree) merge(path Path, node *Node) error {
	node.normalize()
	if path.IsRoot() {
		node.Name = ""
		mergeInto(t.root, node)
		return nil
	}
	if node.Name != path[len(path)-1] {
		return fmt.Errorf("%w: %s vs %q", ErrNameMismatch, path, node.Name)
	}
	parent, err := t.parent(path, true)
	if err != nil {
		return err
	}
	existing := parent.Child(node.Name)
	if existing == nil || existing.IsLeaf() || node.IsLeaf() {
		parent.setChild(node)
		return nil
	}
	mergeInto(existing, node)
	return nil
}

func mergeInto(dst, src *Node) {
	for _, c := range src.Children {
		cur := dst.Child(c.Name)
		if cur == nil || cur.IsLeaf() || c.IsLeaf() {
			dst.setChild(c)
			continue
		}
		mergeInto(cur, c)
	}
}

func (t *Tree) delete(path Path) error {
	if path.IsRoot() {
		return ErrEmptyPath
	}
	parent, err := t.parent(path, false)
	if err != nil || parent == nil {
		return err
	}
	parent.removeChild(path[len(path)-1])
	return nil
}

func copyMetadata(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Op is a tree mutation kind.
type Op string

const (
	OpWrite  Op = "write"
	OpMerge  Op = "merge"
	OpDelete Op = "delete"
)

// Command is a tree mutation as carried in a replicated log entry.
type Command struct {
	Op   Op     `json:"op"`
	Path string `json:"path"`
	Node *Node  `json:"node,omitempty"`
}

// EncodeCommand serializes a command for a log entry payload.
func EncodeCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("datatree: marshal command: %w", err)
	}
	return data, nil
}

// DecodeCommand parses a log entry payload.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("datatree: unmarshal command: %w", err)
	}
	return cmd, nil
}
