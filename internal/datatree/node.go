// Package datatree is the in-memory hierarchical tree that backs every shard.
//
// It is a deliberately small engine: nodes are named containers or leaves,
// addressed by slash-separated paths. Schema validation and transactions
// belong to the full tree engine and are not modelled here; the snapshot
// subsystem only needs a root node it can capture, compare and reload.
package datatree

import (
	"bytes"
	"sort"
	"strings"
)

// Node is a tree node. A node with a non-nil Value is a leaf; otherwise it
// is a container whose Children are kept sorted by Name.
type Node struct {
	Name     string  `json:"name"`
	Value    []byte  `json:"value"`
	Children []*Node `json:"children,omitempty"`
}

// NewContainer returns a container node holding the given children.
// Later children replace earlier ones with the same name.
func NewContainer(name string, children ...*Node) *Node {
	n := &Node{Name: name}
	for _, c := range children {
		n.setChild(c)
	}
	return n
}

// NewLeaf returns a leaf node. A nil value is stored as an empty value so
// the node stays a leaf.
func NewLeaf(name string, value []byte) *Node {
	if value == nil {
		value = []byte{}
	}
	return &Node{Name: name, Value: value}
}

// IsLeaf reports whether n carries a value.
func (n *Node) IsLeaf() bool {
	return n != nil && n.Value != nil
}

// Child returns the direct child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	i := n.search(name)
	if i < len(n.Children) && n.Children[i].Name == name {
		return n.Children[i]
	}
	return nil
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Name: n.Name}
	if n.Value != nil {
		out.Value = append([]byte{}, n.Value...)
	}
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// Equal reports structural equality: same names, same leaf values and the
// same set of children, regardless of child order.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Name != o.Name || n.IsLeaf() != o.IsLeaf() {
		return false
	}
	if !bytes.Equal(n.Value, o.Value) {
		return false
	}
	if len(n.Children) != len(o.Children) {
		return false
	}
	for _, c := range n.Children {
		if !c.Equal(o.findChild(c.Name)) {
			return false
		}
	}
	return true
}

// findChild is a linear Child for nodes that may not be normalized yet.
func (n *Node) findChild(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Len returns the number of nodes in the subtree rooted at n.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += c.Len()
	}
	return total
}

func (n *Node) search(name string) int {
	return sort.Search(len(n.Children), func(i int) bool {
		return n.Children[i].Name >= name
	})
}

func (n *Node) setChild(c *Node) {
	i := n.search(c.Name)
	if i < len(n.Children) && n.Children[i].Name == c.Name {
		n.Children[i] = c
		return
	}
	n.Children = append(n.Children, nil)
	copy(n.Children[i+1:], n.Children[i:])
	n.Children[i] = c
}

func (n *Node) removeChild(name string) bool {
	i := n.search(name)
	if i >= len(n.Children) || n.Children[i].Name != name {
		return false
	}
	n.Children = append(n.Children[:i], n.Children[i+1:]...)
	if len(n.Children) == 0 {
		n.Children = nil
	}
	return true
}

// normalize sorts children recursively and drops duplicate names, keeping
// the last occurrence. Decoded nodes go through it before entering a tree.
func (n *Node) normalize() {
	if n == nil || len(n.Children) == 0 {
		return
	}
	kids := n.Children
	n.Children = nil
	for _, c := range kids {
		if c == nil {
			continue
		}
		c.normalize()
		n.setChild(c)
	}
}

// Path addresses a node by the names from the root down.
type Path []string

// ParsePath splits a slash-separated path. Empty segments are dropped, so
// "/", "" and "//" all address the root.
func ParsePath(s string) Path {
	var p Path
	for _, seg := range strings.Split(s, "/") {
		if seg != "" {
			p = append(p, seg)
		}
	}
	return p
}

// String renders p in its slash-separated form.
func (p Path) String() string {
	return "/" + strings.Join(p, "/")
}

// IsRoot reports whether p addresses the root node.
func (p Path) IsRoot() bool {
	return len(p) == 0
}
