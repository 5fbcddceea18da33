package datatree

import (
	"errors"
	"testing"
)

func TestNodeEqual_IgnoresChildOrder(t *testing.T) {
	a := NewContainer("c", NewLeaf("x", []byte("1")), NewLeaf("y", []byte("2")))
	b := &Node{Name: "c", Children: []*Node{
		{Name: "y", Value: []byte("2")},
		{Name: "x", Value: []byte("1")},
	}}

	if !a.Equal(b) {
		t.Fatal("expected nodes to be equal regardless of child order")
	}
	if a.Equal(NewContainer("c", NewLeaf("x", []byte("1")))) {
		t.Fatal("nodes with different children should differ")
	}
}

func TestNodeEqual_LeafVersusContainer(t *testing.T) {
	if NewLeaf("a", nil).Equal(NewContainer("a")) {
		t.Fatal("empty leaf must not equal empty container")
	}
	var n *Node
	if !n.Equal(nil) {
		t.Fatal("nil nodes should be equal")
	}
}

func TestTree_WriteReadDelete(t *testing.T) {
	tr := New()
	car := NewContainer("optima", NewLeaf("price", []byte("20000")))

	if err := tr.Write(ParsePath("/cars/car/optima"), car); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, ok := tr.Read(ParsePath("/cars/car/optima"))
	if !ok {
		t.Fatal("Read: node not found")
	}
	if !got.Equal(car) {
		t.Fatalf("Read returned %+v", got)
	}

	if err := tr.Delete(ParsePath("/cars/car/optima")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := tr.Read(ParsePath("/cars/car/optima")); ok {
		t.Fatal("node still present after delete")
	}
	if err := tr.Delete(ParsePath("/missing/node")); err != nil {
		t.Fatalf("Delete(missing) = %v, want nil", err)
	}
}

func TestTree_Has(t *testing.T) {
	tr := New()
	if !tr.Has(Path{}) {
		t.Error("root should always exist")
	}
	if err := tr.Write(ParsePath("/people"), NewContainer("people")); err != nil {
		t.Fatal(err)
	}
	if !tr.Has(ParsePath("/people")) {
		t.Error("Has(/people) = false after write")
	}
	if tr.Has(ParsePath("/people/alice")) || tr.Has(ParsePath("/cars")) {
		t.Error("Has reported a missing node")
	}
}

func TestTree_WriteNameMismatch(t *testing.T) {
	tr := New()
	err := tr.Write(ParsePath("/cars"), NewContainer("people"))
	if !errors.Is(err, ErrNameMismatch) {
		t.Fatalf("Write err = %v, want ErrNameMismatch", err)
	}
}

func TestTree_MergeKeepsSiblings(t *testing.T) {
	tr := New()
	_ = tr.Write(ParsePath("/c"), NewContainer("c", NewLeaf("a", []byte("1"))))
	if err := tr.Merge(ParsePath("/c"), NewContainer("c", NewLeaf("b", []byte("2")))); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	got, _ := tr.Read(ParsePath("/c"))
	want := NewContainer("c", NewLeaf("a", []byte("1")), NewLeaf("b", []byte("2")))
	if !got.Equal(want) {
		t.Fatalf("merged = %+v, want %+v", got, want)
	}
}

func TestTree_ApplyCountsTransactions(t *testing.T) {
	tr := New()
	cmds := []Command{
		{Op: OpWrite, Path: "/a", Node: NewLeaf("a", []byte("x"))},
		{Op: OpMerge, Path: "/b", Node: NewContainer("b")},
		{Op: OpDelete, Path: "/a"},
	}
	for _, c := range cmds {
		data, err := EncodeCommand(c)
		if err != nil {
			t.Fatalf("EncodeCommand: %v", err)
		}
		decoded, err := DecodeCommand(data)
		if err != nil {
			t.Fatalf("DecodeCommand: %v", err)
		}
		if err := tr.Apply(decoded); err != nil {
			t.Fatalf("Apply(%s): %v", c.Op, err)
		}
	}

	if got := tr.Metadata()[MetaNextTransactionID]; got != 3 {
		t.Fatalf("transaction counter = %d, want 3", got)
	}
	if err := tr.Apply(Command{Op: "rename", Path: "/b"}); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("Apply(unknown) = %v, want ErrUnknownOp", err)
	}
}

func TestTree_LoadReplacesState(t *testing.T) {
	tr := New()
	_ = tr.Write(ParsePath("/old"), NewContainer("old"))

	root := NewContainer("", NewContainer("new"))
	tr.Load(root, map[string]uint64{MetaNextTransactionID: 7})

	if _, ok := tr.Read(ParsePath("/old")); ok {
		t.Fatal("old subtree survived Load")
	}
	if _, ok := tr.Read(ParsePath("/new")); !ok {
		t.Fatal("new subtree missing after Load")
	}
	if tr.Metadata()[MetaNextTransactionID] != 7 {
		t.Fatal("metadata not loaded")
	}

	// Mutating the loaded node must not leak into the tree.
	root.Children = nil
	if _, ok := tr.Read(ParsePath("/new")); !ok {
		t.Fatal("Load did not copy the root")
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		root bool
	}{
		{"", "/", true},
		{"/", "/", true},
		{"/a/b", "/a/b", false},
		{"a//b/", "/a/b", false},
	}
	for _, tt := range tests {
		p := ParsePath(tt.in)
		if p.String() != tt.want || p.IsRoot() != tt.root {
			t.Errorf("ParsePath(%q) = %q root=%v, want %q root=%v", tt.in, p, p.IsRoot(), tt.want, tt.root)
		}
	}
}
