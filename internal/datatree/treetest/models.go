// Package treetest provides small tree models for tests.
package treetest

import (
	"strconv"

	"github.com/yndnr/meshstore/internal/datatree"
)

// Model paths.
var (
	CarsPath   = datatree.ParsePath("/cars")
	PeoplePath = datatree.ParsePath("/people")
	TestPath   = datatree.ParsePath("/test")
)

// CarEntry returns a car list entry keyed by name.
func CarEntry(name string, price int64) *datatree.Node {
	return datatree.NewContainer(name,
		datatree.NewLeaf("name", []byte(name)),
		datatree.NewLeaf("price", []byte(strconv.FormatInt(price, 10))),
	)
}

// CarsNode returns the cars container holding a car list with entries.
func CarsNode(entries ...*datatree.Node) *datatree.Node {
	return datatree.NewContainer("cars", datatree.NewContainer("car", entries...))
}

// PeopleEmptyContainer returns the people container with no children.
func PeopleEmptyContainer() *datatree.Node {
	return datatree.NewContainer("people")
}

// TestContainer returns the empty test container.
func TestContainer() *datatree.Node {
	return datatree.NewContainer("test")
}

// RootWith writes node at path into a fresh tree and returns the root.
func RootWith(path datatree.Path, node *datatree.Node) *datatree.Node {
	t := datatree.New()
	if err := t.Write(path, node); err != nil {
		panic(err)
	}
	return t.Root()
}
