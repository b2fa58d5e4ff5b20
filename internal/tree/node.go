// Package tree implements the hierarchical node store: a tree of DataNodes
// with indexed children, subtree checksums computed on demand, and a Walk
// that the database package's archive save builds on, per spec.md section
// 4.1. It has no notion of peers, databases, or
// replication -- those live in internal/database and internal/session,
// which drive this package through session-relative paths and translate
// its change events into the wire messages juniors replay.
package tree

import (
	"github.com/peertree/msgtree/payload"
)

// Node is one entry in the message tree. The zero value is not usable;
// construct nodes through a Store.
type Node struct {
	name     string
	payload  *payload.Payload
	children map[string]*Node
	index    []string // ordered subset of children, per spec.md's "index" field
}

func newNode(name string) *Node {
	return &Node{name: name, children: make(map[string]*Node)}
}

// Name returns the node's own path segment (empty for the root).
func (n *Node) Name() string { return n.name }

// Payload returns the node's payload, or nil if the node is a pure
// interior node with no value of its own.
func (n *Node) Payload() *payload.Payload { return n.payload }

// Child returns the named child, if any.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

// NumChildren returns the number of direct children.
func (n *Node) NumChildren() int { return len(n.children) }

// ChildNames returns the names of all direct children. Order is
// unspecified -- per spec.md section 4.1, "children enumeration order is
// unspecified; tests must not rely on it."
func (n *Node) ChildNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	return names
}

// Index returns a copy of the node's ordered index of child names.
func (n *Node) Index() []string {
	return append([]string(nil), n.index...)
}

// indexPos returns the position of key in the index, or -1.
func (n *Node) indexPos(key string) int {
	for i, k := range n.index {
		if k == key {
			return i
		}
	}
	return -1
}

// CalculateChecksum recomputes this node's subtree checksum from scratch:
// its own payload checksum, plus every child's subtree checksum, plus the
// checksum of every name that appears in this node's index. Per spec.md
// section 3, an indexed child therefore contributes twice -- once as a
// child, once as an index key -- matching original_source's
// MessageTreeDatabaseObject, which adds key.CalculateChecksum() on top of
// the child's own subtree checksum rather than instead of it.
func (n *Node) CalculateChecksum() uint32 {
	var sum uint32
	if n.payload != nil {
		sum += n.payload.Checksum()
	}
	for _, c := range n.children {
		sum += c.CalculateChecksum()
	}
	for _, key := range n.index {
		sum += payload.StringChecksum(key)
	}
	return sum
}
