package database

import (
	"fmt"
	"strings"

	"github.com/peertree/msgtree/internal/tree"
)

// ArchiveNode is one entry of a catch-up snapshot: a node's path relative
// to the database's root, its encoded payload, and its index order.
type ArchiveNode struct {
	Path    string   `cbor:"pth"`
	Payload []byte   `cbor:"pay,omitempty"`
	Index   []string `cbor:"idx,omitempty"`
}

// Archive is a full snapshot of one database's subtree, exchanged as the
// catch-up transfer a freshly attached junior requests instead of
// replaying the whole update history from scratch.
type Archive struct {
	Nodes []ArchiveNode `cbor:"nds"`
}

// SaveToArchive walks the whole subtree and captures every node's payload
// and index, in the order Store.Walk visits them (parents before
// children).
func (d *Database) SaveToArchive() Archive {
	var nodes []ArchiveNode
	d.store.Walk(d.rootPath, func(path string, n *tree.Node) bool {
		nodes = append(nodes, ArchiveNode{
			Path:    d.relative(path),
			Payload: encodePayload(n.Payload()),
			Index:   n.Index(),
		})
		return true
	})
	return Archive{Nodes: nodes}
}

// RestoreFromArchive discards whatever this database currently holds and
// replaces it with a's contents, then rebuilds the running checksum from
// scratch -- restoring bypasses the per-event bookkeeping assemble and
// ApplyReplicated do, so it must reconcile the running total itself
// instead of drifting from it.
func (d *Database) RestoreFromArchive(a Archive) {
	d.store.RemoveDataNodes(d.rootPath, nil, true)
	for _, n := range a.Nodes {
		d.store.SetDataNode(d.absolute(n.Path), decodePayload(n.Payload), tree.Flags{}, "")
	}
	for _, n := range a.Nodes {
		for i, key := range n.Index {
			d.store.InsertIndexEntryAt(d.absolute(n.Path), i, key)
		}
	}
	d.mu.Lock()
	d.currentChecksum = d.RecomputeChecksum()
	d.mu.Unlock()
}

// Dump renders the database's subtree as an indented tree of paths,
// payload field counts, and index order, for the operator CLI's `dump`
// subcommand. Grounded on original_source's DumpDescriptionToString.
func (d *Database) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "database %d (root %q, checksum %08x)\n", d.Index, d.rootPath, d.Checksum())
	d.store.Walk(d.rootPath, func(path string, n *tree.Node) bool {
		depth := 0
		if rel := d.relative(path); rel != "" {
			depth = strings.Count(rel, "/") + 1
		}
		fields := 0
		if p := n.Payload(); p != nil {
			fields = len(p.Keys())
		}
		fmt.Fprintf(&b, "%s%s (fields=%d, checksum=%08x)", strings.Repeat("  ", depth), displayName(n.Name()), fields, n.CalculateChecksum())
		if idx := n.Index(); len(idx) > 0 {
			fmt.Fprintf(&b, " index=%v", idx)
		}
		b.WriteByte('\n')
		return true
	})
	return b.String()
}

func displayName(name string) string {
	if name == "" {
		return "/"
	}
	return name
}
