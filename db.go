// Package msgtree is a replicated, hierarchical message-tree database:
// peers elect a senior over multicast heartbeats, the senior applies
// client writes and replays them to juniors over a reliable stream, and
// every node in the tree carries a checksum a junior can verify itself
// against. Grounded on aspen's db.go/open.go for the top-level
// Open()/DB shape, generalized from a single gossiped KV store to the
// senior/junior tree replication scheme in internal/replication.
package msgtree

import (
	"context"

	"github.com/peertree/msgtree/internal/peer"
	"github.com/peertree/msgtree/internal/replication"
	"github.com/peertree/msgtree/internal/session"
	"github.com/peertree/msgtree/internal/transport"
	"github.com/peertree/msgtree/internal/tree"
	"github.com/peertree/msgtree/internal/wire"
	"github.com/peertree/msgtree/payload"
)

// DB is a handle to one attached peer.
type DB interface {
	// HostID returns this peer's own identity.
	HostID() wire.PeerID
	// IsSenior reports whether this peer is currently senior.
	IsSenior() bool
	// Set writes fields at path (client-facing, starting with a database's
	// root -- by default its index, e.g. "0/magnets/I0") on the senior,
	// replicating to every junior. A path ending in "/" asks the senior to allocate a fresh,
	// indexed child name.
	Set(ctx context.Context, path string, fields map[string][]byte, addToIndex bool) error
	// Get reads the payload at path from this peer's local copy.
	Get(path string) (fields map[string][]byte, ok bool)
	// Delete removes every node matching path (which may contain
	// wildcards) whose payload satisfies filterPattern ("" matches all).
	Delete(ctx context.Context, path, filterPattern string) error
	// Subscribe registers callback for every future change under pattern.
	Subscribe(pattern string, callback func(tree.Event)) uint64
	// Unsubscribe cancels a prior Subscribe.
	Unsubscribe(id uint64)
	// Undo reverts the most recently applied Set/Delete. Nodes a Delete
	// removed are not recreated.
	Undo(ctx context.Context) error
	// Redo re-applies the most recently undone change.
	Redo(ctx context.Context) error
	// Checksum returns databaseIndex's current subtree checksum.
	Checksum(databaseIndex int) uint32
	// Run blocks, driving replication until ctx is cancelled.
	Run(ctx context.Context) error
}

type db struct {
	id      wire.PeerID
	session *session.Session
	peer    *replication.Peer
}

// Open sets up a peer for systemName on the configured multicast group,
// listening for the reliable replication stream on streamAddr once Run is
// called. Peers sharing the multicast group replicate with each other
// whatever their systemName.
func Open(systemName, streamAddr string, opts ...Option) (DB, error) {
	o := newOptions(systemName, streamAddr, opts...)

	settings := peer.New(systemName, o.peerSettings...)
	id := peer.NewPeerID()
	var sess *session.Session
	if len(o.databaseRoots) > 0 {
		sess = session.NewWithRoots(o.databaseRoots)
	} else {
		sess = session.New(o.numDatabases)
	}

	mc, err := transport.NewUDPMulticast(settings.MulticastAddr)
	if err != nil {
		return nil, err
	}
	st := transport.NewTCPStream()

	p := replication.New(settings, id, streamAddr, sess, mc, st, o.logger)

	return &db{id: id, session: sess, peer: p}, nil
}

func (d *db) HostID() wire.PeerID { return d.id }
func (d *db) IsSenior() bool      { return d.peer.IsSenior() }

func (d *db) Run(ctx context.Context) error { return d.peer.Run(ctx) }

func (d *db) Set(ctx context.Context, path string, fields map[string][]byte, addToIndex bool) error {
	p := payload.New(fields)
	body, err := p.MarshalCBOR()
	if err != nil {
		return err
	}
	var flags wire.Flags
	if addToIndex {
		flags |= wire.FlagAddToIndex
	}
	return d.peer.ApplyClientRequest(ctx, wire.Submessage{
		Op:      wire.OpUpdateNodeValue,
		Path:    path,
		Payload: body,
		Flags:   flags,
	})
}

func (d *db) Get(path string) (map[string][]byte, bool) {
	n, ok := d.session.Store().GetNode(path)
	if !ok || n.Payload() == nil {
		return nil, false
	}
	fields := make(map[string][]byte)
	for _, k := range n.Payload().Keys() {
		v, _ := n.Payload().Get(k)
		fields[k] = v
	}
	return fields, true
}

func (d *db) Delete(ctx context.Context, path, filterPattern string) error {
	return d.peer.ApplyClientRequest(ctx, wire.Submessage{
		Op:            wire.OpRequestDeleteNodes,
		Path:          path,
		FilterPattern: filterPattern,
	})
}

func (d *db) Subscribe(pattern string, callback func(tree.Event)) uint64 {
	return d.session.Subscribe(pattern, callback)
}

func (d *db) Unsubscribe(id uint64) { d.session.Unsubscribe(id) }

func (d *db) Undo(ctx context.Context) error {
	return d.peer.Undo(ctx)
}

func (d *db) Redo(ctx context.Context) error {
	return d.peer.Redo(ctx)
}

func (d *db) Checksum(databaseIndex int) uint32 {
	dbs := d.session.Databases()
	if databaseIndex < 0 || databaseIndex >= len(dbs) {
		return 0
	}
	return dbs[databaseIndex].Checksum()
}
