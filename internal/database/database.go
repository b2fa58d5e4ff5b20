// Package database implements the per-database object that sits between a
// peer session and the shared node store: message dispatch, senior-side ID
// allocation and junior-batch assembly, and checksum/state bookkeeping.
// It is grounded on original_source's MessageTreeDatabaseObject, split
// into the pieces a single Go struct's methods can express directly.
package database

import (
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/peertree/msgtree/internal/errkind"
	"github.com/peertree/msgtree/internal/tree"
	"github.com/peertree/msgtree/internal/wire"
	"github.com/peertree/msgtree/payload"
	"github.com/peertree/msgtree/treepath"
)

// State is a database's position in the catch-up lifecycle.
type State int

const (
	// StateEmpty is a freshly attached junior database that has not yet
	// requested or received a catch-up archive.
	StateEmpty State = iota
	// StateBuilding is receiving a catch-up archive.
	StateBuilding
	// StateSteady is caught up and replicating normally.
	StateSteady
	// StateResetting is discarding its contents after a checksum mismatch,
	// on its way back to StateEmpty to request a fresh archive.
	StateResetting
)

// Database is one of a peer's N independent, identically-replicated
// subtrees, rooted at rootPath within a Store shared by every Database on
// the peer.
type Database struct {
	mu              sync.Mutex
	Index           int
	rootPath        string
	store           *tree.Store
	state           State
	nextID          map[string]int64
	currentChecksum uint32
}

// New returns a Database at the given index, scoped to rootPath within
// store.
func New(index int, rootPath string, store *tree.Store) *Database {
	return &Database{
		Index:    index,
		rootPath: rootPath,
		store:    store,
		nextID:   make(map[string]int64),
	}
}

// RootPath returns the session-relative path this database is scoped to.
func (d *Database) RootPath() string { return d.rootPath }

// State returns the database's current lifecycle state.
func (d *Database) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// BeginCatchUp transitions an empty database into StateBuilding, ahead of
// receiving a full archive.
func (d *Database) BeginCatchUp() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateBuilding
}

// FinishCatchUp transitions a building database into StateSteady.
func (d *Database) FinishCatchUp() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateSteady
}

// Reset wipes this database's subtree, passing through StateResetting,
// and returns to StateEmpty with a zero running checksum. (A detected
// checksum divergence is handled by the replication package's catch-up,
// which restores from an archive without calling Reset.)
func (d *Database) Reset() {
	d.mu.Lock()
	d.state = StateResetting
	d.mu.Unlock()
	d.store.RemoveDataNodes(d.rootPath, nil, true)
	d.mu.Lock()
	d.state = StateEmpty
	d.currentChecksum = 0
	d.mu.Unlock()
}

// Checksum returns this database's running checksum, maintained in O(1)
// per dispatched event by applyChecksumDelta -- spec.md section 4.2's
// getCurrentChecksum(). Use RecomputeChecksum for the O(subtree) value it
// must always agree with.
func (d *Database) Checksum() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentChecksum
}

// RecomputeChecksum recalculates this database's checksum from scratch by
// walking its whole subtree -- spec.md section 4.2's calculateChecksum(),
// the O(subtree) counterpart Checksum's running total is verified against.
func (d *Database) RecomputeChecksum() uint32 {
	n, ok := d.store.GetNode(d.rootPath)
	if !ok {
		return 0
	}
	return n.CalculateChecksum()
}

// applyChecksumDelta folds one tree.Event into the running checksum,
// following spec.md section 4.2's incremental maintenance rule: a removed
// node subtracts the subtree checksum it had just before unlinking: a
// node that already carried a payload subtracts the old one and adds the
// new (if any); any other node-updated event is a node receiving its first
// payload -- either brand new (so its payload is its whole subtree
// checksum) or an interior node created implicitly earlier, whose children
// are already counted -- so only the new payload's checksum is added. An
// index mutation adds or subtracts the checksum of the key it inserted or
// removed.
func (d *Database) applyChecksumDelta(ev tree.Event) {
	switch ev.Kind {
	case tree.EventNodeUpdated:
		switch {
		case ev.Removed:
			d.currentChecksum -= ev.RemovedChecksum
		case ev.OldPayload != nil:
			d.currentChecksum -= ev.OldPayload.Checksum()
			if p := ev.Node.Payload(); p != nil {
				d.currentChecksum += p.Checksum()
			}
		default:
			if p := ev.Node.Payload(); p != nil {
				d.currentChecksum += p.Checksum()
			}
		}
	case tree.EventIndexChanged:
		switch ev.Op {
		case tree.IndexOpInserted:
			d.currentChecksum += payload.StringChecksum(ev.Key)
		case tree.IndexOpRemoved:
			d.currentChecksum -= payload.StringChecksum(ev.Key)
		}
		// IndexOpCleared never reaches here: Store.ClearIndex already
		// expands a clear into one IndexOpRemoved per key, per spec.md
		// section 9's INDEX_OP_CLEARED Open Question.
	}
}

func (d *Database) absolute(relPath string) string { return treepath.Join(d.rootPath, relPath) }

func (d *Database) relative(absPath string) string {
	return treepath.Clause(treepath.Depth(d.rootPath), absPath)
}

// allocateID returns the next unused index-child name under parentRelPath,
// monotonically increasing per parent -- resolving spec.md's Open Question
// on getUnusedNodeID's contract in favor of a simple, predictable counter
// rather than smallest-unused-integer reuse.
func (d *Database) allocateID(parentRelPath string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.nextID[parentRelPath]
	d.nextID[parentRelPath] = n + 1
	return "I" + strconv.FormatInt(n, 10)
}

func decodePayload(b []byte) *payload.Payload {
	p := payload.Empty
	if len(b) > 0 {
		_ = p.UnmarshalCBOR(b)
	}
	return &p
}

func encodePayload(p *payload.Payload) []byte {
	if p == nil {
		return nil
	}
	b, _ := p.MarshalCBOR()
	return b
}

// ApplyRequest applies a client submessage as senior: it resolves any
// "pick an unused ID" path, mutates the shared store, dispatches the
// resulting local events to notify, and returns the batch of low-level
// primitives a junior must replay to reach the same state.
func (d *Database) ApplyRequest(sub wire.Submessage, notify func(tree.Event)) (wire.Batch, error) {
	switch sub.Op {
	case wire.OpNoop:
		return wire.Batch{}, nil

	case wire.OpUpdateNodeValue:
		path := sub.Path
		if treepath.HasWildcard(path) {
			return wire.Batch{}, errors.Mark(errors.New("database: UpdateNodeValue path must be concrete"), errkind.ErrBadArgument)
		}
		if len(path) > 0 && path[len(path)-1] == '/' {
			parent := treepath.TrimSlash(path)
			path = treepath.Join(parent, d.allocateID(parent))
		}
		flags := tree.Flags{
			AddToIndex: sub.Flags&wire.FlagAddToIndex != 0,
			Quiet:      sub.Flags&wire.FlagQuiet != 0,
		}
		before := ""
		if sub.Before != "" {
			before = sub.Before
		}
		events := d.store.SetDataNode(d.absolute(path), decodePayload(sub.Payload), flags, before)
		return d.assemble(events, notify), nil

	case wire.OpUpdateSubtree:
		var events []tree.Event
		for _, matchPath := range d.store.Match(d.absolute(sub.Path)) {
			events = append(events, d.store.SetDataNode(matchPath, decodePayload(sub.Payload), tree.Flags{}, "")...)
		}
		return d.assemble(events, notify), nil

	case wire.OpInsertIndexEntry:
		ev, err := d.store.InsertIndexEntryAt(d.absolute(sub.Path), sub.Index, sub.Key)
		if err != nil {
			return wire.Batch{}, errors.Mark(err, errkind.ErrDataNotFound)
		}
		return d.assemble([]tree.Event{ev}, notify), nil

	case wire.OpRemoveIndexEntry:
		ev, err := d.store.RemoveIndexEntryAt(d.absolute(sub.Path), sub.Index)
		if err != nil {
			return wire.Batch{}, errors.Mark(err, errkind.ErrDataNotFound)
		}
		return d.assemble([]tree.Event{ev}, notify), nil

	case wire.OpMoveIndexEntry:
		events, err := d.store.MoveIndexEntries(d.absolute(sub.Path), sub.Before, compileFilter(sub.FilterPattern))
		if err != nil {
			return wire.Batch{}, errors.Mark(err, errkind.ErrDataNotFound)
		}
		return d.assemble(events, notify), nil

	case wire.OpRequestDeleteNodes:
		events := d.store.RemoveDataNodes(d.absolute(sub.Path), compileFilter(sub.FilterPattern), sub.Flags&wire.FlagQuiet != 0)
		return d.assemble(events, notify), nil

	case wire.OpClearIndex:
		events, err := d.store.ClearIndex(d.absolute(sub.Path))
		if err != nil {
			return wire.Batch{}, errors.Mark(err, errkind.ErrDataNotFound)
		}
		return d.assemble(events, notify), nil

	default:
		return wire.Batch{}, errors.Mark(errors.Newf("database: unsupported op %v", sub.Op), errkind.ErrUnimplemented)
	}
}

// assemble converts a slice of local tree.Event into the low-level
// Submessages a junior must replay, and dispatches each event to notify
// unless it is marked Quiet -- mirroring spec.md section 4.1's "With
// QUIET, subscriber dispatch is suppressed but checksum/state updates
// still happen" (every event, quiet or not, is folded into the running
// checksum first; only the notify callback is gated by Quiet).
func (d *Database) assemble(events []tree.Event, notify func(tree.Event)) wire.Batch {
	d.mu.Lock()
	for _, ev := range events {
		d.applyChecksumDelta(ev)
	}
	d.mu.Unlock()

	batch := wire.Batch{Submessages: make([]wire.Submessage, 0, len(events))}
	for _, ev := range events {
		if notify != nil && !ev.Quiet {
			notify(ev)
		}
		switch ev.Kind {
		case tree.EventNodeUpdated:
			if ev.Removed {
				batch.Submessages = append(batch.Submessages, wire.Submessage{
					Op:   wire.OpRequestDeleteNodes,
					Path: d.relative(ev.Path),
				})
			} else {
				batch.Submessages = append(batch.Submessages, wire.Submessage{
					Op:      wire.OpUpdateNodeValue,
					Path:    d.relative(ev.Path),
					Payload: encodePayload(ev.Node.Payload()),
				})
			}
		case tree.EventIndexChanged:
			op := wire.OpInsertIndexEntry
			if ev.Op == tree.IndexOpRemoved {
				op = wire.OpRemoveIndexEntry
			}
			batch.Submessages = append(batch.Submessages, wire.Submessage{
				Op:    op,
				Path:  d.relative(ev.Path),
				Index: ev.Index,
				Key:   ev.Key,
			})
		}
	}
	return batch
}

// ApplyReplicated replays a batch assembled by the senior, in order,
// against this database's portion of the shared store, dispatching each
// resulting event to notify.
func (d *Database) ApplyReplicated(batch wire.Batch, notify func(tree.Event)) error {
	for _, sub := range batch.Submessages {
		var events []tree.Event
		switch sub.Op {
		case wire.OpUpdateNodeValue:
			events = d.store.SetDataNode(d.absolute(sub.Path), decodePayload(sub.Payload), tree.Flags{}, "")
		case wire.OpRequestDeleteNodes:
			events = d.store.RemoveDataNodes(d.absolute(sub.Path), nil, false)
		case wire.OpInsertIndexEntry:
			ev, err := d.store.InsertIndexEntryAt(d.absolute(sub.Path), sub.Index, sub.Key)
			if err != nil {
				return errors.Mark(err, errkind.ErrDiverged)
			}
			events = []tree.Event{ev}
		case wire.OpRemoveIndexEntry:
			ev, err := d.store.RemoveIndexEntryAt(d.absolute(sub.Path), sub.Index)
			if err != nil {
				return errors.Mark(err, errkind.ErrDiverged)
			}
			events = []tree.Event{ev}
		default:
			return errors.Mark(errors.Newf("database: junior cannot replay op %v", sub.Op), errkind.ErrUnimplemented)
		}
		d.mu.Lock()
		for _, ev := range events {
			d.applyChecksumDelta(ev)
		}
		d.mu.Unlock()
		for _, ev := range events {
			if notify != nil {
				notify(ev)
			}
		}
	}
	return nil
}
