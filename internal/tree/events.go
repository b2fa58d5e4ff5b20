package tree

import "github.com/peertree/msgtree/payload"

// IndexOp identifies which kind of index mutation an Event describes.
type IndexOp int

const (
	// IndexOpInserted matches the original's INDEX_OP_ENTRYINSERTED.
	IndexOpInserted IndexOp = iota
	// IndexOpRemoved matches the original's INDEX_OP_ENTRYREMOVED.
	IndexOpRemoved
	// IndexOpCleared signals a bulk index wipe. The original leaves its
	// checksum delta unimplemented (spec.md's Open Questions); this
	// package always emits one IndexOpRemoved event per cleared key
	// instead of a single IndexOpCleared event, so callers never have to
	// special-case it -- see Store.ClearIndex.
	IndexOpCleared
)

// EventKind distinguishes the two notification shapes a Store mutation can
// produce, mirroring the two TreeSubscriber capabilities from spec.md
// section 9: onNodeUpdated and onNodeIndexChanged.
type EventKind int

const (
	EventNodeUpdated EventKind = iota
	EventIndexChanged
)

// Event is a single change notification produced by a Store mutation, in
// the exact chronological order the mutation produced it. The Database
// that made the call folds each event into its checksum, relativizes Path
// for the junior batch it assembles, and hands the event, Path unchanged,
// to the session's subscribers -- the tree package itself has no notion of
// databases.
type Event struct {
	Kind EventKind
	// Path is the session-relative path of the node (for EventNodeUpdated)
	// or of the node whose index changed (for EventIndexChanged).
	Path string
	Quiet bool

	// EventNodeUpdated fields.
	Node       *Node
	OldPayload *payload.Payload
	Removed    bool
	// RemovedChecksum is the subtree checksum the node had immediately
	// before it was unlinked, captured before removal per spec.md section
	// 4.2's checksum-maintenance rule ("checksum -= node.subtreeChecksum").
	// Only meaningful when Removed is true.
	RemovedChecksum uint32

	// EventIndexChanged fields.
	Op    IndexOp
	Index int
	Key   string
}
