package tree

import (
	"errors"
	gopath "path"

	"github.com/peertree/msgtree/payload"
	"github.com/peertree/msgtree/treepath"
)

// ErrNotFound is returned when an operation targets a node that does not
// exist. Database-layer code maps this onto errkind.DataNotFound.
var ErrNotFound = errors.New("tree: node not found")

// Flags controls the side effects of SetDataNode, mirroring
// SetDataNodeFlags from original_source.
type Flags struct {
	// AddToIndex places the affected leaf into its parent's index.
	AddToIndex bool
	// Quiet is threaded through unchanged into the resulting Event so a
	// caller can suppress subscriber dispatch while still running its own
	// checksum bookkeeping -- per spec.md section 4.1: "With QUIET,
	// subscriber dispatch is suppressed but checksum/state updates still
	// happen."
	Quiet bool
}

// Filter decides whether a candidate node, found at the given
// session-relative path, should be affected by a RemoveDataNodes or
// MoveIndexEntries call. A nil Filter matches everything.
type Filter func(path string, n *Node) bool

// Store is a tree of DataNodes rooted at an implicit, nameless root. All
// paths given to its methods are session-relative (the root itself is the
// empty path).
type Store struct {
	root *Node
}

// NewStore returns an empty Store.
func NewStore() *Store { return &Store{root: newNode("")} }

// GetNode looks up a node by its exact (non-wildcard) path.
func (s *Store) GetNode(path string) (*Node, bool) {
	n := s.root
	for _, seg := range treepath.Segments(path) {
		child, ok := n.children[seg]
		if !ok {
			return nil, false
		}
		n = child
	}
	return n, true
}

// ensurePath walks down from the root, creating any missing interior nodes
// (with no payload), and returns the node at path.
func (s *Store) ensurePath(path string) *Node {
	n := s.root
	for _, seg := range treepath.Segments(path) {
		child, ok := n.children[seg]
		if !ok {
			child = newNode(seg)
			n.children[seg] = child
		}
		n = child
	}
	return n
}

// matchPaths resolves a (possibly wildcard) path against the current tree,
// matching the pattern segment-by-segment, and returns the session-relative
// paths of every node that matches. A pattern with no wildcard segments
// resolves to at most one path.
func (s *Store) matchPaths(pattern string) []string {
	segs := treepath.Segments(pattern)
	if len(segs) == 0 {
		return []string{""}
	}
	var results []string
	var walk func(n *Node, path string, segIdx int)
	walk = func(n *Node, path string, segIdx int) {
		if segIdx == len(segs) {
			results = append(results, path)
			return
		}
		seg := segs[segIdx]
		if hasMeta(seg) {
			for name, child := range n.children {
				if ok, err := gopath.Match(seg, name); err == nil && ok {
					walk(child, treepath.Join(path, name), segIdx+1)
				}
			}
		} else if child, ok := n.children[seg]; ok {
			walk(child, treepath.Join(path, seg), segIdx+1)
		}
	}
	walk(s.root, "", 0)
	return results
}

// Match resolves a (possibly wildcard) path against the current tree and
// returns the session-relative paths of every existing node that matches,
// segment-by-segment. Used by callers that need to expand a wildcard
// write (OpUpdateSubtree) into one concrete SetDataNode call per match.
func (s *Store) Match(pattern string) []string { return s.matchPaths(pattern) }

func hasMeta(seg string) bool {
	for _, r := range seg {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// SetDataNode creates any missing interior nodes along path, then sets (or
// creates) the leaf's payload. If flags.AddToIndex is set, the leaf is
// additionally inserted into its parent's index, immediately before
// optInsertBefore if that sibling is currently indexed, or appended
// otherwise; re-indexing an already-indexed name moves it (emits a
// REMOVED event for its old position followed by an INSERTED event for
// its new one). path must already be a concrete, resolved path -- the
// "pick an unused ID" convention (a path ending in "/") is handled by the
// database/session layer before it ever reaches the Store.
func (s *Store) SetDataNode(path string, p *payload.Payload, flags Flags, optInsertBefore string) []Event {
	parentPath, name := treepath.Parent(path)
	parent := s.ensurePath(parentPath)

	child, existed := parent.children[name]
	var oldPayload *payload.Payload
	if existed {
		oldPayload = child.payload
		child.payload = p
	} else {
		child = newNode(name)
		child.payload = p
		parent.children[name] = child
	}

	events := []Event{{
		Kind:       EventNodeUpdated,
		Path:       path,
		Node:       child,
		OldPayload: oldPayload,
		Quiet:      flags.Quiet,
	}}

	if flags.AddToIndex {
		events = append(events, s.addToIndex(parent, parentPath, name, optInsertBefore, flags.Quiet)...)
	}

	return events
}

// addToIndex inserts name into parent's index immediately before
// optInsertBefore (or at the end if optInsertBefore is empty or not
// found), moving it there if it is already indexed.
func (s *Store) addToIndex(parent *Node, parentPath, name, optInsertBefore string, quiet bool) []Event {
	var events []Event

	if pos := parent.indexPos(name); pos >= 0 {
		parent.index = append(parent.index[:pos], parent.index[pos+1:]...)
		events = append(events, Event{Kind: EventIndexChanged, Path: parentPath, Op: IndexOpRemoved, Index: pos, Key: name, Quiet: quiet})
	}

	target := len(parent.index)
	if optInsertBefore != "" {
		if pos := parent.indexPos(optInsertBefore); pos >= 0 {
			target = pos
		}
	}

	tail := append([]string(nil), parent.index[target:]...)
	parent.index = append(append(parent.index[:target], name), tail...)
	events = append(events, Event{Kind: EventIndexChanged, Path: parentPath, Op: IndexOpInserted, Index: target, Key: name, Quiet: quiet})

	return events
}

// RemoveDataNodes recursively removes every node matching path (which may
// contain wildcards) and satisfying filter. Removing a node removes all of
// its descendants; only one Event is emitted per removed top-level match,
// with RemovedChecksum set to that node's full subtree checksum as it
// stood immediately before removal.
func (s *Store) RemoveDataNodes(path string, filter Filter, quiet bool) []Event {
	var events []Event
	for _, candidatePath := range s.matchPaths(path) {
		node, ok := s.GetNode(candidatePath)
		if !ok {
			continue
		}
		if filter != nil && !filter(candidatePath, node) {
			continue
		}
		checksum := node.CalculateChecksum()
		events = append(events, Event{
			Kind:            EventNodeUpdated,
			Path:            candidatePath,
			Node:            node,
			Removed:         true,
			RemovedChecksum: checksum,
			Quiet:           quiet,
		})
		s.unlink(candidatePath)
	}
	return events
}

// unlink detaches the node at path from its parent's children map and, if
// indexed, its parent's index.
func (s *Store) unlink(path string) {
	parentPath, name := treepath.Parent(path)
	parent, ok := s.GetNode(parentPath)
	if !ok {
		return
	}
	delete(parent.children, name)
	if pos := parent.indexPos(name); pos >= 0 {
		parent.index = append(parent.index[:pos], parent.index[pos+1:]...)
	}
}

// MoveIndexEntries reorders the subset of path's indexed children that
// satisfy filter, relocating them (as a contiguous, order-preserving
// block) to immediately before optBefore, or to the end if optBefore is
// empty or not currently indexed. Entries that do not satisfy filter are
// left in place.
func (s *Store) MoveIndexEntries(path string, optBefore string, filter Filter) ([]Event, error) {
	node, ok := s.GetNode(path)
	if !ok {
		return nil, ErrNotFound
	}

	var moving []string
	movingSet := make(map[string]bool)
	for _, key := range node.index {
		child, ok := node.children[key]
		if ok && (filter == nil || filter(treepath.Join(path, key), child)) {
			moving = append(moving, key)
			movingSet[key] = true
		}
	}
	if len(moving) == 0 {
		return nil, nil
	}

	var events []Event
	remaining := make([]string, 0, len(node.index))
	removed := 0
	for i, key := range node.index {
		if movingSet[key] {
			// position at the moment of removal, so the events replay in order
			events = append(events, Event{Kind: EventIndexChanged, Path: path, Op: IndexOpRemoved, Index: i - removed, Key: key})
			removed++
		} else {
			remaining = append(remaining, key)
		}
	}

	insertAt := len(remaining)
	if optBefore != "" {
		for i, key := range remaining {
			if key == optBefore {
				insertAt = i
				break
			}
		}
	}

	newIndex := make([]string, 0, len(remaining)+len(moving))
	newIndex = append(newIndex, remaining[:insertAt]...)
	newIndex = append(newIndex, moving...)
	newIndex = append(newIndex, remaining[insertAt:]...)
	node.index = newIndex

	for _, key := range moving {
		events = append(events, Event{Kind: EventIndexChanged, Path: path, Op: IndexOpInserted, Index: node.indexPos(key), Key: key})
	}

	return events, nil
}

// InsertIndexEntryAt inserts key into the node at path's index at the
// given position (clamped to the valid range), unconditionally. This is
// the positional primitive juniors replay from INSERT_INDEX_ENTRY
// messages; unlike addToIndex it never moves an existing entry out first.
func (s *Store) InsertIndexEntryAt(path string, index int, key string) (Event, error) {
	node, ok := s.GetNode(path)
	if !ok {
		return Event{}, ErrNotFound
	}
	if index < 0 {
		index = 0
	}
	if index > len(node.index) {
		index = len(node.index)
	}
	tail := append([]string(nil), node.index[index:]...)
	node.index = append(append(node.index[:index], key), tail...)
	return Event{Kind: EventIndexChanged, Path: path, Op: IndexOpInserted, Index: index, Key: key}, nil
}

// RemoveIndexEntryAt removes the index entry at the given position.
func (s *Store) RemoveIndexEntryAt(path string, index int) (Event, error) {
	node, ok := s.GetNode(path)
	if !ok {
		return Event{}, ErrNotFound
	}
	if index < 0 || index >= len(node.index) {
		return Event{}, ErrNotFound
	}
	key := node.index[index]
	node.index = append(node.index[:index], node.index[index+1:]...)
	return Event{Kind: EventIndexChanged, Path: path, Op: IndexOpRemoved, Index: index, Key: key}, nil
}

// ClearIndex empties the node at path's index in one call, resolving the
// INDEX_OP_CLEARED Open Question from spec.md section 9: rather than
// leaving the checksum delta unimplemented, this emits one IndexOpRemoved
// event per cleared key (in their prior index order) so the caller's
// ordinary checksum bookkeeping (-= key.checksum per removal) already
// produces the correct net delta -Σ key.checksum with no special case.
func (s *Store) ClearIndex(path string) ([]Event, error) {
	node, ok := s.GetNode(path)
	if !ok {
		return nil, ErrNotFound
	}
	events := make([]Event, 0, len(node.index))
	for _, key := range node.index {
		// each removal, replayed in order, takes the entry now at the front
		events = append(events, Event{Kind: EventIndexChanged, Path: path, Op: IndexOpRemoved, Index: 0, Key: key})
	}
	node.index = nil
	return events, nil
}

// Walk visits every node in the subtree rooted at path (path itself
// included), calling fn with each node's session-relative path. Traversal
// order is unspecified. Walk stops early if fn returns false.
func (s *Store) Walk(path string, fn func(path string, n *Node) bool) {
	root, ok := s.GetNode(path)
	if !ok {
		return
	}
	var walk func(path string, n *Node) bool
	walk = func(path string, n *Node) bool {
		if !fn(path, n) {
			return false
		}
		for name, child := range n.children {
			if !walk(treepath.Join(path, name), child) {
				return false
			}
		}
		return true
	}
	walk(path, root)
}
