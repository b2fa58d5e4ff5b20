// Package session implements a peer's command routing across its N
// databases: resolving which Database a client-facing path belongs to,
// dispatching subscriber notifications, and a minimal undo/redo stack.
// Grounded on original_source's MessageTreeDatabasePeerSession, with the
// callback-driven TreeSubscriber pattern replaced by an explicit
// []tree.Event return value threaded through database.Database.
package session

import (
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/peertree/msgtree/internal/database"
	"github.com/peertree/msgtree/internal/errkind"
	"github.com/peertree/msgtree/internal/tree"
	"github.com/peertree/msgtree/internal/wire"
	"github.com/peertree/msgtree/treepath"
)

// Subscription is a standing interest in every event under Pattern.
type Subscription struct {
	ID       uint64
	Pattern  string
	Callback func(tree.Event)
}

// Session owns the store shared by every Database, routes client requests
// to the first database whose root path the request path falls under (with
// New's decimal roots, the leading segment, e.g. "0/magnets/I0"), and fans
// out notifications to subscribers.
type Session struct {
	mu            sync.Mutex
	store         *tree.Store
	databases     []*database.Database
	subscriptions []Subscription
	nextSubID     uint64
	undo          []undoEntry
	redo          []undoEntry
}

type undoEntry struct {
	dbIndex int
	inverse []wire.Submessage // applied in this order to invert the original request
}

// New creates a Session with numDatabases databases, rooted at the decimal
// paths "0".."N-1".
func New(numDatabases int) *Session {
	roots := make([]string, numDatabases)
	for i := range roots {
		roots[i] = strconv.Itoa(i)
	}
	return NewWithRoots(roots)
}

// NewWithRoots creates a Session with one database per entry of roots,
// rooted wherever the caller names -- e.g. "dbs/db_0", not just a decimal
// index -- letting a session's databases occupy arbitrary, possibly
// multi-segment subtrees of the shared namespace per spec.md section 4.3.
func NewWithRoots(roots []string) *Session {
	store := tree.NewStore()
	s := &Session{store: store}
	for i, root := range roots {
		s.databases = append(s.databases, database.New(i, root, store))
	}
	return s
}

// Store returns the shared node store, e.g. for reading a node's payload
// directly from this peer's local copy.
func (s *Session) Store() *tree.Store { return s.store }

// Databases returns every database this session owns, in index order.
func (s *Session) Databases() []*database.Database { return s.databases }

// resolve routes path to the database it targets and the path relative to
// that database's root, per spec.md section 4.3: "calling
// getDatabaseSubpath on each database in order and delivering to the first
// non-negative match". path may be absolute (carrying the session
// prefix) or already session-relative.
func (s *Session) resolve(path string) (*database.Database, string, error) {
	for _, db := range s.databases {
		if depth, rel := treepath.Subpath(db.RootPath(), path); depth >= 0 {
			return db, rel, nil
		}
	}
	return nil, "", errors.Mark(errors.Newf("session: no database matches %q", path), errkind.ErrBadArgument)
}

// Apply routes a client submessage (with an absolute, session-wide path)
// to its database, applies it as senior, dispatches local subscriber
// notifications, pushes an inverse onto the undo stack, and returns the
// replication envelope to broadcast to juniors. NOREPLY suppresses only
// this dispatch -- the local notification of the peer that processed the
// request -- never the batch a junior replays, so other peers' own
// subscribers still see the change.
func (s *Session) Apply(sub wire.Submessage) (wire.Envelope, error) {
	db, rest, err := s.resolve(sub.Path)
	if err != nil {
		return wire.Envelope{}, err
	}
	localSub := sub
	localSub.Path = rest
	noReply := sub.Flags&wire.FlagNoReply != 0

	var applied []tree.Event
	batch, err := db.ApplyRequest(localSub, func(ev tree.Event) {
		applied = append(applied, ev)
		if !noReply {
			s.dispatch(ev)
		}
	})
	if err != nil {
		return wire.Envelope{}, err
	}

	s.mu.Lock()
	s.undo = append(s.undo, undoEntry{dbIndex: db.Index, inverse: inverseOf(applied)})
	s.redo = nil
	s.mu.Unlock()

	return wire.Envelope{DatabaseIndex: db.Index, Batch: batch}, nil
}

// ApplyReplicated replays a senior's envelope as a junior.
func (s *Session) ApplyReplicated(env wire.Envelope) error {
	if env.DatabaseIndex < 0 || env.DatabaseIndex >= len(s.databases) {
		return errors.Mark(errors.Newf("session: no database %d", env.DatabaseIndex), errkind.ErrBadArgument)
	}
	return s.databases[env.DatabaseIndex].ApplyReplicated(env.Batch, s.dispatch)
}

// Subscribe registers callback for every future event whose path falls
// under pattern (pattern's segments must glob-match the event path's
// leading segments).
func (s *Session) Subscribe(pattern string, callback func(tree.Event)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	s.subscriptions = append(s.subscriptions, Subscription{ID: s.nextSubID, Pattern: pattern, Callback: callback})
	return s.nextSubID
}

// Unsubscribe removes a previously registered subscription.
func (s *Session) Unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscriptions {
		if sub.ID == id {
			s.subscriptions = append(s.subscriptions[:i], s.subscriptions[i+1:]...)
			return
		}
	}
}

func (s *Session) dispatch(ev tree.Event) {
	s.mu.Lock()
	subs := append([]Subscription(nil), s.subscriptions...)
	s.mu.Unlock()
	for _, sub := range subs {
		if treepath.MatchPrefix(sub.Pattern, ev.Path) {
			sub.Callback(ev)
		}
	}
}

// inverseOf builds the submessages that would undo the given events, in
// the reverse order they must be applied to correctly invert a compound
// batch. Node removals are not invertible here (recreating a deleted
// subtree would need the full archived snapshot, not just the top-level
// removal event) and are simply skipped -- Undo on a request that deleted
// nodes will restore everything else about it but not the deleted nodes.
func inverseOf(events []tree.Event) []wire.Submessage {
	var inverse []wire.Submessage
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		switch ev.Kind {
		case tree.EventNodeUpdated:
			if ev.Removed {
				continue
			}
			if ev.OldPayload == nil {
				inverse = append(inverse, wire.Submessage{Op: wire.OpRequestDeleteNodes, Path: ev.Path})
			} else {
				b, _ := ev.OldPayload.MarshalCBOR()
				inverse = append(inverse, wire.Submessage{Op: wire.OpUpdateNodeValue, Path: ev.Path, Payload: b})
			}
		case tree.EventIndexChanged:
			if ev.Op == tree.IndexOpInserted {
				inverse = append(inverse, wire.Submessage{Op: wire.OpRemoveIndexEntry, Path: ev.Path, Index: ev.Index})
			} else {
				inverse = append(inverse, wire.Submessage{Op: wire.OpInsertIndexEntry, Path: ev.Path, Index: ev.Index, Key: ev.Key})
			}
		}
	}
	return inverse
}

// Undo re-applies the inverse of the most recently applied request,
// pushing its own inverse onto the redo stack so a following Redo can
// restore it.
func (s *Session) Undo() (wire.Envelope, error) {
	s.mu.Lock()
	if len(s.undo) == 0 {
		s.mu.Unlock()
		return wire.Envelope{}, errors.Mark(errors.New("session: nothing to undo"), errkind.ErrBadArgument)
	}
	entry := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.mu.Unlock()
	return s.replayInverse(entry, &s.redo)
}

// Redo re-applies the inverse of the most recently undone request,
// pushing its own inverse back onto the undo stack so it behaves like an
// ordinary applied request -- a second Undo after a Redo reverts the
// redone change, not the one before it.
func (s *Session) Redo() (wire.Envelope, error) {
	s.mu.Lock()
	if len(s.redo) == 0 {
		s.mu.Unlock()
		return wire.Envelope{}, errors.Mark(errors.New("session: nothing to redo"), errkind.ErrBadArgument)
	}
	entry := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.mu.Unlock()
	return s.replayInverse(entry, &s.undo)
}

// replayInverse applies entry's inverse submessages and pushes the
// resulting inverse-of-the-inverse onto pushTo -- the redo stack when
// called from Undo, the undo stack when called from Redo.
func (s *Session) replayInverse(entry undoEntry, pushTo *[]undoEntry) (wire.Envelope, error) {
	db := s.databases[entry.dbIndex]
	var applied []tree.Event
	full := wire.Batch{}
	for _, sub := range entry.inverse {
		// inverse paths are store paths (as carried by tree.Event);
		// ApplyRequest expects them relative to the database's root.
		sub.Path = treepath.Clause(treepath.Depth(db.RootPath()), sub.Path)
		b, err := db.ApplyRequest(sub, func(ev tree.Event) {
			applied = append(applied, ev)
			s.dispatch(ev)
		})
		if err != nil {
			return wire.Envelope{}, err
		}
		full.Submessages = append(full.Submessages, b.Submessages...)
	}

	s.mu.Lock()
	*pushTo = append(*pushTo, undoEntry{dbIndex: entry.dbIndex, inverse: inverseOf(applied)})
	s.mu.Unlock()

	return wire.Envelope{DatabaseIndex: db.Index, Batch: full}, nil
}
