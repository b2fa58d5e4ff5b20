// Package replication drives a peer's membership view and senior/junior
// update flow: heartbeat and beacon emission and reception, senior
// election, pushing assembled batches to juniors over a reliable stream,
// catch-up on sequence gaps, and periodic checksum verification.
// Grounded on original_source's peer attach/election state machine and on
// aspen's gossip.Gossip and member.Member for the ticker-loop,
// zap-logged shape of a background replication actor.
package replication

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/peertree/msgtree/internal/database"
	"github.com/peertree/msgtree/internal/errkind"
	"github.com/peertree/msgtree/internal/peer"
	"github.com/peertree/msgtree/internal/session"
	"github.com/peertree/msgtree/internal/transport"
	"github.com/peertree/msgtree/internal/wire"
	"github.com/peertree/msgtree/payload"

	"github.com/cockroachdb/errors"
)

// Peer drives one process's replication state. It owns no data itself --
// reads and writes go through the embedded Session -- but it is the
// thing that decides whether this process is senior, and who to push to
// or catch up from.
type Peer struct {
	Settings  peer.Settings
	ID        wire.PeerID
	StreamAddr string
	Session   *session.Session
	Multicast transport.Multicast
	Stream    transport.Stream
	Logger    *zap.Logger

	mu               sync.Mutex
	phase            peer.Phase
	beat             wire.Beat
	missedHeartbeats int
	members          map[wire.PeerID]wire.PeerState
	seniorID         wire.PeerID
	lastBeacon       time.Time
	beaconSeq        uint64
	seqOut           map[int]uint64 // senior-side next outgoing sequence, by database index
	seqIn            map[int]uint64 // junior-side last applied sequence, by database index
	conns            map[wire.PeerID]transport.PeerConn
}

// New returns a Peer ready for Run. logger may be nil, in which case a
// no-op logger is used.
func New(settings peer.Settings, id wire.PeerID, streamAddr string, sess *session.Session, mc transport.Multicast, st transport.Stream, logger *zap.Logger) *Peer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Peer{
		Settings:   settings,
		ID:         id,
		StreamAddr: streamAddr,
		Session:    sess,
		Multicast:  mc,
		Stream:     st,
		Logger:     logger,
		phase:      peer.PhaseStartup,
		members:    make(map[wire.PeerID]wire.PeerState),
		seqOut:     make(map[int]uint64),
		seqIn:      make(map[int]uint64),
		conns:      make(map[wire.PeerID]transport.PeerConn),
	}
}

// Phase returns the peer's current lifecycle phase.
func (p *Peer) Phase() peer.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// PeerCounts reports how many known peers (including self) are FULL versus
// JUNIOR_ONLY, for discovery.Advertiser's advertisement.
func (p *Peer) PeerCounts() (full, junior int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.members {
		if st.Type == wire.PeerFull {
			full++
		} else {
			junior++
		}
	}
	return full, junior
}

// IsSenior reports whether this peer currently believes itself senior.
func (p *Peer) IsSenior() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seniorID == p.ID
}

// Run blocks, driving heartbeat/beacon emission, membership tracking, and
// the stream listener, until ctx is cancelled.
func (p *Peer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(4)

	go func() { defer wg.Done(); p.heartbeatLoop(ctx) }()
	go func() { defer wg.Done(); p.receiveLoop(ctx) }()
	go func() { defer wg.Done(); p.checksumLoop(ctx) }()
	go func() {
		defer wg.Done()
		if err := p.Stream.Serve(ctx, p.StreamAddr, p); err != nil && ctx.Err() == nil {
			p.Logger.Error("stream listener stopped", zap.Error(err))
		}
	}()

	wg.Wait()
	return ctx.Err()
}

func (p *Peer) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(p.Settings.HeartbeatInterval())
	defer ticker.Stop()
	beaconTicker := time.NewTicker(p.Settings.BeaconInterval())
	defer beaconTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sendHeartbeat()
			p.checkLiveness()
		case <-beaconTicker.C:
			if p.IsSenior() {
				p.sendBeacon()
			}
		}
	}
}

// sendBeacon emits the senior's per-database cursor (and, every
// checksumEveryKBeacons ticks, a checksum) -- spec.md section 4.4's
// beacon, the lighter-weight companion to the full per-write Envelope
// sequence a junior otherwise only learns about by receiving one.
func (p *Peer) sendBeacon() {
	dbs := p.Session.Databases()

	p.mu.Lock()
	p.beaconSeq++
	includeChecksum := p.beaconSeq%uint64(p.checksumEveryKBeaconsLocked()) == 0
	perDB := make([]wire.BeaconDB, 0, len(dbs))
	for _, db := range dbs {
		entry := wire.BeaconDB{DBIndex: db.Index, LastSeq: p.seqOut[db.Index]}
		perDB = append(perDB, entry)
	}
	id := p.ID
	p.mu.Unlock()

	if includeChecksum {
		for i := range perDB {
			sum := dbs[i].Checksum()
			perDB[i].Checksum = &sum
		}
	}

	_ = p.Multicast.SendBeacon(wire.Beacon{Senior: id, PerDB: perDB})
}

// checksumEveryKBeaconsLocked returns how many beacon ticks pass between
// ones that carry a checksum, defaulting to BeaconsPerSecond (once a
// second) per spec.md section 4.4. Must be called with mu held.
func (p *Peer) checksumEveryKBeaconsLocked() uint64 {
	k := p.Settings.ChecksumEveryKBeacons
	if k <= 0 {
		k = p.Settings.BeaconsPerSecond
	}
	if k <= 0 {
		k = 1
	}
	return uint64(k)
}

func (p *Peer) sendHeartbeat() {
	attrs, err := wire.CompressAttributes(p.Settings.Attributes)
	if err != nil {
		p.Logger.Warn("could not compress attributes", zap.Error(err))
	}

	p.mu.Lock()
	p.beat.Version++
	self := wire.PeerState{
		ID:         p.ID,
		Type:       p.Settings.Type,
		Attached:   p.phase == peer.PhaseAttached,
		Beat:       p.beat,
		StreamAddr: p.StreamAddr,
		Attrs:      attrs,
	}
	p.members[p.ID] = self
	peers := make([]wire.PeerState, 0, len(p.members))
	for _, st := range p.members {
		peers = append(peers, st)
	}
	senior := p.seniorID
	p.mu.Unlock()

	_ = p.Multicast.SendHeartbeat(wire.Heartbeat{Sender: p.ID, BelievedSenior: senior, Peers: peers})
}

// checkLiveness advances startup->attached once enough heartbeats have
// been sent in the current generation, and attached->offline once too many
// have been missed, per original_source's heartbeatsBeforeFullyAttached /
// maxMissingHeartbeats. It does not touch phase while offline -- recovery
// out of offline happens in onHeartbeat, triggered by actually hearing from
// the group again rather than by a timer.
func (p *Peer) checkLiveness() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.phase {
	case peer.PhaseStartup:
		if p.beat.Version >= uint64(p.Settings.HeartbeatsBeforeFullyAttached) {
			p.phase = peer.PhaseAttached
		}
	case peer.PhaseAttached:
		p.missedHeartbeats++
		if p.missedHeartbeats > p.Settings.MaxMissingHeartbeats {
			p.phase = peer.PhaseOffline
			p.Logger.Warn("lost contact with group", zap.Int("missed", p.missedHeartbeats))
		}
	}
}

// checksumLoop drives spec.md section 6's periodic checksum verification:
// every ChecksumVerifyInterval, a junior compares each of its databases'
// checksums against the senior's and catches up any that diverged.
func (p *Peer) checksumLoop(ctx context.Context) {
	interval := p.Settings.ChecksumVerifyInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.VerifyChecksums(ctx)
		}
	}
}

func (p *Peer) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case hb := <-p.Multicast.Heartbeats():
			p.onHeartbeat(hb)
		case b := <-p.Multicast.Beacons():
			p.onBeacon(ctx, b)
		}
	}
}

func (p *Peer) onHeartbeat(hb wire.Heartbeat) {
	p.mu.Lock()
	p.missedHeartbeats = 0
	if p.phase == peer.PhaseOffline {
		p.phase = peer.PhaseStartup
		p.beat.Generation++
		p.beat.Version = 0
		p.Logger.Info("hearing the group again, rejoining", zap.Uint64("generation", p.beat.Generation))
	}
	for _, st := range hb.Peers {
		existing, ok := p.members[st.ID]
		if !ok || existing.Beat.YoungerThan(st.Beat) {
			p.members[st.ID] = st
		}
	}
	wasSenior := p.seniorID == p.ID
	p.electSeniorLocked()
	nowSenior := p.seniorID == p.ID
	p.mu.Unlock()

	if wasSenior && !nowSenior {
		p.Logger.Info("stepping down as senior")
	} else if !wasSenior && nowSenior {
		p.Logger.Info("elected senior")
	}
}

// onBeacon reconciles the senior's per-database cursor against this
// peer's own, requesting catch-up on whichever database the senior has
// moved past us on, or whose checksum disagrees with ours -- the gap
// detection and divergence handling spec.md section 4.4's beacon exists
// for, a no-op for the senior's own beacon.
func (p *Peer) onBeacon(ctx context.Context, b wire.Beacon) {
	p.mu.Lock()
	p.lastBeacon = time.Now()
	amSenior := p.seniorID == p.ID
	seqIn := make(map[int]uint64, len(p.seqIn))
	for dbIndex, seq := range p.seqIn {
		seqIn[dbIndex] = seq
	}
	p.mu.Unlock()

	if amSenior {
		return
	}

	dbs := p.Session.Databases()
	for _, entry := range b.PerDB {
		diverged := entry.LastSeq > seqIn[entry.DBIndex]
		if !diverged && entry.Checksum != nil && entry.DBIndex >= 0 && entry.DBIndex < len(dbs) {
			diverged = dbs[entry.DBIndex].Checksum() != *entry.Checksum
		}
		if !diverged {
			continue
		}
		entry := entry
		p.Logger.Warn("beacon detected a gap or checksum mismatch, catching up",
			zap.Int("database", entry.DBIndex), zap.Uint64("beaconSeq", entry.LastSeq), zap.Uint64("ourSeq", seqIn[entry.DBIndex]))
		go func() {
			if err := p.catchUp(ctx, entry.DBIndex, b.Senior); err != nil {
				p.Logger.Warn("beacon-triggered catch-up failed", zap.Int("database", entry.DBIndex), zap.Error(err))
			}
		}()
	}
}

// Attributes returns the decompressed attributes peer id last gossiped,
// if any are known and decode cleanly.
func (p *Peer) Attributes(id wire.PeerID) (*payload.Payload, bool) {
	p.mu.Lock()
	st, ok := p.members[id]
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	attrs, err := wire.DecompressAttributes(st.Attrs)
	if err != nil || attrs == nil {
		return nil, false
	}
	return attrs, true
}

// electSeniorLocked picks the lowest PeerID among attached FULL peers
// (including self), per spec.md section 6. Must be called with mu held.
func (p *Peer) electSeniorLocked() {
	best := p.ID
	haveSelf := p.phase == peer.PhaseAttached && p.Settings.Type == wire.PeerFull
	if !haveSelf {
		best = wire.PeerID{}
	}
	for id, st := range p.members {
		if st.Type != wire.PeerFull || !st.Attached {
			continue
		}
		if best.IsZero() || id.Less(best) {
			best = id
		}
	}
	p.seniorID = best
}

// ApplyClientRequest is the senior-side entry point for a client-issued
// submessage: it applies it against the local session, assigns the next
// sequence number for the affected database, and pushes the resulting
// envelope to every known junior.
func (p *Peer) ApplyClientRequest(ctx context.Context, sub wire.Submessage) error {
	if !p.IsSenior() {
		return errors.Mark(errors.New("replication: only the senior accepts client requests"), errkind.ErrBadArgument)
	}

	var env wire.Envelope
	var err error
	switch sub.Op {
	case wire.OpRequestUndo:
		env, err = p.Session.Undo()
	case wire.OpRequestRedo:
		env, err = p.Session.Redo()
	default:
		env, err = p.Session.Apply(sub)
	}
	if err != nil {
		return err
	}
	return p.pushEnvelope(ctx, env)
}

// Undo is the senior-side entry point for reverting the most recently
// applied client request, expressed as the OpRequestUndo wire opcode so
// it travels the same dispatch path (sequencing, junior fanout) as every
// other client request rather than having its own.
func (p *Peer) Undo(ctx context.Context) error {
	return p.ApplyClientRequest(ctx, wire.Submessage{Op: wire.OpRequestUndo})
}

// Redo is the senior-side entry point for re-applying the most recently
// undone request; see Undo.
func (p *Peer) Redo(ctx context.Context) error {
	return p.ApplyClientRequest(ctx, wire.Submessage{Op: wire.OpRequestRedo})
}

// pushEnvelope assigns the next sequence number for env's database and
// fans it out to every attached junior concurrently, per
// internal/member/responsible.go's errgroup-based propose pattern. A
// junior that can't be reached is logged and skipped rather than failing
// the whole push -- it will catch up when the next beacon shows it behind,
// or on the next periodic checksum verification.
func (p *Peer) pushEnvelope(ctx context.Context, env wire.Envelope) error {
	p.mu.Lock()
	p.seqOut[env.DatabaseIndex]++
	env.Sequence = p.seqOut[env.DatabaseIndex]
	juniors := make([]wire.PeerState, 0, len(p.members))
	for id, st := range p.members {
		if id != p.ID && st.Attached {
			juniors = append(juniors, st)
		}
	}
	p.mu.Unlock()

	wg := errgroup.Group{}
	for _, junior := range juniors {
		junior := junior
		wg.Go(func() error {
			conn, err := p.connTo(ctx, junior)
			if err != nil {
				p.Logger.Warn("could not reach junior", zap.String("peer", junior.ID.String()), zap.Error(err))
				return nil
			}
			if err := conn.SendEnvelope(ctx, env); err != nil {
				p.Logger.Warn("send envelope failed", zap.String("peer", junior.ID.String()), zap.Error(err))
			}
			return nil
		})
	}
	_ = wg.Wait()
	return nil
}

func (p *Peer) connTo(ctx context.Context, st wire.PeerState) (transport.PeerConn, error) {
	p.mu.Lock()
	conn, ok := p.conns[st.ID]
	p.mu.Unlock()
	if ok {
		return conn, nil
	}
	conn, err := p.Stream.Dial(ctx, st.StreamAddr)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.conns[st.ID] = conn
	p.mu.Unlock()
	return conn, nil
}

// HandleEnvelope implements transport.Handler, the junior-side entry point
// for a senior's pushed batch. A sequence gap triggers a full catch-up of
// that one database rather than trying to request just the missing
// batches, on the assumption that gaps are rare and catch-up is cheap
// relative to the complexity of a partial-replay protocol.
func (p *Peer) HandleEnvelope(env wire.Envelope) error {
	p.mu.Lock()
	expected := p.seqIn[env.DatabaseIndex] + 1
	seniorID := p.seniorID
	p.mu.Unlock()

	if env.Sequence != expected && expected != 1 {
		p.Logger.Warn("sequence gap detected, requesting catch-up",
			zap.Int("database", env.DatabaseIndex), zap.Uint64("expected", expected), zap.Uint64("got", env.Sequence))
		if err := p.catchUp(context.Background(), env.DatabaseIndex, seniorID); err != nil {
			return err
		}
	}

	if err := p.Session.ApplyReplicated(env); err != nil {
		return err
	}
	p.mu.Lock()
	p.seqIn[env.DatabaseIndex] = env.Sequence
	p.mu.Unlock()
	return nil
}

func (p *Peer) catchUp(ctx context.Context, databaseIndex int, senior wire.PeerID) error {
	p.mu.Lock()
	st, ok := p.members[senior]
	p.mu.Unlock()
	if !ok {
		return errors.Mark(errors.New("replication: senior unknown, cannot catch up"), errkind.ErrDataNotFound)
	}
	conn, err := p.connTo(ctx, st)
	if err != nil {
		return err
	}
	dbs := p.Session.Databases()
	if databaseIndex < 0 || databaseIndex >= len(dbs) {
		return errors.Mark(errors.New("replication: bad database index"), errkind.ErrBadArgument)
	}
	db := dbs[databaseIndex]
	db.BeginCatchUp()
	archive, err := conn.RequestArchive(ctx, databaseIndex)
	if err != nil {
		return errors.Mark(err, errkind.ErrIO)
	}
	db.RestoreFromArchive(archive)
	db.FinishCatchUp()
	return nil
}

// HandleArchiveRequest implements transport.Handler.
func (p *Peer) HandleArchiveRequest(databaseIndex int) (database.Archive, error) {
	dbs := p.Session.Databases()
	if databaseIndex < 0 || databaseIndex >= len(dbs) {
		return database.Archive{}, errors.Mark(errors.New("replication: bad database index"), errkind.ErrBadArgument)
	}
	return dbs[databaseIndex].SaveToArchive(), nil
}

// HandleChecksumRequest implements transport.Handler.
func (p *Peer) HandleChecksumRequest(databaseIndex int) (uint32, error) {
	dbs := p.Session.Databases()
	if databaseIndex < 0 || databaseIndex >= len(dbs) {
		return 0, errors.Mark(errors.New("replication: bad database index"), errkind.ErrBadArgument)
	}
	return dbs[databaseIndex].Checksum(), nil
}

// VerifyChecksums compares every local database's checksum against the
// senior's (a no-op if this peer is itself senior), resetting and
// re-fetching any database that has diverged -- spec.md section 6's
// periodic checksum verification.
func (p *Peer) VerifyChecksums(ctx context.Context) {
	if p.IsSenior() {
		return
	}
	p.mu.Lock()
	st, ok := p.members[p.seniorID]
	p.mu.Unlock()
	if !ok {
		return
	}
	conn, err := p.connTo(ctx, st)
	if err != nil {
		p.Logger.Warn("checksum verification: could not reach senior", zap.Error(err))
		return
	}
	for i, db := range p.Session.Databases() {
		want, err := conn.RequestChecksum(ctx, i)
		if err != nil {
			p.Logger.Warn("checksum verification: request failed", zap.Int("database", i), zap.Error(err))
			continue
		}
		if got := db.Checksum(); got != want {
			p.Logger.Warn("checksum diverged, resetting", zap.Int("database", i), zap.Uint32("want", want), zap.Uint32("got", got))
			_ = p.catchUp(ctx, i, p.seniorID)
		}
	}
}
