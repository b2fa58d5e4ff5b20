// Package transport defines the two wire boundaries a peer uses --
// best-effort multicast for heartbeats/beacons/discovery, and a reliable
// point-to-point stream for replication envelopes and catch-up archive
// transfer -- plus UDP/TCP implementations of each and an in-memory mock
// pair for tests. Grounded on aspen's mock/transport.go for the
// shape of a test double, generalized from aspen's single gRPC transport
// bundle to this system's multicast + stream split.
package transport

import (
	"context"

	"github.com/peertree/msgtree/internal/database"
	"github.com/peertree/msgtree/internal/wire"
)

// Multicast is the best-effort, connectionless transport heartbeats,
// beacons, and discovery advertisements ride on.
type Multicast interface {
	SendHeartbeat(wire.Heartbeat) error
	SendBeacon(wire.Beacon) error
	SendDiscovery(wire.Discovery) error
	Heartbeats() <-chan wire.Heartbeat
	Beacons() <-chan wire.Beacon
	Discoveries() <-chan wire.Discovery
	Close() error
}

// Handler processes the requests a Stream listener receives from other
// peers.
type Handler interface {
	HandleEnvelope(wire.Envelope) error
	HandleArchiveRequest(databaseIndex int) (database.Archive, error)
	HandleChecksumRequest(databaseIndex int) (uint32, error)
}

// PeerConn is a reliable connection to one specific peer, used by the
// senior to push replication envelopes and by a junior to request a
// catch-up archive.
type PeerConn interface {
	SendEnvelope(ctx context.Context, env wire.Envelope) error
	RequestArchive(ctx context.Context, databaseIndex int) (database.Archive, error)
	RequestChecksum(ctx context.Context, databaseIndex int) (uint32, error)
	Close() error
}

// Stream is the reliable transport: peers dial each other directly (no
// discovery/rendezvous logic here -- that is multicast's job) and the
// listening side dispatches incoming requests to a Handler.
type Stream interface {
	Dial(ctx context.Context, addr string) (PeerConn, error)
	Serve(ctx context.Context, addr string, handler Handler) error
	Close() error
}
