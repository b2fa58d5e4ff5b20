package transport

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/peertree/msgtree/internal/database"
	"github.com/peertree/msgtree/internal/wire"
)

// MockNetwork is an in-memory, synchronous stand-in for the UDP multicast
// group and the TCP stream fabric, for tests that need several peers
// talking to each other without touching a real socket. Grounded on
// aspen's mock/transport.go, generalized from aspen's per-address
// routed-unary registry to this system's multicast-plus-stream split.
type MockNetwork struct {
	mu      sync.Mutex
	members []*MockMulticast
	streams map[string]Handler
}

// NewMockNetwork returns an empty network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{streams: make(map[string]Handler)}
}

// NewMulticast joins a new member to the network's shared multicast group.
func (n *MockNetwork) NewMulticast() *MockMulticast {
	m := &MockMulticast{
		net:         n,
		heartbeats:  make(chan wire.Heartbeat, 64),
		beacons:     make(chan wire.Beacon, 64),
		discoveries: make(chan wire.Discovery, 64),
	}
	n.mu.Lock()
	n.members = append(n.members, m)
	n.mu.Unlock()
	return m
}

// MockMulticast implements Multicast by fanning each send out to every
// other member of the same MockNetwork.
type MockMulticast struct {
	net         *MockNetwork
	heartbeats  chan wire.Heartbeat
	beacons     chan wire.Beacon
	discoveries chan wire.Discovery
}

func (m *MockMulticast) broadcast(fn func(*MockMulticast)) {
	m.net.mu.Lock()
	members := append([]*MockMulticast(nil), m.net.members...)
	m.net.mu.Unlock()
	for _, other := range members {
		if other != m {
			fn(other)
		}
	}
}

func (m *MockMulticast) SendHeartbeat(hb wire.Heartbeat) error {
	m.broadcast(func(o *MockMulticast) {
		select {
		case o.heartbeats <- hb:
		default:
		}
	})
	return nil
}

func (m *MockMulticast) SendBeacon(b wire.Beacon) error {
	m.broadcast(func(o *MockMulticast) {
		select {
		case o.beacons <- b:
		default:
		}
	})
	return nil
}

func (m *MockMulticast) SendDiscovery(d wire.Discovery) error {
	m.broadcast(func(o *MockMulticast) {
		select {
		case o.discoveries <- d:
		default:
		}
	})
	return nil
}

func (m *MockMulticast) Heartbeats() <-chan wire.Heartbeat  { return m.heartbeats }
func (m *MockMulticast) Beacons() <-chan wire.Beacon        { return m.beacons }
func (m *MockMulticast) Discoveries() <-chan wire.Discovery { return m.discoveries }
func (m *MockMulticast) Close() error                       { return nil }

// MockStream implements Stream by routing Dial(addr) straight to whichever
// Handler previously called Serve(addr), with no actual socket involved.
type MockStream struct{ net *MockNetwork }

// NewMockStream returns a Stream backed by net's handler registry.
func (n *MockNetwork) NewMockStream() *MockStream { return &MockStream{net: n} }

func (s *MockStream) Serve(ctx context.Context, addr string, handler Handler) error {
	s.net.mu.Lock()
	s.net.streams[addr] = handler
	s.net.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (s *MockStream) Dial(ctx context.Context, addr string) (PeerConn, error) {
	s.net.mu.Lock()
	handler, ok := s.net.streams[addr]
	s.net.mu.Unlock()
	if !ok {
		return nil, errors.Newf("transport: no mock listener at %q", addr)
	}
	return &mockPeerConn{handler: handler}, nil
}

func (s *MockStream) Close() error { return nil }

type mockPeerConn struct{ handler Handler }

func (c *mockPeerConn) SendEnvelope(ctx context.Context, env wire.Envelope) error {
	return c.handler.HandleEnvelope(env)
}

func (c *mockPeerConn) RequestArchive(ctx context.Context, databaseIndex int) (database.Archive, error) {
	return c.handler.HandleArchiveRequest(databaseIndex)
}

func (c *mockPeerConn) RequestChecksum(ctx context.Context, databaseIndex int) (uint32, error) {
	return c.handler.HandleChecksumRequest(databaseIndex)
}

func (c *mockPeerConn) Close() error { return nil }
