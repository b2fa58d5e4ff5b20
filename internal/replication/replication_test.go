package replication_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/peertree/msgtree/internal/peer"
	"github.com/peertree/msgtree/internal/replication"
	"github.com/peertree/msgtree/internal/session"
	"github.com/peertree/msgtree/internal/transport"
	"github.com/peertree/msgtree/internal/wire"
	"github.com/peertree/msgtree/payload"
)

func TestReplication(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Replication Suite")
}

func newTestPeer(net *transport.MockNetwork, settings peer.Settings, id wire.PeerID, addr string) *replication.Peer {
	sess := session.New(1)
	mc := net.NewMulticast()
	st := net.NewMockStream()
	return replication.New(settings, id, addr, sess, mc, st, zap.NewNop())
}

var _ = Describe("Two-peer replication", func() {
	It("elects the lower PeerID as senior and replays its writes to the other", func() {
		net := transport.NewMockNetwork()
		settings := peer.New("test-system", peer.WithHeartbeatsPerSecond(40))

		low := wire.PeerID{MAC: [6]byte{1}, Nonce: 1}
		high := wire.PeerID{MAC: [6]byte{2}, Nonce: 1}

		p1 := newTestPeer(net, settings, low, "peer-1")
		p2 := newTestPeer(net, settings, high, "peer-2")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go p1.Run(ctx)
		go p2.Run(ctx)

		Eventually(func() bool { return p1.IsSenior() }, 2*time.Second, 10*time.Millisecond).Should(BeTrue())
		Consistently(func() bool { return p2.IsSenior() }, 100*time.Millisecond, 10*time.Millisecond).Should(BeFalse())

		pl := payload.New(map[string][]byte{"v": []byte("lodestone")})
		b, _ := pl.MarshalCBOR()
		Expect(p1.ApplyClientRequest(ctx, wire.Submessage{
			Op:      wire.OpUpdateNodeValue,
			Path:    "0/magnets/I0",
			Payload: b,
		})).To(Succeed())

		Eventually(func() bool {
			n, ok := p2.Session.Store().GetNode("0/magnets/I0")
			return ok && n.Payload() != nil
		}, 2*time.Second, 10*time.Millisecond).Should(BeTrue())
	})

	It("replicates Undo to juniors, not just the senior's own copy", func() {
		net := transport.NewMockNetwork()
		settings := peer.New("test-system-undo", peer.WithHeartbeatsPerSecond(40))

		low := wire.PeerID{MAC: [6]byte{1}, Nonce: 1}
		high := wire.PeerID{MAC: [6]byte{2}, Nonce: 1}

		p1 := newTestPeer(net, settings, low, "peer-1-undo")
		p2 := newTestPeer(net, settings, high, "peer-2-undo")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go p1.Run(ctx)
		go p2.Run(ctx)

		Eventually(func() bool { return p1.IsSenior() }, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

		first, _ := payload.New(map[string][]byte{"v": []byte("one")}).MarshalCBOR()
		Expect(p1.ApplyClientRequest(ctx, wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "0/a", Payload: first})).To(Succeed())

		second, _ := payload.New(map[string][]byte{"v": []byte("two")}).MarshalCBOR()
		Expect(p1.ApplyClientRequest(ctx, wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "0/a", Payload: second})).To(Succeed())

		Eventually(func() []byte {
			n, ok := p2.Session.Store().GetNode("0/a")
			if !ok || n.Payload() == nil {
				return nil
			}
			v, _ := n.Payload().Get("v")
			return v
		}, 2*time.Second, 10*time.Millisecond).Should(Equal([]byte("two")))

		Expect(p1.Undo(ctx)).To(Succeed())

		Eventually(func() []byte {
			n, ok := p2.Session.Store().GetNode("0/a")
			if !ok || n.Payload() == nil {
				return nil
			}
			v, _ := n.Payload().Get("v")
			return v
		}, 2*time.Second, 10*time.Millisecond).Should(Equal([]byte("one")))
	})

	It("catches a junior up from the senior's beacon alone, with no envelope ever sent after it attaches", func() {
		net := transport.NewMockNetwork()
		settings := peer.New("test-system-beacon",
			peer.WithHeartbeatsPerSecond(40),
			peer.WithChecksumEveryKBeacons(1),
		)
		settings.BeaconsPerSecond = 40

		low := wire.PeerID{MAC: [6]byte{1}, Nonce: 1}
		high := wire.PeerID{MAC: [6]byte{2}, Nonce: 1}

		p1 := newTestPeer(net, settings, low, "peer-1-beacon")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go p1.Run(ctx)

		Eventually(func() bool { return p1.IsSenior() }, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

		pl := payload.New(map[string][]byte{"v": []byte("lodestone")})
		b, _ := pl.MarshalCBOR()
		Expect(p1.ApplyClientRequest(ctx, wire.Submessage{
			Op:      wire.OpUpdateNodeValue,
			Path:    "0/magnets/I0",
			Payload: b,
		})).To(Succeed())

		// p2 joins after the write -- it never receives that envelope
		// directly, so only the beacon's lagging LastSeq can drive it to
		// catch up.
		p2 := newTestPeer(net, settings, high, "peer-2-beacon")
		go p2.Run(ctx)

		Eventually(func() bool {
			n, ok := p2.Session.Store().GetNode("0/magnets/I0")
			return ok && n.Payload() != nil
		}, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

		Eventually(func() uint32 {
			return p2.Session.Databases()[0].Checksum()
		}, 2*time.Second, 10*time.Millisecond).Should(Equal(p1.Session.Databases()[0].Checksum()))
	})
})

var _ = Describe("heartbeat attributes", func() {
	It("gossips a peer's attributes and lets others decompress them back", func() {
		net := transport.NewMockNetwork()
		attrs := payload.New(map[string][]byte{"role": []byte("edge")})
		settings := peer.New("test-system-attrs",
			peer.WithHeartbeatsPerSecond(40),
			peer.WithAttributes(&attrs),
		)

		low := wire.PeerID{MAC: [6]byte{1}, Nonce: 1}
		high := wire.PeerID{MAC: [6]byte{2}, Nonce: 1}

		p1 := newTestPeer(net, settings, low, "peer-1-attrs")
		p2 := newTestPeer(net, settings, high, "peer-2-attrs")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go p1.Run(ctx)
		go p2.Run(ctx)

		Eventually(func() bool {
			got, ok := p2.Attributes(low)
			return ok && got != nil
		}, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

		got, ok := p2.Attributes(low)
		Expect(ok).To(BeTrue())
		role, _ := got.Get("role")
		Expect(role).To(Equal([]byte("edge")))
	})
})
