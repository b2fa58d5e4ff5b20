package wire_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/peertree/msgtree/internal/wire"
)

func TestWire(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Wire Suite")
}

var _ = Describe("PeerID ordering", func() {
	It("orders by MAC first, then nonce", func() {
		a := wire.PeerID{MAC: [6]byte{1}, Nonce: 100}
		b := wire.PeerID{MAC: [6]byte{2}, Nonce: 1}
		Expect(a.Less(b)).To(BeTrue())

		c := wire.PeerID{MAC: [6]byte{1}, Nonce: 1}
		d := wire.PeerID{MAC: [6]byte{1}, Nonce: 100}
		Expect(c.Less(d)).To(BeTrue())
	})

	It("treats the unset PeerID as zero", func() {
		Expect(wire.PeerID{}.IsZero()).To(BeTrue())
		Expect(wire.PeerID{Nonce: 1}.IsZero()).To(BeFalse())
	})
})

var _ = Describe("Beat ordering", func() {
	It("orders by generation first, then version", func() {
		older := wire.Beat{Generation: 1, Version: 9}
		younger := wire.Beat{Generation: 2, Version: 0}
		Expect(older.YoungerThan(younger)).To(BeTrue())
		Expect(younger.YoungerThan(older)).To(BeFalse())

		Expect(wire.Beat{Generation: 1, Version: 1}.YoungerThan(wire.Beat{Generation: 1, Version: 2})).To(BeTrue())
		Expect(wire.Beat{Generation: 1, Version: 2}.YoungerThan(wire.Beat{Generation: 1, Version: 2})).To(BeFalse())
	})
})

var _ = Describe("Envelope CBOR round trip", func() {
	It("survives marshal/unmarshal unchanged", func() {
		env := wire.Envelope{
			DatabaseIndex: 2,
			Sequence:      7,
			Batch: wire.Batch{Submessages: []wire.Submessage{
				{Op: wire.OpUpdateNodeValue, Path: "magnets/I0", Payload: []byte{1, 2, 3}},
				{Op: wire.OpInsertIndexEntry, Path: "magnets", Index: 0, Key: "I0"},
			}},
		}
		b, err := wire.Marshal(env)
		Expect(err).NotTo(HaveOccurred())

		var out wire.Envelope
		Expect(wire.Unmarshal(b, &out)).To(Succeed())
		Expect(out).To(Equal(env))
	})
})
