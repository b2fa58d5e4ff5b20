package session_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/peertree/msgtree/internal/session"
	"github.com/peertree/msgtree/internal/tree"
	"github.com/peertree/msgtree/internal/wire"
	"github.com/peertree/msgtree/payload"
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Suite")
}

func encoded(v string) []byte {
	p := payload.New(map[string][]byte{"v": []byte(v)})
	b, _ := p.MarshalCBOR()
	return b
}

var _ = Describe("Apply", func() {
	It("routes by the path's leading database index", func() {
		s := session.New(2)
		env, err := s.Apply(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "1/a/b", Payload: encoded("x")})
		Expect(err).NotTo(HaveOccurred())
		Expect(env.DatabaseIndex).To(Equal(1))

		n, ok := s.Store().GetNode("1/a/b")
		Expect(ok).To(BeTrue())
		v, _ := n.Payload().Get("v")
		Expect(v).To(Equal([]byte("x")))
	})

	It("fans events out to subscribers under a matching prefix", func() {
		s := session.New(1)
		var got []string
		s.Subscribe("0/magnets", func(ev tree.Event) { got = append(got, ev.Path) })

		s.Apply(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "0/magnets/I0", Payload: encoded("0")})
		s.Apply(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "0/other", Payload: encoded("0")})

		Expect(got).To(Equal([]string{"0/magnets/I0"}))
	})

	It("suppresses local dispatch for a NOREPLY request without skipping the batch", func() {
		s := session.New(1)
		var got []string
		s.Subscribe("0", func(ev tree.Event) { got = append(got, ev.Path) })

		env, err := s.Apply(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "0/a", Payload: encoded("x"), Flags: wire.FlagNoReply})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty())
		Expect(env.Batch.Submessages).NotTo(BeEmpty())

		s.Apply(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "0/b", Payload: encoded("y")})
		Expect(got).To(Equal([]string{"0/b"}))
	})
})

var _ = Describe("Undo/Redo", func() {
	It("restores the previous payload and is itself redoable", func() {
		s := session.New(1)
		s.Apply(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "0/a", Payload: encoded("1")})
		s.Apply(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "0/a", Payload: encoded("2")})

		_, err := s.Undo()
		Expect(err).NotTo(HaveOccurred())
		n, _ := s.Store().GetNode("0/a")
		v, _ := n.Payload().Get("v")
		Expect(v).To(Equal([]byte("1")))

		_, err = s.Redo()
		Expect(err).NotTo(HaveOccurred())
		n, _ = s.Store().GetNode("0/a")
		v, _ = n.Payload().Get("v")
		Expect(v).To(Equal([]byte("2")))
	})

	It("lets a second Undo revert the redone change rather than the one before it", func() {
		s := session.New(1)
		s.Apply(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "0/a", Payload: encoded("1")})
		s.Apply(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "0/a", Payload: encoded("2")})

		_, err := s.Undo()
		Expect(err).NotTo(HaveOccurred())
		_, err = s.Redo()
		Expect(err).NotTo(HaveOccurred())

		_, err = s.Undo()
		Expect(err).NotTo(HaveOccurred())
		n, _ := s.Store().GetNode("0/a")
		v, _ := n.Payload().Get("v")
		Expect(v).To(Equal([]byte("1")))
	})
})

var _ = Describe("resolve via Subpath routing", func() {
	It("routes an absolute, session-prefixed path to the database whose root it falls under", func() {
		s := session.NewWithRoots([]string{"dbs/db_0"})
		env, err := s.Apply(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "/zg/0/dbs/db_0/foo/bar", Payload: encoded("x")})
		Expect(err).NotTo(HaveOccurred())
		Expect(env.DatabaseIndex).To(Equal(0))

		n, ok := s.Store().GetNode("dbs/db_0/foo/bar")
		Expect(ok).To(BeTrue())
		v, _ := n.Payload().Get("v")
		Expect(v).To(Equal([]byte("x")))
	})

	It("rejects a path that does not fall under any database's root", func() {
		s := session.NewWithRoots([]string{"dbs/db_0", "dbs/db_1"})
		_, err := s.Apply(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "dbs/db_2/x", Payload: encoded("x")})
		Expect(err).To(HaveOccurred())
	})
})
