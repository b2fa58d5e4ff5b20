package tree_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/peertree/msgtree/internal/tree"
	"github.com/peertree/msgtree/payload"
)

func TestTree(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tree Suite")
}

func pl(v string) *payload.Payload {
	p := payload.New(map[string][]byte{"v": []byte(v)})
	return &p
}

var _ = Describe("SetDataNode", func() {
	It("creates missing interior nodes silently", func() {
		s := tree.NewStore()
		events := s.SetDataNode("magnets/sub/I0", pl("1"), tree.Flags{}, "")
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(tree.EventNodeUpdated))
		Expect(events[0].Path).To(Equal("magnets/sub/I0"))

		n, ok := s.GetNode("magnets/sub/I0")
		Expect(ok).To(BeTrue())
		v, ok := n.Payload().Get("v")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal([]byte("1")))
	})

	It("reports the prior payload on overwrite", func() {
		s := tree.NewStore()
		s.SetDataNode("a", pl("1"), tree.Flags{}, "")
		events := s.SetDataNode("a", pl("2"), tree.Flags{}, "")
		v, _ := events[0].OldPayload.Get("v")
		Expect(v).To(Equal([]byte("1")))
	})

	It("appends to the index by default, and moves an already-indexed name", func() {
		s := tree.NewStore()
		s.SetDataNode("magnets/I0", pl("0"), tree.Flags{AddToIndex: true}, "")
		s.SetDataNode("magnets/I1", pl("1"), tree.Flags{AddToIndex: true}, "")
		parent, _ := s.GetNode("magnets")
		Expect(parent.Index()).To(Equal([]string{"I0", "I1"}))

		events := s.SetDataNode("magnets/I0", pl("0b"), tree.Flags{AddToIndex: true}, "I1")
		Expect(parent.Index()).To(Equal([]string{"I0", "I1"}))
		var ops []tree.IndexOp
		for _, e := range events {
			if e.Kind == tree.EventIndexChanged {
				ops = append(ops, e.Op)
			}
		}
		Expect(ops).To(Equal([]tree.IndexOp{tree.IndexOpRemoved, tree.IndexOpInserted}))
	})
})

var _ = Describe("RemoveDataNodes", func() {
	It("removes a whole subtree with one event carrying the pre-removal checksum", func() {
		s := tree.NewStore()
		s.SetDataNode("magnets/I0", pl("0"), tree.Flags{}, "")
		s.SetDataNode("magnets/I0/child", pl("c"), tree.Flags{}, "")
		node, _ := s.GetNode("magnets/I0")
		want := node.CalculateChecksum()

		events := s.RemoveDataNodes("magnets/I0", nil, false)
		Expect(events).To(HaveLen(1))
		Expect(events[0].Removed).To(BeTrue())
		Expect(events[0].RemovedChecksum).To(Equal(want))

		_, ok := s.GetNode("magnets/I0")
		Expect(ok).To(BeFalse())
		_, ok = s.GetNode("magnets/I0/child")
		Expect(ok).To(BeFalse())
	})

	It("matches wildcards segment-by-segment and honors the filter", func() {
		s := tree.NewStore()
		s.SetDataNode("magnets/I0", pl("0"), tree.Flags{}, "")
		s.SetDataNode("magnets/I1", pl("1"), tree.Flags{}, "")

		events := s.RemoveDataNodes("magnets/*", func(path string, n *tree.Node) bool {
			return n.Name() == "I0"
		}, false)
		Expect(events).To(HaveLen(1))
		Expect(events[0].Path).To(Equal("magnets/I0"))
		_, ok := s.GetNode("magnets/I1")
		Expect(ok).To(BeTrue())
	})
})

var _ = Describe("MoveIndexEntries", func() {
	It("relocates matching entries as a block, preserving relative order", func() {
		s := tree.NewStore()
		s.SetDataNode("magnets/I0", pl("0"), tree.Flags{AddToIndex: true}, "")
		s.SetDataNode("magnets/I1", pl("1"), tree.Flags{AddToIndex: true}, "")
		s.SetDataNode("magnets/I2", pl("2"), tree.Flags{AddToIndex: true}, "")

		_, err := s.MoveIndexEntries("magnets", "I0", func(path string, n *tree.Node) bool {
			return n.Name() == "I2"
		})
		Expect(err).NotTo(HaveOccurred())

		parent, _ := s.GetNode("magnets")
		Expect(parent.Index()).To(Equal([]string{"I2", "I0", "I1"}))
	})
})

var _ = Describe("ClearIndex", func() {
	It("emits one IndexOpRemoved event per cleared key", func() {
		s := tree.NewStore()
		s.SetDataNode("magnets/I0", pl("0"), tree.Flags{AddToIndex: true}, "")
		s.SetDataNode("magnets/I1", pl("1"), tree.Flags{AddToIndex: true}, "")

		events, err := s.ClearIndex("magnets")
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		for _, e := range events {
			Expect(e.Op).To(Equal(tree.IndexOpRemoved))
		}

		parent, _ := s.GetNode("magnets")
		Expect(parent.Index()).To(BeEmpty())
	})
})

var _ = Describe("checksum bookkeeping", func() {
	It("is unaffected by a pure reorder", func() {
		s := tree.NewStore()
		s.SetDataNode("magnets/I0", pl("0"), tree.Flags{AddToIndex: true}, "")
		s.SetDataNode("magnets/I1", pl("1"), tree.Flags{AddToIndex: true}, "")
		root, _ := s.GetNode("magnets")
		before := root.CalculateChecksum()

		s.MoveIndexEntries("magnets", "", func(path string, n *tree.Node) bool {
			return n.Name() == "I0"
		})

		Expect(root.CalculateChecksum()).To(Equal(before))
	})
})
