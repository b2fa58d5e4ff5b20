package database_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/peertree/msgtree/internal/database"
	"github.com/peertree/msgtree/internal/tree"
	"github.com/peertree/msgtree/internal/wire"
	"github.com/peertree/msgtree/payload"
)

func TestDatabase(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Database Suite")
}

func encoded(v string) []byte {
	p := payload.New(map[string][]byte{"v": []byte(v)})
	b, _ := p.MarshalCBOR()
	return b
}

var _ = Describe("ApplyRequest as senior", func() {
	It("sets a concrete node and assembles a matching junior batch", func() {
		store := tree.NewStore()
		db := database.New(0, "dbs/db_0", store)

		var events []tree.Event
		batch, err := db.ApplyRequest(wire.Submessage{
			Op:      wire.OpUpdateNodeValue,
			Path:    "magnets/lodestone",
			Payload: encoded("1"),
		}, func(e tree.Event) { events = append(events, e) })

		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(batch.Submessages).To(HaveLen(1))
		Expect(batch.Submessages[0].Op).To(Equal(wire.OpUpdateNodeValue))
		Expect(batch.Submessages[0].Path).To(Equal("magnets/lodestone"))

		n, ok := store.GetNode("dbs/db_0/magnets/lodestone")
		Expect(ok).To(BeTrue())
		v, _ := n.Payload().Get("v")
		Expect(v).To(Equal([]byte("1")))
	})

	It("allocates a monotonic child name for a trailing-slash path and indexes it", func() {
		store := tree.NewStore()
		db := database.New(0, "dbs/db_0", store)

		batch, err := db.ApplyRequest(wire.Submessage{
			Op:      wire.OpUpdateNodeValue,
			Path:    "magnets/",
			Payload: encoded("0"),
			Flags:   wire.FlagAddToIndex,
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(batch.Submessages).To(HaveLen(2))
		Expect(batch.Submessages[0].Path).To(Equal("magnets/I0"))
		Expect(batch.Submessages[1].Op).To(Equal(wire.OpInsertIndexEntry))
		Expect(batch.Submessages[1].Key).To(Equal("I0"))

		batch2, _ := db.ApplyRequest(wire.Submessage{
			Op:      wire.OpUpdateNodeValue,
			Path:    "magnets/",
			Payload: encoded("1"),
			Flags:   wire.FlagAddToIndex,
		}, nil)
		Expect(batch2.Submessages[0].Path).To(Equal("magnets/I1"))
	})

	It("assembles a delete-nodes batch with the resolved concrete path, not the wildcard", func() {
		store := tree.NewStore()
		db := database.New(0, "dbs/db_0", store)
		db.ApplyRequest(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "a/x", Payload: encoded("1")}, nil)
		db.ApplyRequest(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "a/y", Payload: encoded("2")}, nil)

		batch, err := db.ApplyRequest(wire.Submessage{
			Op:            wire.OpRequestDeleteNodes,
			Path:          "a/*",
			FilterPattern: "v=1",
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(batch.Submessages).To(HaveLen(1))
		Expect(batch.Submessages[0].Path).To(Equal("a/x"))

		_, ok := store.GetNode("dbs/db_0/a/x")
		Expect(ok).To(BeFalse())
		_, ok = store.GetNode("dbs/db_0/a/y")
		Expect(ok).To(BeTrue())
	})
})

var _ = Describe("ApplyReplicated as junior", func() {
	It("reproduces a senior's assembled batch exactly", func() {
		seniorStore := tree.NewStore()
		senior := database.New(0, "dbs/db_0", seniorStore)
		batch, _ := senior.ApplyRequest(wire.Submessage{
			Op:      wire.OpUpdateNodeValue,
			Path:    "magnets/",
			Payload: encoded("0"),
			Flags:   wire.FlagAddToIndex,
		}, nil)

		juniorStore := tree.NewStore()
		junior := database.New(0, "dbs/db_0", juniorStore)
		Expect(junior.ApplyReplicated(batch, nil)).To(Succeed())

		Expect(junior.Checksum()).To(Equal(senior.Checksum()))
	})
})

var _ = Describe("Checksum", func() {
	It("keeps the running total in agreement with a full recompute across updates, removals, and index mutations", func() {
		store := tree.NewStore()
		db := database.New(0, "dbs/db_0", store)

		db.ApplyRequest(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "magnets/I0", Payload: encoded("0"), Flags: wire.FlagAddToIndex}, nil)
		db.ApplyRequest(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "magnets/I1", Payload: encoded("1"), Flags: wire.FlagAddToIndex}, nil)
		Expect(db.Checksum()).To(Equal(db.RecomputeChecksum()))

		db.ApplyRequest(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "magnets/I0", Payload: encoded("changed")}, nil)
		Expect(db.Checksum()).To(Equal(db.RecomputeChecksum()))

		db.ApplyRequest(wire.Submessage{Op: wire.OpRemoveIndexEntry, Path: "magnets", Index: 0}, nil)
		Expect(db.Checksum()).To(Equal(db.RecomputeChecksum()))

		db.ApplyRequest(wire.Submessage{Op: wire.OpRequestDeleteNodes, Path: "magnets/I0"}, nil)
		Expect(db.Checksum()).To(Equal(db.RecomputeChecksum()))
	})
})

var _ = Describe("Archive round trip", func() {
	It("restores an equivalent tree with a matching checksum", func() {
		store := tree.NewStore()
		db := database.New(0, "dbs/db_0", store)
		db.ApplyRequest(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "magnets/I0", Payload: encoded("0"), Flags: wire.FlagAddToIndex}, nil)
		db.ApplyRequest(wire.Submessage{Op: wire.OpUpdateNodeValue, Path: "magnets/I1", Payload: encoded("1"), Flags: wire.FlagAddToIndex}, nil)
		want := db.Checksum()

		archive := db.SaveToArchive()

		otherStore := tree.NewStore()
		other := database.New(0, "dbs/db_0", otherStore)
		other.RestoreFromArchive(archive)

		Expect(other.Checksum()).To(Equal(want))
	})
})
