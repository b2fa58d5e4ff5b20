package treepath_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/peertree/msgtree/treepath"
)

func TestTreepath(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Treepath Suite")
}

var _ = Describe("Segments and Depth", func() {
	It("treats the root as depth 0", func() {
		Expect(treepath.Depth("")).To(Equal(0))
	})

	It("counts one segment per slash-delimited component", func() {
		Expect(treepath.Depth("dbs/db_0/foo/bar")).To(Equal(4))
	})

	It("ignores a leading slash", func() {
		Expect(treepath.Segments("/zg/0")).To(Equal([]string{"zg", "0"}))
	})
})

var _ = Describe("Parent", func() {
	It("splits a path into parent and final segment", func() {
		p, n := treepath.Parent("magnets/I0")
		Expect(p).To(Equal("magnets"))
		Expect(n).To(Equal("I0"))
	})

	It("returns an empty parent for a top-level name", func() {
		p, n := treepath.Parent("magnets")
		Expect(p).To(Equal(""))
		Expect(n).To(Equal("magnets"))
	})
})

var _ = Describe("Match", func() {
	It("matches glob segments one-for-one", func() {
		Expect(treepath.Match("dbs/*/foo", "dbs/db_0/foo")).To(BeTrue())
		Expect(treepath.Match("dbs/*/foo", "dbs/db_0/bar")).To(BeFalse())
	})

	It("requires equal depth", func() {
		Expect(treepath.Match("dbs/*", "dbs/db_0/foo")).To(BeFalse())
	})
})

var _ = Describe("MatchPrefix", func() {
	It("matches only the pattern's leading segments", func() {
		Expect(treepath.MatchPrefix("dbs/db_0", "dbs/db_0/foo/bar")).To(BeTrue())
		Expect(treepath.MatchPrefix("dbs/db_1", "dbs/db_0/foo/bar")).To(BeFalse())
	})
})

var _ = Describe("Clause", func() {
	It("extracts segments starting at an offset", func() {
		Expect(treepath.Clause(2, "dbs/db_0/foo/bar")).To(Equal("foo/bar"))
	})

	It("preserves a trailing slash as the pick-an-ID signal", func() {
		Expect(treepath.Clause(1, "magnets/")).To(Equal("/"))
	})
})

var _ = Describe("Subpath", func() {
	It("strips the session prefix from an absolute path before matching", func() {
		depth, rel := treepath.Subpath("dbs/db_0", "/zg/0/dbs/db_0/foo/bar")
		Expect(depth).To(Equal(2))
		Expect(rel).To(Equal("foo/bar"))
	})

	It("rejects a wildcard path shallower than the root", func() {
		depth, _ := treepath.Subpath("dbs/db_0", "*")
		Expect(depth).To(Equal(-1))
	})

	It("matches a wildcard path against the root segment-by-segment", func() {
		depth, rel := treepath.Subpath("dbs/db_0", "dbs/db_0/*")
		Expect(depth).To(Equal(1))
		Expect(rel).To(Equal("*"))
	})

	It("rejects a wildcard path for a different root", func() {
		depth, _ := treepath.Subpath("dbs/db_0", "dbs/db_1/*")
		Expect(depth).To(Equal(-1))
	})

	It("reports depth 0 and an empty relative path for an exact root match", func() {
		depth, rel := treepath.Subpath("dbs/db_0", "dbs/db_0")
		Expect(depth).To(Equal(0))
		Expect(rel).To(Equal(""))
	})

	It("rejects a concrete path outside the root", func() {
		depth, _ := treepath.Subpath("dbs/db_0", "dbs/db_1/x")
		Expect(depth).To(Equal(-1))
	})

	It("resolves a concrete path under the root and preserves a trailing slash", func() {
		depth, rel := treepath.Subpath("dbs/db_0", "dbs/db_0/magnets/")
		Expect(depth).To(Equal(1))
		Expect(rel).To(Equal("magnets/"))
	})
})
