package payload_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/peertree/msgtree/payload"
)

func TestPayload(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Payload Suite")
}

var _ = Describe("Payload", func() {
	It("is zero valued when constructed empty", func() {
		Expect(payload.Empty.IsZero()).To(BeTrue())
		Expect(payload.Empty.Checksum()).To(Equal(uint32(0)))
	})

	It("checksums deterministically regardless of insertion order", func() {
		a := payload.New(map[string][]byte{"a": []byte("1"), "b": []byte("2")})
		b := payload.Empty.Set("b", []byte("2")).Set("a", []byte("1"))
		Expect(a.Checksum()).To(Equal(b.Checksum()))
	})

	It("changes checksum when a value changes", func() {
		a := payload.New(map[string][]byte{"a": []byte("1")})
		b := a.Set("a", []byte("2"))
		Expect(a.Checksum()).NotTo(Equal(b.Checksum()))
	})

	It("round trips through Set/Delete without mutating the original", func() {
		a := payload.New(map[string][]byte{"a": []byte("1")})
		b := a.Set("c", []byte("3"))
		Expect(a.Keys()).To(Equal([]string{"a"}))
		Expect(b.Keys()).To(Equal([]string{"a", "c"}))

		c := b.Delete("a")
		Expect(c.Keys()).To(Equal([]string{"c"}))
	})
})
