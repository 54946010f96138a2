package partnum

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPartnum(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Partnum Suite")
}

var _ = Describe("Canonical", func() {
	DescribeTable("normalizing raw tokens",
		func(raw, expected string) {
			Expect(Canonical(raw)).To(Equal(expected))
		},
		Entry("strips padding, a leading zero and hyphens", " 0VU01321-AC ", "VU01321AC"),
		Entry("uppercases and drops spaces", "0651-2211 aa", "6512211AA"),
		Entry("leaves clean Mopar numbers alone", "BAAUA200AB", "BAAUA200AB"),
		Entry("strips several leading zeros", "000123", "123"),
		Entry("reduces all zeros to empty", "0000", ""),
		Entry("keeps zeros after the first non-zero", "1000", "1000"),
		Entry("keeps letter-only tokens", "abc", "ABC"),
		Entry("drops slashes and periods", "12/34.5", "12345"),
		Entry("stops zero stripping at a letter", "00A01", "A01"),
		Entry("drops non-ASCII characters", "０12Ä3", "123"),
		Entry("returns empty for punctuation only", " -/. ", ""),
		Entry("returns empty for empty input", "", ""),
	)

	It("is idempotent for generated part tokens", func() {
		faker := gofakeit.New(42)
		for i := 0; i < 500; i++ {
			raw := faker.Regex(`[0 ]{0,3}[A-Za-z0-9]{2,8}[- /.]?[A-Za-z0-9]{0,4}`)
			once := Canonical(raw)
			Expect(Canonical(once)).To(Equal(once), "input %q", raw)
		}
	})

	It("is deterministic", func() {
		Expect(Canonical("0VU01321-AC")).To(Equal(Canonical("0VU01321-AC")))
	})
})

var _ = Describe("Valid", func() {
	It("rejects empty canonical numbers", func() {
		Expect(Valid(Canonical("0000"))).To(BeFalse())
	})

	It("accepts non-empty canonical numbers", func() {
		Expect(Valid(Canonical("X1"))).To(BeTrue())
	})
})
