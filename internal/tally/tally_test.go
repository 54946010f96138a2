package tally

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTally(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tally Suite")
}

var _ = Describe("ParseDecimal", func() {
	DescribeTable("accepted inputs",
		func(raw, expected string) {
			d, ok := ParseDecimal(raw)
			Expect(ok).To(BeTrue())
			Expect(d.String()).To(Equal(expected))
		},
		Entry("plain integer", "14", "14"),
		Entry("money", "193.05", "193.05"),
		Entry("thousands separator", "1,930.50", "1930.5"),
		Entry("currency sign", "$ 25.42", "25.42"),
		Entry("OCR section sign", "§300.71", "300.71"),
		Entry("trailing minus", "200.00-", "-200"),
		Entry("leading minus", "-3", "-3"),
		Entry("parentheses", "(12.50)", "-12.5"),
		Entry("stray quote", "12.50'", "12.5"),
		Entry("leading dot", ".75", "0.75"),
		Entry("trailing dot", "5.", "5"),
	)

	DescribeTable("rejected inputs",
		func(raw string) {
			_, ok := ParseDecimal(raw)
			Expect(ok).To(BeFalse())
		},
		Entry("empty", ""),
		Entry("blank", "   "),
		Entry("letters", "abc"),
		Entry("two dots", "1.2.3"),
		Entry("inner minus", "397-190129"),
		Entry("part number", "VU01321AC"),
		Entry("punctuation only", "$,"),
	)
})

var _ = Describe("Result", func() {
	var result Result

	BeforeEach(func() {
		result = Result{}
		result.Seen()
		result.Accept()
		result.Seen()
		result.Skip(2, "TRANSQTY..", "quantity is not a number", "abc")
	})

	It("counts seen rows", func() {
		Expect(result.Total).To(Equal(2))
	})

	It("counts accepted rows", func() {
		Expect(result.Accepted).To(Equal(1))
	})

	It("counts skipped rows", func() {
		Expect(result.Skipped).To(Equal(1))
	})

	It("keeps the issue", func() {
		Expect(result.Issues).To(HaveLen(1))
		Expect(result.Issues[0].Error()).To(Equal("row 2, field TRANSQTY..: quantity is not a number"))
	})

	It("merges another result", func() {
		other := Result{Total: 3, Accepted: 2, Flagged: 1, Issues: []Issue{{Row: 1, Field: "qty"}}}
		result.Merge(other)
		Expect(result.Total).To(Equal(5))
		Expect(result.Accepted).To(Equal(3))
		Expect(result.Flagged).To(Equal(1))
		Expect(result.Issues).To(HaveLen(2))
	})
})
