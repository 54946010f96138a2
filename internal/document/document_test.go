package document

import (
	"bytes"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/parts-recon/internal/document/documenttest"
)

func TestDocument(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Document Suite")
}

var _ = Describe("CleanText", func() {
	It("folds ligatures", func() {
		Expect(CleanText("ﬁlter")).To(Equal("filter"))
	})

	It("folds fullwidth digits", func() {
		Expect(CleanText("０６５")).To(Equal("065"))
	})

	It("normalizes dashes", func() {
		Expect(CleanText("397–190218")).To(Equal("397-190218"))
	})

	It("normalizes line endings and trailing spaces", func() {
		Expect(CleanText("a  \r\nb\rc")).To(Equal("a\nb\nc"))
	})
})

var _ = Describe("NewTextSource", func() {
	It("defaults to MuPDF", func() {
		src, err := NewTextSource("")
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(BeAssignableToTypeOf(&FitzSource{}))
	})

	It("returns the row engine", func() {
		src, err := NewTextSource(EngineRows)
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(BeAssignableToTypeOf(&RowSource{}))
	})

	It("rejects unknown engines", func() {
		_, err := NewTextSource("tesseract")
		Expect(err).To(MatchError(ContainSubstring("unknown text engine")))
	})
})

var _ = Describe("TextSource implementations", func() {
	var pdfData []byte

	BeforeEach(func() {
		pdfData = documenttest.BuildPDF(
			"NAPA PORT KELLS\nINVOICE NUMBER 397-190129",
			"CONTINUED\nBRAKE PAD SET",
		)
	})

	for _, engine := range []Engine{EngineFitz, EngineRows} {
		engine := engine

		When("reading with "+string(engine), func() {
			var (
				pages []string
				err   error
			)

			JustBeforeEach(func() {
				src, srcErr := NewTextSource(engine)
				Expect(srcErr).NotTo(HaveOccurred())
				pages, err = src.PageTexts(pdfData)
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns one text per page", func() {
				Expect(pages).To(HaveLen(2))
			})

			It("keeps page order", func() {
				Expect(pages[0]).To(ContainSubstring("397-190129"))
				Expect(pages[1]).To(ContainSubstring("BRAKE"))
			})

			When("the data is not a PDF", func() {
				BeforeEach(func() {
					pdfData = []byte("not a pdf")
				})

				It("returns an error", func() {
					Expect(err).To(HaveOccurred())
				})
			})
		})
	}
})

var _ = Describe("WriteSubset", func() {
	var (
		src   *bytes.Reader
		out   bytes.Buffer
		first int
		last  int
		err   error
	)

	BeforeEach(func() {
		src = bytes.NewReader(documenttest.BuildPDF("page one", "page two", "page three"))
		out.Reset()
		first, last = 2, 3
	})

	JustBeforeEach(func() {
		err = WriteSubset(&out, src, first, last)
	})

	It("should not return an error", func() {
		Expect(err).NotTo(HaveOccurred())
	})

	It("writes only the selected pages", func() {
		n, countErr := PageCount(bytes.NewReader(out.Bytes()))
		Expect(countErr).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
	})

	When("a single page is selected", func() {
		BeforeEach(func() {
			first, last = 1, 1
		})

		It("writes one page", func() {
			n, countErr := PageCount(bytes.NewReader(out.Bytes()))
			Expect(countErr).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})
	})

	When("the range is inverted", func() {
		BeforeEach(func() {
			first, last = 3, 2
		})

		It("returns an error", func() {
			Expect(err).To(MatchError(ContainSubstring("invalid page range")))
		})
	})
})
