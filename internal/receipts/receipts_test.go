package receipts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/parts-recon/internal/invoice"
)

func TestReceipts(t *testing.T) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Receipts Suite")
}

type memoryStore struct {
	batches []invoice.ReceiptBatch
	lines   []invoice.ReceiptLine
	err     error
}

func (m *memoryStore) InsertReceiptBatch(_ context.Context, batch invoice.ReceiptBatch, lines []invoice.ReceiptLine) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	id := int64(len(m.batches) + 1)
	batch.ID = id
	m.batches = append(m.batches, batch)
	for _, l := range lines {
		l.BatchID = id
		m.lines = append(m.lines, l)
	}
	return id, nil
}

// received sums a part's quantity in one batch, or in all batches when
// batchID is zero.
func (m *memoryStore) received(batchID int64, part, code string) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range m.lines {
		if batchID != 0 && l.BatchID != batchID {
			continue
		}
		if l.PartNumber == part && l.Transcode == code {
			sum = sum.Add(l.Quantity)
		}
	}
	return sum
}

const exportCSV = "PARTNUMBER,TRANSCODE.,TRANSQTY..,INVOICENUMBER..,POSTINGDATE...\n" +
	"68282388AB,R,4,12345,11/07/2025 10:15:00 AM\n" +
	"0VU01321-AC, r ,2,12346,11/08/2025\n" +
	"ES3493RL,O,1,,not a date\n" +
	",R,3,12347,11/08/2025\n" +
	"5083285AA,R,,12347,11/08/2025\n" +
	"5083285AA,R,two,12347,11/08/2025\n"

var _ = Describe("Importer", func() {
	var (
		store    *memoryStore
		importer *Importer
		now      time.Time
		input    string
		opts     Options
		summary  *Summary
		err      error
	)

	BeforeEach(func() {
		store = &memoryStore{}
		now = time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
		importer = NewImporter(store, func() time.Time { return now })
		input = exportCSV
		opts = Options{Filename: "export.csv"}
	})

	JustBeforeEach(func() {
		summary, err = importer.Import(context.Background(), strings.NewReader(input), opts)
	})

	It("imports the usable rows", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(store.lines).To(HaveLen(3))

		first := store.lines[0]
		Expect(first.PartNumber).To(Equal("68282388AB"))
		Expect(first.Transcode).To(Equal("R"))
		Expect(first.Quantity.String()).To(Equal("4"))
		Expect(first.InvoiceNumber).To(Equal("12345"))
		Expect(first.PostingDate).To(Equal("2025-11-07"))
		Expect(first.SupplierName).To(Equal("Mopar Canada / FCA"))
		Expect(first.BatchID).To(Equal(int64(1)))
		Expect(first.RawJSON).To(ContainSubstring(`"PARTNUMBER":"68282388AB"`))
	})

	It("canonicalizes parts and normalizes the transcode", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(store.lines[1].PartNumber).To(Equal("VU01321AC"))
		Expect(store.lines[1].Transcode).To(Equal("R"))
		Expect(store.lines[1].PostingDate).To(Equal("2025-11-08"))
	})

	It("keeps an unparsable posting date as printed", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(store.lines[2].PostingDate).To(Equal("not a date"))
		Expect(store.lines[2].SupplierName).To(Equal("Manual / External Supplier"))
	})

	It("counts skipped rows", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Tally.Total).To(Equal(6))
		Expect(summary.Tally.Accepted).To(Equal(3))
		Expect(summary.Tally.Skipped).To(Equal(3))
		Expect(summary.Tally.Issues).To(HaveLen(3))
		Expect(summary.Tally.Issues[0].Row).To(Equal(5))
		Expect(summary.Tally.Issues[2].Raw).To(Equal("two"))
	})

	It("records the batch", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.BatchID).To(Equal(int64(1)))
		Expect(summary.RunID).NotTo(BeEmpty())
		Expect(store.batches).To(HaveLen(1))
		Expect(store.batches[0].Source).To(Equal(DefaultSource))
		Expect(store.batches[0].Filename).To(Equal("export.csv"))
		Expect(store.batches[0].ImportedAt).To(Equal(now))
	})

	It("doubles quantities when the same file is imported twice", func() {
		Expect(err).NotTo(HaveOccurred())
		_, err = importer.Import(context.Background(), strings.NewReader(input), opts)
		Expect(err).NotTo(HaveOccurred())

		Expect(store.batches).To(HaveLen(2))
		Expect(store.received(0, "68282388AB", "R").String()).To(Equal("8"))
	})

	When("the export carries a supplier column", func() {
		BeforeEach(func() {
			input = "\xef\xbb\xbfPARTNUMBER,TRANSCODE.,TRANSQTY..,INVOICENUMBER..,POSTINGDATE...,SUPPLIERNAME\n" +
				"ES3493RL,O,2,A1,11/08/2025,Lordco Parts\n" +
				"ES3494RL,O,1,A2,11/08/2025,\n"
		})

		It("uses it and falls back to the transcode bucket when blank", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(store.lines).To(HaveLen(2))
			Expect(store.lines[0].SupplierName).To(Equal("Lordco Parts"))
			Expect(store.lines[1].SupplierName).To(Equal("Manual / External Supplier"))
		})
	})

	When("transcodes are restricted", func() {
		BeforeEach(func() {
			opts.Transcodes = []string{"o"}
		})

		It("skips the other codes", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(store.lines).To(HaveLen(1))
			Expect(store.lines[0].PartNumber).To(Equal("ES3493RL"))
			Expect(summary.Tally.Skipped).To(Equal(5))
		})
	})

	When("a required column is missing", func() {
		BeforeEach(func() {
			input = "PART,TRANSCODE.,TRANSQTY..\nA1,R,1\n"
		})

		It("fails without writing a batch", func() {
			Expect(errors.Is(err, ErrMissingColumn)).To(BeTrue())
			Expect(store.batches).To(BeEmpty())
		})
	})

	When("the store fails", func() {
		BeforeEach(func() {
			store.err = errors.New("disk full")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("disk full")))
			Expect(summary).To(BeNil())
		})
	})

	When("the export is a workbook", func() {
		var path string

		BeforeEach(func() {
			f := excelize.NewFile()
			defer f.Close()
			Expect(f.SetSheetRow("Sheet1", "A1", &[]interface{}{
				ColumnPart, ColumnTranscode, ColumnQuantity, ColumnInvoiceNumber, ColumnPostingDate,
			})).To(Succeed())
			Expect(f.SetSheetRow("Sheet1", "A2", &[]interface{}{"68282388AB", "R", 3, "12345", "11/07/2025"})).To(Succeed())
			Expect(f.SetSheetRow("Sheet1", "A3", &[]interface{}{"5083285AA", "R", 1})).To(Succeed())

			path = filepath.Join(GinkgoT().TempDir(), "export.xlsx")
			Expect(f.SaveAs(path)).To(Succeed())
		})

		It("reads the first sheet", func() {
			s, err := importer.ImportFile(context.Background(), path, Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Tally.Accepted).To(Equal(2))
			Expect(s.Batch.Filename).To(Equal("export.xlsx"))

			Expect(s.BatchID).To(Equal(int64(2)))
			Expect(store.received(s.BatchID, "68282388AB", "R").String()).To(Equal("3"))
			Expect(store.received(s.BatchID, "5083285AA", "R").String()).To(Equal("1"))
		})
	})

	When("the file does not exist", func() {
		It("returns an error", func() {
			_, err := importer.ImportFile(context.Background(), filepath.Join(os.TempDir(), "missing-export.csv"), Options{})
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("NormalizePostingDate", func() {
	DescribeTable("layouts",
		func(raw, expected string) {
			Expect(NormalizePostingDate(raw)).To(Equal(expected))
		},
		Entry("date and time", "11/07/2025 3:04:05 PM", "2025-11-07"),
		Entry("date only", "11/07/2025", "2025-11-07"),
		Entry("single digit month", "1/7/2025", "2025-01-07"),
		Entry("unknown kept", " 2025.11.07 ", "2025.11.07"),
		Entry("empty", "", ""),
	)
})
