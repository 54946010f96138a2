package reconcile_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/reconcile"
)

func TestReconcile(t *testing.T) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Reconcile Suite")
}

type fakeSource struct {
	billed      []reconcile.BilledQuantity
	received    []reconcile.ReceivedQuantity
	billedErr   error
	receivedErr error
	transcodes  []string
}

func (f *fakeSource) BilledQuantities(context.Context) ([]reconcile.BilledQuantity, error) {
	return f.billed, f.billedErr
}

func (f *fakeSource) ReceivedQuantities(_ context.Context, transcode string) ([]reconcile.ReceivedQuantity, error) {
	f.transcodes = append(f.transcodes, transcode)
	if f.receivedErr != nil {
		return nil, f.receivedErr
	}
	var out []reconcile.ReceivedQuantity
	for _, r := range f.received {
		if r.Transcode == transcode {
			out = append(out, r)
		}
	}
	return out, nil
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func billedRow(supplier string, class invoice.Class, part, q string) reconcile.BilledQuantity {
	return reconcile.BilledQuantity{Supplier: supplier, Class: class, Part: part, Quantity: qty(q)}
}

func receivedRow(supplier, code, part, q string) reconcile.ReceivedQuantity {
	return reconcile.ReceivedQuantity{Supplier: supplier, Transcode: code, Part: part, Quantity: qty(q)}
}

func summarize(rows []reconcile.Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Part+" "+r.Billed.String()+" "+r.Received.String()+" "+r.Variance.String())
	}
	return out
}

var _ = Describe("Engine", func() {
	var (
		source  *fakeSource
		engine  *reconcile.Engine
		variant reconcile.Variant
		opts    reconcile.Options
		report  *reconcile.Report
		err     error
		now     time.Time
	)

	BeforeEach(func() {
		now = time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
		source = &fakeSource{
			billed: []reconcile.BilledQuantity{
				billedRow("Mopar Canada", invoice.ClassChryslerCorp, "X1", "10"),
				billedRow("FCA Canada / Mopar", invoice.ClassChryslerCorp, "X1", "4"),
				billedRow("Mopar Canada Parts", invoice.ClassGeneral, "Y2", "2"),
				billedRow("NAPA Port Kells", invoice.ClassGeneral, "N1", "3"),
				billedRow("Lordco Auto Parts", invoice.ClassGeneral, "L1", "6"),
				billedRow("Lordco Auto Parts", invoice.ClassGeneral, "", "9"),
				billedRow("Maple Ridge Chrysler", invoice.ClassSelf, "S1", "7"),
			},
			received: []reconcile.ReceivedQuantity{
				receivedRow("Mopar Canada / FCA", "R", "X1", "11"),
				receivedRow("Mopar Canada / FCA", "R", "Z9", "5"),
				receivedRow("Mopar Canada / FCA", "R", "Y2", "2"),
				receivedRow("Manual / External Supplier", "O", "N1", "1"),
				receivedRow("Lordco", "O", "L1", "2"),
				receivedRow("Lordco", "O", "L2", "4"),
				receivedRow("Manual / External Supplier", "O", "", "8"),
			},
		}
		engine = reconcile.NewEngine(source, func() time.Time { return now })
		variant = reconcile.VariantFCA
		opts = reconcile.Options{}
	})

	JustBeforeEach(func() {
		report, err = engine.Run(context.Background(), variant, opts)
	})

	When("running the FCA variant", func() {
		BeforeEach(func() {
			opts.Supplier = "lordco"
		})

		It("compares corporate billing against R receipts", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(source.transcodes).To(Equal([]string{"R"}))
			Expect(report.Variant).To(Equal(reconcile.VariantFCA))
			Expect(report.GeneratedAt).To(Equal(now))

			Expect(report.BilledMore).To(HaveLen(1))
			row := report.BilledMore[0]
			Expect(row.Part).To(Equal("X1"))
			Expect(row.Billed.String()).To(Equal("14"))
			Expect(row.Received.String()).To(Equal("11"))
			Expect(row.Variance.String()).To(Equal("3"))
		})

		It("lists parts received but never billed with zero billed", func() {
			Expect(report.ReceivedMore).To(HaveLen(1))
			row := report.ReceivedMore[0]
			Expect(row.Part).To(Equal("Z9"))
			Expect(row.Billed.IsZero()).To(BeTrue())
			Expect(row.Received.String()).To(Equal("5"))
			Expect(row.Variance.String()).To(Equal("-5"))
			Expect(row.Difference.String()).To(Equal("5"))
		})

		It("ignores the supplier filter", func() {
			Expect(report.Supplier).To(BeEmpty())
		})

		It("counts parts whose quantities agree", func() {
			Expect(report.Parts).To(Equal(3))
			Expect(report.Matched).To(Equal(1))
		})
	})

	When("running the manual variant", func() {
		BeforeEach(func() {
			variant = reconcile.VariantManual
		})

		It("excludes corporate and own-store suppliers and empty parts", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(source.transcodes).To(Equal([]string{"O"}))

			Expect(summarize(report.BilledMore)).To(Equal([]string{"L1 6 2 4", "N1 3 1 2"}))
			Expect(summarize(report.ReceivedMore)).To(Equal([]string{"L2 0 4 -4"}))
		})

		When("a supplier filter is given", func() {
			BeforeEach(func() {
				opts.Supplier = "lordco"
			})

			It("filters only the received side", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Supplier).To(Equal("lordco"))
				Expect(report.BilledMore).To(HaveLen(2))
				Expect(report.BilledMore[1].Part).To(Equal("N1"))
				Expect(report.BilledMore[1].Received.IsZero()).To(BeTrue())
				Expect(report.BilledMore[1].Variance.String()).To(Equal("3"))
			})

			When("the filter is scoped to billing as well", func() {
				BeforeEach(func() {
					opts.ScopeBilled = true
				})

				It("filters both sides", func() {
					Expect(err).NotTo(HaveOccurred())
					Expect(report.ScopeBilled).To(BeTrue())
					Expect(report.BilledMore).To(HaveLen(1))
					Expect(report.BilledMore[0].Part).To(Equal("L1"))
				})
			})
		})
	})

	When("the source fails", func() {
		BeforeEach(func() {
			source.receivedErr = errors.New("locked")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("locked")))
			Expect(report).To(BeNil())
		})
	})

	When("the variant is unknown", func() {
		BeforeEach(func() {
			variant = "weekly"
		})

		It("returns an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Compare", func() {
	It("orders by magnitude and breaks ties by part", func() {
		billed := map[string]decimal.Decimal{
			"B": qty("5"), "A": qty("5"), "C": qty("9"), "D": qty("1"),
		}
		received := map[string]decimal.Decimal{
			"E": qty("2"), "F": qty("7"), "G": qty("2"),
		}

		report := reconcile.Compare(billed, received, 0)

		var parts []string
		for _, r := range report.BilledMore {
			parts = append(parts, r.Part)
		}
		Expect(parts).To(Equal([]string{"C", "A", "B", "D"}))

		parts = nil
		for _, r := range report.ReceivedMore {
			parts = append(parts, r.Part)
		}
		Expect(parts).To(Equal([]string{"F", "E", "G"}))
	})

	It("caps each list at the limit", func() {
		billed := map[string]decimal.Decimal{"A": qty("3"), "B": qty("2"), "C": qty("1")}
		received := map[string]decimal.Decimal{"D": qty("3"), "E": qty("2")}

		report := reconcile.Compare(billed, received, 1)
		Expect(report.BilledMore).To(HaveLen(1))
		Expect(report.BilledMore[0].Part).To(Equal("A"))
		Expect(report.ReceivedMore).To(HaveLen(1))
		Expect(report.ReceivedMore[0].Part).To(Equal("D"))
	})

	It("keeps exact decimal differences", func() {
		report := reconcile.Compare(
			map[string]decimal.Decimal{"A": qty("0.3")},
			map[string]decimal.Decimal{"A": qty("0.1").Add(qty("0.2"))},
			0,
		)
		Expect(report.BilledMore).To(BeEmpty())
		Expect(report.ReceivedMore).To(BeEmpty())
		Expect(report.Matched).To(Equal(1))
	})
})

var _ = Describe("ParseVariant", func() {
	It("defaults to fca", func() {
		Expect(reconcile.ParseVariant("")).To(Equal(reconcile.VariantFCA))
	})

	It("accepts any case", func() {
		Expect(reconcile.ParseVariant("Manual")).To(Equal(reconcile.VariantManual))
	})

	It("rejects unknown names", func() {
		_, err := reconcile.ParseVariant("weekly")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("rendering", func() {
	var report *reconcile.Report

	BeforeEach(func() {
		report = &reconcile.Report{
			Variant:      reconcile.VariantManual,
			Supplier:     "lordco",
			BilledMore:   []reconcile.Row{{Part: "X1", Billed: qty("14"), Received: qty("11"), Variance: qty("3"), Difference: qty("3")}},
			ReceivedMore: []reconcile.Row{},
		}
	})

	It("writes text tables", func() {
		var buf bytes.Buffer
		Expect(reconcile.WriteText(&buf, report)).To(Succeed())

		out := buf.String()
		Expect(out).To(ContainSubstring("Supplier filter: lordco (received side)"))
		Expect(out).To(ContainSubstring("Billed more than received"))
		Expect(out).To(MatchRegexp(`X1\s+14\.00\s+11\.00\s+3\.00`))
		Expect(out).To(ContainSubstring("(none)"))
	})

	It("writes JSON", func() {
		var buf bytes.Buffer
		Expect(reconcile.WriteJSON(&buf, report)).To(Succeed())

		var decoded map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &decoded)).To(Succeed())
		Expect(decoded["variant"]).To(Equal("manual"))
		rows := decoded["billed_more"].([]any)
		Expect(rows[0].(map[string]any)["variance"]).To(Equal("3"))
		Expect(rows[0].(map[string]any)["difference"]).To(Equal("3"))
	})

	It("writes a workbook with one sheet per list", func() {
		var buf bytes.Buffer
		Expect(reconcile.WriteXLSX(&buf, report)).To(Succeed())

		f, err := excelize.OpenReader(&buf)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		Expect(f.GetSheetList()).To(Equal([]string{"Billed more", "Received more"}))
		rows, err := f.GetRows("Billed more")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(2))
		Expect(rows[1]).To(Equal([]string{"X1", "14", "11", "3"}))
	})
})
