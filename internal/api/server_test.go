package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/reconcile"
	"github.com/zombor/parts-recon/internal/store"
)

func TestAPI(t *testing.T) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "API Suite")
}

type fakeStore struct {
	suppliers []store.SupplierSummary
	invoices  []invoice.Invoice
	items     map[int64][]invoice.LineItem
	filters   []store.InvoiceFilter
	err       error
}

func (f *fakeStore) ListSuppliers(context.Context) ([]store.SupplierSummary, error) {
	return f.suppliers, f.err
}

func (f *fakeStore) ListInvoices(_ context.Context, filter store.InvoiceFilter) ([]invoice.Invoice, error) {
	f.filters = append(f.filters, filter)
	return f.invoices, f.err
}

func (f *fakeStore) GetInvoice(_ context.Context, id int64) (invoice.Invoice, error) {
	if f.err != nil {
		return invoice.Invoice{}, f.err
	}
	for _, inv := range f.invoices {
		if inv.ID == id {
			return inv, nil
		}
	}
	return invoice.Invoice{}, store.ErrNotFound
}

func (f *fakeStore) ListLineItems(_ context.Context, invoiceID int64) ([]invoice.LineItem, error) {
	return f.items[invoiceID], f.err
}

type fakeSource struct {
	billed   []reconcile.BilledQuantity
	received []reconcile.ReceivedQuantity
}

func (f *fakeSource) BilledQuantities(context.Context) ([]reconcile.BilledQuantity, error) {
	return f.billed, nil
}

func (f *fakeSource) ReceivedQuantities(_ context.Context, transcode string) ([]reconcile.ReceivedQuantity, error) {
	var out []reconcile.ReceivedQuantity
	for _, r := range f.received {
		if r.Transcode == transcode {
			out = append(out, r)
		}
	}
	return out, nil
}

type dirArtifacts struct{ dir string }

func (d dirArtifacts) Open(path string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.dir, filepath.Base(path)))
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var _ = Describe("Server", func() {
	var (
		st     *fakeStore
		source *fakeSource
		dir    string
		auth   BasicAuth
		server *Server
	)

	get := func(path string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for _, m := range mutate {
			m(req)
		}
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, v any) {
		ExpectWithOffset(1, json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed())
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "001_Mopar_Canada_123.pdf"), []byte("%PDF-1.4"), 0644)).To(Succeed())

		st = &fakeStore{
			suppliers: []store.SupplierSummary{
				{Supplier: invoice.Supplier{ID: 1, Name: "Mopar Canada"}, Invoices: 1, TotalBilled: qty("105.50")},
			},
			invoices: []invoice.Invoice{
				{
					ID:           7,
					SupplierID:   1,
					SupplierName: "Mopar Canada",
					Number:       "123",
					Subtotal:     decimal.NewNullDecimal(qty("100")),
					SourcePath:   filepath.Join(dir, "001_Mopar_Canada_123.pdf"),
					Charges:      map[string]decimal.Decimal{invoice.ChargeGST: qty("5.50")},
				},
				{ID: 8, SupplierID: 1, SupplierName: "Mopar Canada", Number: "124"},
			},
			items: map[int64][]invoice.LineItem{
				7: {{PartNumber: "68282388AB", Quantity: decimal.NewNullDecimal(qty("2"))}},
			},
		}
		source = &fakeSource{
			billed: []reconcile.BilledQuantity{
				{Supplier: "Mopar Canada", Class: invoice.ClassChryslerCorp, Part: "X1", Quantity: qty("14")},
				{Supplier: "NAPA", Class: invoice.ClassGeneral, Part: "N1", Quantity: qty("3")},
			},
			received: []reconcile.ReceivedQuantity{
				{Supplier: "Mopar Canada", Transcode: invoice.TranscodeFCA, Part: "X1", Quantity: qty("11")},
				{Supplier: "NAPA", Transcode: invoice.TranscodeManual, Part: "N1", Quantity: qty("1")},
			},
		}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		engine := reconcile.NewEngine(source, func() time.Time { return time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC) })
		server = NewServer(st, engine, dirArtifacts{dir: dir}, auth)
	})

	Describe("GET /api/suppliers", func() {
		It("lists suppliers with totals", func() {
			rec := get("/api/suppliers")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var got []map[string]any
			decode(rec, &got)
			Expect(got).To(HaveLen(1))
			Expect(got[0]).To(HaveKeyWithValue("invoice_count", BeNumerically("==", 1)))
			Expect(got[0]).To(HaveKeyWithValue("total_billed", "105.5"))
		})

		When("the store fails", func() {
			BeforeEach(func() {
				st.err = errors.New("boom")
			})

			It("returns 500", func() {
				Expect(get("/api/suppliers").Code).To(Equal(http.StatusInternalServerError))
			})
		})

		When("there are no suppliers", func() {
			BeforeEach(func() {
				st.suppliers = nil
			})

			It("returns an empty list", func() {
				rec := get("/api/suppliers")
				Expect(strings.TrimSpace(rec.Body.String())).To(Equal("[]"))
			})
		})
	})

	Describe("GET /api/invoices", func() {
		It("passes the filter through", func() {
			rec := get("/api/invoices?number=123&supplier_id=1&limit=5&last=true")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(st.filters).To(ConsistOf(store.InvoiceFilter{Number: "123", SupplierID: 1, Limit: 5, Last: true}))
		})

		It("rejects a bad limit", func() {
			Expect(get("/api/invoices?limit=many").Code).To(Equal(http.StatusBadRequest))
			Expect(get("/api/invoices?limit=-1").Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a bad last flag", func() {
			Expect(get("/api/invoices?last=maybe").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/invoices/{id}", func() {
		It("returns the invoice", func() {
			rec := get("/api/invoices/7")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var got invoice.Invoice
			decode(rec, &got)
			Expect(got.Number).To(Equal("123"))
		})

		It("returns 404 for an unknown invoice", func() {
			Expect(get("/api/invoices/99").Code).To(Equal(http.StatusNotFound))
		})

		It("returns 400 for a malformed id", func() {
			Expect(get("/api/invoices/abc").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/invoices/{id}/lines", func() {
		It("returns the line items", func() {
			rec := get("/api/invoices/7/lines")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var got []invoice.LineItem
			decode(rec, &got)
			Expect(got).To(HaveLen(1))
			Expect(got[0].PartNumber).To(Equal("68282388AB"))
		})

		It("returns an empty list for an invoice without lines", func() {
			rec := get("/api/invoices/8/lines")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(strings.TrimSpace(rec.Body.String())).To(Equal("[]"))
		})

		It("returns 404 for an unknown invoice", func() {
			Expect(get("/api/invoices/99/lines").Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/invoices/{id}/coding", func() {
		It("returns the GL distribution", func() {
			rec := get("/api/invoices/7/coding")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var got codingResponse
			decode(rec, &got)
			Expect(got.InvoiceID).To(BeEquivalentTo(7))
			Expect(got.Lines).To(HaveLen(4))
			Expect(got.Lines[0].Account).To(Equal(invoice.AccountParts))
			Expect(got.Lines[0].Amount.String()).To(Equal("100"))
			Expect(got.Lines[3].Account).To(Equal(invoice.AccountGST))
			Expect(got.Lines[3].Amount.String()).To(Equal("5.5"))
		})
	})

	Describe("GET /api/invoices/{id}/file", func() {
		It("streams the stored PDF", func() {
			rec := get("/api/invoices/7/file")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/pdf"))
			Expect(rec.Header().Get("Content-Disposition")).To(ContainSubstring("001_Mopar_Canada_123.pdf"))
			Expect(rec.Body.String()).To(Equal("%PDF-1.4"))
		})

		It("returns 404 when the invoice has no file", func() {
			Expect(get("/api/invoices/8/file").Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/reports/{variant}", func() {
		It("builds the FCA report", func() {
			rec := get("/api/reports/fca")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var got reconcile.Report
			decode(rec, &got)
			Expect(got.Variant).To(Equal(reconcile.VariantFCA))
			Expect(got.BilledMore).To(HaveLen(1))
			Expect(got.BilledMore[0].Part).To(Equal("X1"))
			Expect(got.BilledMore[0].Variance.String()).To(Equal("3"))
		})

		It("builds the manual report with a supplier filter", func() {
			rec := get("/api/reports/manual?supplier=napa&limit=10&scope_billed=true")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var got reconcile.Report
			decode(rec, &got)
			Expect(got.Supplier).To(Equal("napa"))
			Expect(got.ScopeBilled).To(BeTrue())
			Expect(got.BilledMore).To(HaveLen(1))
			Expect(got.BilledMore[0].Part).To(Equal("N1"))
		})

		It("rejects an unknown variant", func() {
			Expect(get("/api/reports/weekly").Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a bad scope flag", func() {
			Expect(get("/api/reports/manual?scope_billed=sometimes").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /metrics", func() {
		It("counts requests by route", func() {
			get("/api/suppliers")
			rec := get("/metrics")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`parts_recon_http_requests_total{code="200",route="GET /api/suppliers"} 1`))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req := httptest.NewRequest(http.MethodOptions, "/api/suppliers", nil)
			req.Header.Set("Origin", "http://example.test")
			req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)

			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	When("basic auth is configured", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "parts", Password: "secret"}
		})

		It("rejects missing credentials", func() {
			rec := get("/api/suppliers")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Header().Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("rejects wrong credentials", func() {
			rec := get("/api/suppliers", func(r *http.Request) { r.SetBasicAuth("parts", "nope") })
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the configured credentials", func() {
			rec := get("/api/suppliers", func(r *http.Request) { r.SetBasicAuth("parts", "secret") })
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("protects the metrics endpoint", func() {
			Expect(get("/metrics").Code).To(Equal(http.StatusUnauthorized))
		})
	})
})
