package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/reconcile"
	"github.com/zombor/parts-recon/internal/store"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeStoreError maps store errors to a status code.
func writeStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, what+" not found", http.StatusNotFound)
		return
	}
	slog.Error("store error", "what", what, "error", err)
	writeError(w, "internal server error", http.StatusInternalServerError)
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b, nil
}

// invoiceFromPath loads the invoice named by the {id} path value. It writes
// the error response and returns false when that fails.
func (s *Server) invoiceFromPath(w http.ResponseWriter, r *http.Request) (invoice.Invoice, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, "invalid invoice id", http.StatusBadRequest)
		return invoice.Invoice{}, false
	}
	inv, err := s.store.GetInvoice(r.Context(), id)
	if err != nil {
		writeStoreError(w, "invoice", err)
		return invoice.Invoice{}, false
	}
	return inv, true
}

func (s *Server) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := s.store.ListSuppliers(r.Context())
	if err != nil {
		writeStoreError(w, "suppliers", err)
		return
	}
	if suppliers == nil {
		suppliers = []store.SupplierSummary{}
	}
	writeJSON(w, suppliers)
}

// handleListInvoices accepts number, supplier_id, limit and last.
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	supplierID, err := intParam(r, "supplier_id")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	last, err := boolParam(r, "last")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	invoices, err := s.store.ListInvoices(r.Context(), store.InvoiceFilter{
		Number:     r.URL.Query().Get("number"),
		SupplierID: int64(supplierID),
		Limit:      limit,
		Last:       last,
	})
	if err != nil {
		writeStoreError(w, "invoices", err)
		return
	}
	if invoices == nil {
		invoices = []invoice.Invoice{}
	}
	writeJSON(w, invoices)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.invoiceFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, inv)
}

func (s *Server) handleListLines(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.invoiceFromPath(w, r)
	if !ok {
		return
	}
	items, err := s.store.ListLineItems(r.Context(), inv.ID)
	if err != nil {
		writeStoreError(w, "line items", err)
		return
	}
	if items == nil {
		items = []invoice.LineItem{}
	}
	writeJSON(w, items)
}

type codingResponse struct {
	InvoiceID int64                `json:"invoice_id"`
	Number    string               `json:"invoice_number"`
	Supplier  string               `json:"supplier"`
	Lines     []invoice.CodingLine `json:"lines"`
}

func (s *Server) handleCoding(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.invoiceFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, codingResponse{
		InvoiceID: inv.ID,
		Number:    inv.Number,
		Supplier:  inv.SupplierName,
		Lines:     invoice.Coding(inv),
	})
}

func (s *Server) handleInvoiceFile(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.invoiceFromPath(w, r)
	if !ok {
		return
	}
	if inv.SourcePath == "" || s.artifacts == nil {
		writeError(w, "file not found", http.StatusNotFound)
		return
	}
	f, err := s.artifacts.Open(inv.SourcePath)
	if err != nil {
		slog.Warn("opening invoice file", "invoice", inv.ID, "path", inv.SourcePath, "error", err)
		writeError(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(inv.SourcePath)))
	if _, err := io.Copy(w, f); err != nil {
		slog.Error("error writing invoice file", "invoice", inv.ID, "error", err)
	}
}

// handleReport accepts supplier, limit and scope_billed.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	variant, err := reconcile.ParseVariant(r.PathValue("variant"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	scopeBilled, err := boolParam(r, "scope_billed")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := s.reports.Run(r.Context(), variant, reconcile.Options{
		Supplier:    r.URL.Query().Get("supplier"),
		ScopeBilled: scopeBilled,
		Limit:       limit,
	})
	if err != nil {
		slog.Error("error building report", "variant", variant, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}
