// Package store persists suppliers, invoices, line items and receiving
// records. Two backends implement Store: SQLStore over SQLite or PostgreSQL,
// and BoltStore over a single bbolt file.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/reconcile"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by InsertInvoice when duplicates are skipped
	// and the supplier already has an invoice with the same number.
	ErrDuplicate = errors.New("duplicate invoice")
	// ErrForeignLineItem is returned by InsertInvoice when a line item is
	// already attached to another invoice.
	ErrForeignLineItem = errors.New("line item belongs to another invoice")
)

// checkLineItem rejects an item attached to an invoice other than invoiceID.
func checkLineItem(it invoice.LineItem, invoiceID int64) error {
	if it.InvoiceID != 0 && it.InvoiceID != invoiceID {
		return fmt.Errorf("%w: item for invoice %d", ErrForeignLineItem, it.InvoiceID)
	}
	return nil
}

// Store is the persistence boundary for every command.
type Store interface {
	// InsertInvoice writes the invoice's supplier (created on first use), the
	// invoice and its line items in one transaction. The returned invoice
	// carries the assigned IDs. When any item fails nothing is written.
	InsertInvoice(ctx context.Context, inv invoice.Invoice, items []invoice.LineItem, opts InsertOptions) (invoice.Invoice, error)

	// InsertReceiptBatch writes a batch and its lines in one transaction and
	// returns the batch ID.
	InsertReceiptBatch(ctx context.Context, batch invoice.ReceiptBatch, lines []invoice.ReceiptLine) (int64, error)

	// BilledQuantities sums line item quantities per supplier and part.
	BilledQuantities(ctx context.Context) ([]reconcile.BilledQuantity, error)

	// ReceivedQuantities sums received quantities with the given transcode
	// per supplier name and part.
	ReceivedQuantities(ctx context.Context, transcode string) ([]reconcile.ReceivedQuantity, error)

	ListSuppliers(ctx context.Context) ([]SupplierSummary, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]invoice.Invoice, error)
	GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error)
	ListLineItems(ctx context.Context, invoiceID int64) ([]invoice.LineItem, error)
	ListReceiptLines(ctx context.Context, batchID int64) ([]invoice.ReceiptLine, error)

	Close() error
}

// InsertOptions controls InsertInvoice.
type InsertOptions struct {
	SkipDuplicates bool
}

// SupplierSummary is a supplier with its invoice count and billed total.
type SupplierSummary struct {
	invoice.Supplier
	Invoices    int             `json:"invoice_count"`
	TotalBilled decimal.Decimal `json:"total_billed"`
}

// InvoiceFilter narrows ListInvoices. Invoices are returned in insertion
// order; with Limit set, Last keeps the newest Limit invoices instead of the
// oldest.
type InvoiceFilter struct {
	Number     string
	SupplierID int64
	Limit      int
	Last       bool
}

// Open connects to the store named by dsn and brings its schema up to date.
//
//	bolt://path/to/file.db      bbolt
//	sqlite://path/to/file.db    SQLite
//	postgres://user@host/db     PostgreSQL
//	path/to/file.db             SQLite
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "bolt://"):
		return NewBoltStore(strings.TrimPrefix(dsn, "bolt://"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenSQL(ctx, DialectPostgres, dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return OpenSQL(ctx, DialectSQLite, strings.TrimPrefix(dsn, "sqlite://"))
	case dsn == "":
		return nil, fmt.Errorf("opening store: empty DSN")
	default:
		return OpenSQL(ctx, DialectSQLite, dsn)
	}
}

func sortedSummaries(byID map[int64]*SupplierSummary) []SupplierSummary {
	out := make([]SupplierSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sortSuppliers(out)
	return out
}

// window applies an InvoiceFilter's Limit and Last to invoices already in
// insertion order.
func window(invoices []invoice.Invoice, f InvoiceFilter) []invoice.Invoice {
	if f.Limit <= 0 || len(invoices) <= f.Limit {
		return invoices
	}
	if f.Last {
		return invoices[len(invoices)-f.Limit:]
	}
	return invoices[:f.Limit]
}

func supplierClass(inv invoice.Invoice) invoice.Class {
	if inv.SupplierClass != "" {
		return inv.SupplierClass
	}
	return invoice.Classify(inv.SupplierName)
}

func sortSuppliers(s []SupplierSummary) {
	sort.Slice(s, func(i, j int) bool {
		a, b := strings.ToLower(s[i].Name), strings.ToLower(s[j].Name)
		if a != b {
			return a < b
		}
		return s[i].ID < s[j].ID
	})
}

type billedKey struct {
	supplier string
	class    invoice.Class
	part     string
}

type receivedKey struct {
	supplier  string
	transcode string
	part      string
}

// quantities accumulates per-key sums in first-seen order.
type quantities[K comparable] struct {
	order []K
	sums  map[K]decimal.Decimal
}

func (q *quantities[K]) add(k K, d decimal.Decimal) {
	if q.sums == nil {
		q.sums = map[K]decimal.Decimal{}
	}
	if _, ok := q.sums[k]; !ok {
		q.order = append(q.order, k)
	}
	q.sums[k] = q.sums[k].Add(d)
}

func (q *quantities[K]) each(fn func(K, decimal.Decimal)) {
	for _, k := range q.order {
		fn(k, q.sums[k])
	}
}

func billedRows(q *quantities[billedKey]) []reconcile.BilledQuantity {
	out := make([]reconcile.BilledQuantity, 0, len(q.order))
	q.each(func(k billedKey, d decimal.Decimal) {
		out = append(out, reconcile.BilledQuantity{Supplier: k.supplier, Class: k.class, Part: k.part, Quantity: d})
	})
	return out
}

func receivedRows(q *quantities[receivedKey]) []reconcile.ReceivedQuantity {
	out := make([]reconcile.ReceivedQuantity, 0, len(q.order))
	q.each(func(k receivedKey, d decimal.Decimal) {
		out = append(out, reconcile.ReceivedQuantity{Supplier: k.supplier, Transcode: k.transcode, Part: k.part, Quantity: d})
	})
	return out
}
