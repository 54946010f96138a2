package invoice

import (
	"time"

	"github.com/shopspring/decimal"
)

// Class is a supplier classification used to pick billed lines for a report.
type Class string

const (
	ClassGeneral        Class = "general"
	ClassChryslerCorp   Class = "chrysler_corp"
	ClassChryslerDealer Class = "chrysler_dealer"
	ClassTire           Class = "tire"
	ClassSelf           Class = "self"
)

// Document types printed on supplier paperwork.
const (
	DocumentInvoice    = "invoice"
	DocumentCreditMemo = "credit_memo"
)

// Supplier is keyed by name; it is created the first time a name is seen.
type Supplier struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Class Class  `json:"class"`
}

// Invoice is one segment of a combined PDF.
type Invoice struct {
	ID            int64                      `json:"id"`
	SupplierID    int64                      `json:"supplier_id"`
	SupplierName  string                     `json:"supplier_name,omitempty"`
	SupplierClass Class                      `json:"supplier_class,omitempty"`
	Number        string                     `json:"invoice_number,omitempty"`
	Date          string                     `json:"invoice_date,omitempty"` // ISO 8601 when parsed
	PONumber      string                     `json:"po_number,omitempty"`
	Subtotal      decimal.NullDecimal        `json:"subtotal"`
	Total         decimal.NullDecimal        `json:"total"`
	PageCount     int                        `json:"page_count"`
	SourcePath    string                     `json:"source_path"`
	SegmentIndex  int                        `json:"segment_index"`
	DocumentType  string                     `json:"document_type"`
	Charges       map[string]decimal.Decimal `json:"charges,omitempty"`
	D2D           bool                       `json:"d2d"`
	D2DType       string                     `json:"d2d_type,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// LineItem is one billed row of an invoice.
type LineItem struct {
	ID          int64               `json:"id"`
	InvoiceID   int64               `json:"invoice_id"`
	PartNumber  string              `json:"part_number"` // canonical
	Description string              `json:"description,omitempty"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	UnitPrice   decimal.NullDecimal `json:"unit_price"`
	LineTotal   decimal.NullDecimal `json:"line_total"`
	RawLine     string              `json:"raw_line,omitempty"`
}

// ReceiptBatch groups the receipt lines written by one import run.
type ReceiptBatch struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	Filename   string    `json:"filename"`
	ImportedAt time.Time `json:"imported_at"`
}

// ReceiptLine is one received row from the dealer management system export.
// It is not linked to an Invoice.
type ReceiptLine struct {
	ID            int64           `json:"id"`
	BatchID       int64           `json:"batch_id"`
	SupplierName  string          `json:"supplier_name"`
	Transcode     string          `json:"transcode"`
	PartNumber    string          `json:"part_number"` // canonical
	Quantity      decimal.Decimal `json:"quantity"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	PostingDate   string          `json:"posting_date,omitempty"`
	RawJSON       string          `json:"raw_json,omitempty"`
}

// Transcodes carried by receiving rows.
const (
	TranscodeFCA    = "R"
	TranscodeManual = "O"
)
