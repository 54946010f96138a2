// Package extract pulls header fields and line items out of the text of one
// supplier invoice. Rules are picked per supplier family by letterhead
// fingerprint, with a generic rule set for everything else. Extraction never
// fails: a field that cannot be read is left null and the row is kept.
package extract

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/parts-recon/internal/document"
	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/partnum"
	"github.com/zombor/parts-recon/internal/tally"
)

// Header holds the invoice-level fields. Empty strings and invalid
// NullDecimals mean the field was not found.
type Header struct {
	Supplier      string                     `json:"supplier,omitempty"`
	Class         invoice.Class              `json:"class,omitempty"`
	InvoiceNumber string                     `json:"invoice_number,omitempty"`
	InvoiceDate   string                     `json:"invoice_date,omitempty"`
	PONumber      string                     `json:"po_number,omitempty"`
	Subtotal      decimal.NullDecimal        `json:"subtotal"`
	Total         decimal.NullDecimal        `json:"total"`
	Charges       map[string]decimal.Decimal `json:"charges,omitempty"`
	DocumentType  string                     `json:"document_type"`
	D2D           bool                       `json:"d2d"`
	D2DType       string                     `json:"d2d_type,omitempty"`
}

// Item is one scanned line item. PartNumber is canonical; RawPart is the
// token as printed.
type Item struct {
	Row         int                 `json:"row"`
	RawPart     string              `json:"raw_part,omitempty"`
	PartNumber  string              `json:"part_number"`
	Description string              `json:"description,omitempty"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	UnitPrice   decimal.NullDecimal `json:"unit_price"`
	LineTotal   decimal.NullDecimal `json:"line_total"`
	RawLine     string              `json:"raw_line"`
}

// Result is the outcome of extracting one invoice.
type Result struct {
	RuleSet string       `json:"rule_set"`
	Header  Header       `json:"header"`
	Items   []Item       `json:"items"`
	Tally   tally.Result `json:"tally"`
}

// Options tune an extraction run.
type Options struct {
	// Now anchors the OCR year correction. Defaults to time.Now.
	Now func() time.Time
	// Rules forces a rule set instead of fingerprint lookup.
	Rules *RuleSet
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// Extract reads the header and line items from the text of one invoice.
func Extract(text string, opts Options) *Result {
	text = document.CleanText(text)
	lines := strings.Split(text, "\n")

	rs, supplier := opts.Rules, ""
	if rs == nil {
		rs, supplier = SelectRules(text)
	}

	res := &Result{RuleSet: rs.Name}
	h := &res.Header
	h.Supplier = supplier
	h.DocumentType = invoice.DocumentInvoice
	h.Charges = map[string]decimal.Decimal{}

	if rs.Header != nil {
		rs.Header(lines, h, opts)
	} else {
		genericHeader(text, lines, h, opts)
	}
	if h.Supplier == "" {
		h.Supplier = guessSupplier(lines)
	}
	h.Class = invoice.Classify(h.Supplier)

	items := rs.Scan(lines, h, &res.Tally)
	items = dropSummaryRows(items, h, &res.Tally)
	for _, post := range rs.Post {
		items = post(lines, h, items)
	}

	for i := range items {
		items[i].PartNumber = partnum.Canonical(items[i].RawPart)
		res.Tally.Accept()
		if !items[i].Quantity.Valid {
			res.Tally.Flag(items[i].Row, "quantity", "no quantity found", items[i].RawLine)
		}
		if items[i].PartNumber == "" {
			res.Tally.Flag(items[i].Row, "part_number", "no part number found", items[i].RawLine)
		}
	}
	res.Items = items
	res.Tally.Total = res.Tally.Accepted + res.Tally.Skipped

	if !h.Subtotal.Valid {
		h.Subtotal = sumLineTotals(items)
	}
	return res
}

func sumLineTotals(items []Item) decimal.NullDecimal {
	sum := decimal.Zero
	for _, it := range items {
		if it.LineTotal.Valid {
			sum = sum.Add(it.LineTotal.Decimal)
		}
	}
	if !sum.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(sum.Round(2))
}

// Invoice converts the header to an invoice record for the given segment.
func (r *Result) Invoice(segmentIndex, pageCount int, sourcePath string) invoice.Invoice {
	h := r.Header
	return invoice.Invoice{
		SupplierName:  h.Supplier,
		SupplierClass: h.Class,
		Number:        h.InvoiceNumber,
		Date:          h.InvoiceDate,
		PONumber:      h.PONumber,
		Subtotal:      h.Subtotal,
		Total:         h.Total,
		PageCount:     pageCount,
		SourcePath:    sourcePath,
		SegmentIndex:  segmentIndex,
		DocumentType:  h.DocumentType,
		Charges:       h.Charges,
		D2D:           h.D2D,
		D2DType:       h.D2DType,
	}
}

// LineItems converts the scanned items to line item records.
func (r *Result) LineItems() []invoice.LineItem {
	out := make([]invoice.LineItem, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, invoice.LineItem{
			PartNumber:  it.PartNumber,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   it.LineTotal,
			RawLine:     it.RawLine,
		})
	}
	return out
}
