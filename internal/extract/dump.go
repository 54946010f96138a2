package extract

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// DumpRow is one parsed line item as written to a debug CSV.
type DumpRow struct {
	Segment     int    `csv:"segment"`
	RuleSet     string `csv:"rule_set"`
	Supplier    string `csv:"supplier"`
	Invoice     string `csv:"invoice_number"`
	Row         int    `csv:"row"`
	RawPart     string `csv:"raw_part"`
	PartNumber  string `csv:"part_number"`
	Description string `csv:"description"`
	Quantity    string `csv:"quantity"`
	UnitPrice   string `csv:"unit_price"`
	LineTotal   string `csv:"line_total"`
	RawLine     string `csv:"raw_line"`
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// DumpRows flattens the items of r for segment into CSV rows.
func DumpRows(segment int, r *Result) []DumpRow {
	rows := make([]DumpRow, 0, len(r.Items))
	for _, it := range r.Items {
		rows = append(rows, DumpRow{
			Segment:     segment,
			RuleSet:     r.RuleSet,
			Supplier:    r.Header.Supplier,
			Invoice:     r.Header.InvoiceNumber,
			Row:         it.Row,
			RawPart:     it.RawPart,
			PartNumber:  it.PartNumber,
			Description: it.Description,
			Quantity:    nullString(it.Quantity),
			UnitPrice:   nullString(it.UnitPrice),
			LineTotal:   nullString(it.LineTotal),
			RawLine:     it.RawLine,
		})
	}
	return rows
}

// DumpLines writes rows as CSV with a header line.
func DumpLines(w io.Writer, rows []DumpRow) error {
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("writing line dump: %w", err)
	}
	return nil
}
