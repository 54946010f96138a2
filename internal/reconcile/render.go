package reconcile

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/xuri/excelize/v2"
)

const (
	billedMoreTitle   = "Billed more than received (possible outstanding)"
	receivedMoreTitle = "Received more than billed (possible over-receipt / mismatch)"
)

// WriteText renders the report as two aligned tables.
func WriteText(w io.Writer, r *Report) error {
	if r.Supplier != "" && r.Variant == VariantManual {
		scope := "received side"
		if r.ScopeBilled {
			scope = "billed and received sides"
		}
		if _, err := fmt.Fprintf(w, "Supplier filter: %s (%s)\n", r.Supplier, scope); err != nil {
			return err
		}
	}
	if err := writeSection(w, billedMoreTitle, r.BilledMore); err != nil {
		return err
	}
	return writeSection(w, receivedMoreTitle, r.ReceivedMore)
}

func writeSection(w io.Writer, title string, rows []Row) error {
	fmt.Fprintf(w, "\n%s\n%s\n", title, strings.Repeat("-", len(title)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Part #\tBilled\tReceived\tDiff(b-r)\t")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n",
			row.Part,
			row.Billed.StringFixed(2),
			row.Received.StringFixed(2),
			row.Variance.StringFixed(2),
		)
	}
	if len(rows) == 0 {
		fmt.Fprintln(tw, "(none)\t\t\t\t")
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// WriteXLSX renders the report as a workbook with one sheet per list.
func WriteXLSX(w io.Writer, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	sheets := []struct {
		name string
		rows []Row
	}{
		{"Billed more", r.BilledMore},
		{"Received more", r.ReceivedMore},
	}
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return fmt.Errorf("naming sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return fmt.Errorf("adding sheet %s: %w", s.name, err)
		}

		if err := f.SetSheetRow(s.name, "A1", &[]interface{}{"Part #", "Billed", "Received", "Diff(b-r)"}); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		for n, row := range s.rows {
			cell, _ := excelize.CoordinatesToCellName(1, n+2)
			values := []interface{}{
				row.Part,
				row.Billed.InexactFloat64(),
				row.Received.InexactFloat64(),
				row.Variance.InexactFloat64(),
			}
			if err := f.SetSheetRow(s.name, cell, &values); err != nil {
				return fmt.Errorf("writing row %d: %w", n+2, err)
			}
		}
		_ = f.SetColWidth(s.name, "A", "A", 20)
		_ = f.SetColWidth(s.name, "B", "D", 12)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
