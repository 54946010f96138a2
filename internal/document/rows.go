package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// RowSource extracts page text in pure Go, rebuilding lines from text runs
// that share a baseline. It needs no MuPDF install.
type RowSource struct{}

// PageTexts returns the cleaned text of each page. Pages without content
// yield an empty string so page numbering is preserved.
func (r *RowSource) PageTexts(pdfData []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(pdfData), int64(len(pdfData)))
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for n := 1; n <= reader.NumPage(); n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("reading text of page %d: %w", n, err)
		}

		var b strings.Builder
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				words = append(words, word.S)
			}
			b.WriteString(strings.Join(words, " "))
			b.WriteString("\n")
		}
		pages = append(pages, CleanText(b.String()))
	}
	return pages, nil
}
