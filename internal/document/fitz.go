package document

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// FitzSource extracts page text with MuPDF.
type FitzSource struct{}

// PageTexts returns the cleaned text of each page.
func (f *FitzSource) PageTexts(pdfData []byte) ([]string, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for n := 0; n < doc.NumPage(); n++ {
		text, err := doc.Text(n)
		if err != nil {
			return nil, fmt.Errorf("reading text of page %d: %w", n+1, err)
		}
		pages = append(pages, CleanText(text))
	}
	return pages, nil
}
