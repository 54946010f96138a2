package document

import (
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// WriteSubset writes pages first..last (1-based, inclusive) of src to w as a
// new PDF.
func WriteSubset(w io.Writer, src io.ReadSeeker, first, last int) error {
	if first < 1 || last < first {
		return fmt.Errorf("invalid page range %d-%d", first, last)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding source PDF: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages := []string{fmt.Sprintf("%d-%d", first, last)}
	if first == last {
		pages = []string{fmt.Sprintf("%d", first)}
	}
	if err := api.Trim(src, w, pages, conf); err != nil {
		return fmt.Errorf("trimming pages %s: %w", pages[0], err)
	}
	return nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(src io.ReadSeeker) (int, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding PDF: %w", err)
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(src, conf)
	if err != nil {
		return 0, fmt.Errorf("counting pages: %w", err)
	}
	return n, nil
}
