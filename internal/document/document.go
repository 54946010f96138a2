// Package document reads the text layer of combined supplier PDFs and writes
// page ranges back out as standalone PDFs.
package document

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// TextSource returns the text of every page of a PDF, in page order.
type TextSource interface {
	PageTexts(pdfData []byte) ([]string, error)
}

// Engine names a TextSource implementation.
type Engine string

const (
	EngineFitz Engine = "fitz"
	EngineRows Engine = "rows"
)

// NewTextSource returns the TextSource for engine.
func NewTextSource(engine Engine) (TextSource, error) {
	switch engine {
	case EngineFitz, "":
		return &FitzSource{}, nil
	case EngineRows:
		return &RowSource{}, nil
	default:
		return nil, fmt.Errorf("unknown text engine %q (valid: fitz, rows)", engine)
	}
}

var ocrReplacer = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\u00a0", " ",
	"\u2013", "-",
	"\u2014", "-",
	"\u2212", "-",
	"\u2018", "'",
	"\u2019", "'",
	"\u201c", "\"",
	"\u201d", "\"",
	"\t", " ",
)

// CleanText folds compatibility characters (ligatures, fullwidth digits)
// produced by OCR text layers and normalizes line endings and dashes.
func CleanText(s string) string {
	s = norm.NFKC.String(s)
	s = ocrReplacer.Replace(s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.Join(lines, "\n")
}
