package extract

import (
	"github.com/zombor/parts-recon/internal/document"
	"github.com/zombor/parts-recon/internal/segment"
)

// Detector reads segmenting signals with the extraction rules: a supplier
// letterhead marks a start as well as a number label, and the invoice number
// is located the same way Extract would.
type Detector struct{}

// Detect implements segment.Detector.
func (Detector) Detect(page string) segment.Signals {
	text := document.CleanText(page)
	sig := segment.LabelDetector{}.Detect(text)

	rs, _, ok := defaultMatcher.Match(text)
	if ok {
		sig.Start = true
	}
	if ok && rs.Name == "fca" {
		sig.InvoiceNumber = fcaPageNumber(text)
	} else {
		sig.InvoiceNumber = firstHit(text, invoiceNumberLocators)
	}
	return sig
}

func fcaPageNumber(text string) string {
	if m := fcaInvoiceNumberRe.FindStringSubmatch(text); m != nil {
		return fcaNumber(m[1])
	}
	if m := fcaCreditNumberRe.FindStringSubmatch(text); m != nil {
		return fcaNumber(m[1])
	}
	return ""
}

// Segment splits page texts into invoice groups with a Detector.
func Segment(pages []string) []segment.Group {
	return segment.Split(pages, Detector{})
}

