// Package segment splits the pages of a combined scan into contiguous groups,
// one group per supplier invoice.
package segment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Signals are the per-page cues used to find invoice boundaries.
type Signals struct {
	// InvoiceNumber is the invoice number printed on the page, if any.
	InvoiceNumber string
	// Start is set when the page carries an invoice header: a number
	// label, a letterhead or a credit memo title.
	Start bool
	// Labeled is set when the page prints an invoice or credit memo
	// number label.
	Labeled bool
	// Continuation is set when the page says it continues the previous one.
	Continuation bool
	// PageNumber is N from a printed "Page N of M", or 0.
	PageNumber int
}

// Detector reads Signals from one page of text.
type Detector interface {
	Detect(page string) Signals
}

// Group is a run of pages belonging to one invoice.
type Group struct {
	Index         int      `json:"index"`      // 1-based position in the document
	FirstPage     int      `json:"first_page"` // 1-based, inclusive
	LastPage      int      `json:"last_page"`  // 1-based, inclusive
	InvoiceNumber string   `json:"invoice_number,omitempty"`
	Pages         []string `json:"-"`
}

// PageCount returns the number of pages in the group.
func (g Group) PageCount() int {
	return g.LastPage - g.FirstPage + 1
}

// Text joins the group's pages.
func (g Group) Text() string {
	return strings.Join(g.Pages, "\n")
}

// Split partitions pages into contiguous groups. Pages before the first
// header stay with the first group, so a document with no headers at all
// becomes a single group. A page continuing the open invoice never starts
// a new group.
func Split(pages []string, detector Detector) []Group {
	if len(pages) == 0 {
		return nil
	}

	var (
		groups  []Group
		current = Group{FirstPage: 1}
		marked  bool
	)

	for i, text := range pages {
		sig := detector.Detect(text)

		if i > 0 && sig.Start && marked && !continues(sig, current.InvoiceNumber) {
			current.LastPage = i
			groups = append(groups, current)
			current = Group{FirstPage: i + 1}
		}

		if sig.Start {
			marked = true
		}
		if current.InvoiceNumber == "" && sig.InvoiceNumber != "" {
			current.InvoiceNumber = sig.InvoiceNumber
		}
		current.Pages = append(current.Pages, text)
	}

	current.LastPage = len(pages)
	groups = append(groups, current)

	for i := range groups {
		groups[i].Index = i + 1
	}
	return groups
}

// continues decides whether a page carrying a header still belongs to the
// open group. A different printed invoice number always starts a new group
// unless the page says "continued". A repeated letterhead with no number
// label and no number stays with the open group.
func continues(sig Signals, openNumber string) bool {
	if sig.Continuation {
		return true
	}
	if !sig.Labeled && sig.InvoiceNumber == "" {
		return true
	}
	if sig.InvoiceNumber != "" && openNumber != "" {
		return sig.InvoiceNumber == openNumber
	}
	return sig.PageNumber > 1
}

var (
	invoiceLabelRe = regexp.MustCompile(`(?i)\b(?:INVOICE|CREDIT\s+MEMO)\s*(?:NUMBER|NO\.?|#|:)`)
	continuedRe    = regexp.MustCompile(`(?i)\bCONTINUED\s+FROM\b|\(\s*CONTINUED\s*\)|\bCONT'D\b`)
	pageOfRe       = regexp.MustCompile(`(?i)\bPAGE\s*:?\s*(\d{1,3})\s*(?:OF|/)\s*(\d{1,3})\b`)
)

// LabelDetector finds headers from invoice number labels and page
// continuation markers alone.
type LabelDetector struct{}

// Detect implements Detector.
func (LabelDetector) Detect(page string) Signals {
	labeled := invoiceLabelRe.MatchString(page)
	return Signals{
		Start:        labeled,
		Labeled:      labeled,
		Continuation: continuedRe.MatchString(page),
		PageNumber:   PrintedPageNumber(page),
	}
}

// PrintedPageNumber returns N from the first "Page N of M" on the page, or 0.
func PrintedPageNumber(page string) int {
	m := pageOfRe.FindStringSubmatch(page)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9.-]+`)

// ArtifactName returns the file name for a group's PDF. The zero-padded
// index keeps names unique within a run; the same input always gets the
// same names.
func ArtifactName(index int, supplier, invoiceNumber string) string {
	parts := []string{fmt.Sprintf("%03d", index)}
	if s := sanitize(supplier); s != "" {
		parts = append(parts, s)
	}
	if n := sanitize(invoiceNumber); n != "" {
		parts = append(parts, n)
	} else {
		parts = append(parts, "invoice")
	}
	return strings.Join(parts, "_") + ".pdf"
}

func sanitize(s string) string {
	s = unsafeNameRe.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, "_.")
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}
