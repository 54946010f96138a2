// Package tally holds the row accounting and lenient number parsing shared by
// the invoice extractor and the receipt importer. Both turn untrusted external
// rows into records, keep going past bad rows and report what they dropped.
package tally

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Issue describes one row or field that could not be used as-is.
type Issue struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}

func (i Issue) Error() string {
	return fmt.Sprintf("row %d, field %s: %s", i.Row, i.Field, i.Message)
}

// Result counts rows seen, accepted and skipped during a run.
type Result struct {
	Total    int     `json:"total"`
	Accepted int     `json:"accepted"`
	Skipped  int     `json:"skipped"`
	Flagged  int     `json:"flagged"`
	Issues   []Issue `json:"issues,omitempty"`
}

// Seen records that a row was read.
func (r *Result) Seen() {
	r.Total++
}

// Accept records a row that produced a record.
func (r *Result) Accept() {
	r.Accepted++
}

// Skip records a row that was dropped.
func (r *Result) Skip(row int, field, message, raw string) {
	r.Skipped++
	r.Issues = append(r.Issues, Issue{Row: row, Field: field, Message: message, Raw: raw})
}

// Flag records a field that was nulled while its row was kept.
func (r *Result) Flag(row int, field, message, raw string) {
	r.Flagged++
	r.Issues = append(r.Issues, Issue{Row: row, Field: field, Message: message, Raw: raw})
}

// Merge folds other into r.
func (r *Result) Merge(other Result) {
	r.Total += other.Total
	r.Accepted += other.Accepted
	r.Skipped += other.Skipped
	r.Flagged += other.Flagged
	r.Issues = append(r.Issues, other.Issues...)
}

// ParseDecimal parses a printed number. Thousands separators, currency marks
// and stray OCR punctuation are ignored; a leading or trailing minus and
// surrounding parentheses mark a negative value. ok is false when nothing
// usable remains.
func ParseDecimal(s string) (d decimal.Decimal, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	} else if strings.HasSuffix(s, "-") {
		negative = true
		s = s[:len(s)-1]
	}

	var b strings.Builder
	dots, digits := 0, 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digits++
			b.WriteRune(c)
		case c == '.':
			dots++
			b.WriteRune(c)
		case c == ',' || c == ' ' || c == '$' || c == '§' || c == '\'' || c == '"' || c == ':' || c == '*' || c == '_':
			// separators and common OCR debris
		case c == '-':
			// an inner minus means this is not one number
			return decimal.Zero, false
		default:
			if c > 0x7f || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
				return decimal.Zero, false
			}
		}
	}
	if digits == 0 || dots > 1 {
		return decimal.Zero, false
	}

	v := strings.TrimRight(b.String(), ".")
	if strings.HasPrefix(v, ".") {
		v = "0" + v
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// ParseNullDecimal wraps ParseDecimal for nullable record fields.
func ParseNullDecimal(s string) decimal.NullDecimal {
	d, ok := ParseDecimal(s)
	return decimal.NullDecimal{Decimal: d, Valid: ok}
}
