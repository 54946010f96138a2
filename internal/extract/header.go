package extract

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/tally"
)

// locator finds a field value in the full invoice text. It returns "" when
// the pattern does not apply.
type locator func(text string) string

func groupLocator(re *regexp.Regexp, group int, clean func(string) string) locator {
	return func(text string) string {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return ""
		}
		if clean == nil {
			return strings.TrimSpace(m[group])
		}
		return clean(m[group])
	}
}

var (
	branchLineRe = regexp.MustCompile(`(\d{3})\s*-?\s*(\d{6,})`)

	// invoiceNumberLocators are tried in order; the first hit wins.
	invoiceNumberLocators = []locator{
		groupLocator(regexp.MustCompile(`(?i)PAYMENTREF:\s*([0-9]{4,})\s+NUMBER:\s*([0-9]{4,})\s+DATE:\s*(\d{4}-\d{2}-\d{2})`), 2, cleanInvoiceToken),
		groupLocator(regexp.MustCompile(`(?i)TERMS\s*:([0-9]{4,})\s+([0-9]{4,})\s+(\d{4}-\d{2}-\d{2})`), 2, cleanInvoiceToken),
		groupLocator(regexp.MustCompile(`(?i)INVOICE\s*([0-9]{4,})\s+([0-9]{4,})\s+(\d{4}-\d{2}-\d{2})`), 2, cleanInvoiceToken),
		groupLocator(regexp.MustCompile(`(?i)\bINVOICE\s+NUMBER[:\s]+([A-Z0-9-]+)`), 1, cleanInvoiceToken),
		groupLocator(regexp.MustCompile(`(?i)\bInvoice\s*:\s*([0-9]{6,})`), 1, cleanInvoiceToken),
		groupLocator(regexp.MustCompile(`(?i)\b\w*oice\s*#\s*([0-9]{6,})`), 1, cleanInvoiceToken),
		func(text string) string {
			for _, line := range strings.Split(text, "\n") {
				if !strings.Contains(strings.ToLower(line), "invoice") {
					continue
				}
				if m := branchLineRe.FindStringSubmatch(line); m != nil {
					return m[1] + "-" + m[2]
				}
			}
			return ""
		},
		groupLocator(regexp.MustCompile(`\b(\d{3}-\d{6,})\b`), 1, nil),
	}

	dateLocators = []struct {
		re    *regexp.Regexp
		fuzzy bool
	}{
		{regexp.MustCompile(`(?i)INVOICE\s+DATE[:\s]+([A-Za-z0-9,/\- ]+)`), true},
		{regexp.MustCompile(`(?i)TERMS\s*:[0-9]{4,}\s+[0-9]{4,}\s+(\d{4}-\d{2}-\d{2})`), false},
		{regexp.MustCompile(`(?i)PAYMENTREF:\s*[0-9]{4,}\s+NUMBER:\s*[0-9]{4,}\s+DATE:\s*(\d{4}-\d{2}-\d{2})`), false},
		{regexp.MustCompile(`(?i)INVOICE\s*[0-9]{4,}\s+[0-9]{4,}\s+(\d{4}-\d{2}-\d{2})`), false},
		{regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{2,4})`), true},
		{regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`), true},
	}

	poLocators = []locator{
		groupLocator(regexp.MustCompile(`(?i)\bPO\s*(?:NO|NUMBER|#)?[:\s]+([A-Z0-9-]+)`), 1, cleanPO),
		groupLocator(regexp.MustCompile(`(?i)\bP\.?O\.?\s*#\s*([A-Z0-9-]+)`), 1, cleanPO),
	}
)

// cleanPO rejects the BOX of a "PO BOX" address line.
func cleanPO(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "BOX") {
		return ""
	}
	return v
}

func firstHit(text string, locators []locator) string {
	for _, loc := range locators {
		if v := loc(text); v != "" {
			return v
		}
	}
	return ""
}

var (
	trailingJunkRe = regexp.MustCompile(`[^\w-]+$`)
	nonBranchRe    = regexp.MustCompile(`[^0-9-]`)
	digitRunRe     = regexp.MustCompile(`\d{3,}`)
)

// cleanInvoiceToken keeps branch-number tokens like 397-190129 whole and
// reduces anything else to its first run of three or more digits, so that
// 258284PARTSOURCE becomes 258284.
func cleanInvoiceToken(val string) string {
	val = trailingJunkRe.ReplaceAllString(strings.TrimSpace(val), "")
	if strings.Contains(val, "-") {
		return nonBranchRe.ReplaceAllString(val, "")
	}
	if m := digitRunRe.FindString(val); m != "" {
		return m
	}
	return val
}

var dateForms = []struct {
	re      *regexp.Regexp
	layouts []string
}{
	{regexp.MustCompile(`\d{4}-\d{1,2}-\d{1,2}`), []string{"2006-1-2"}},
	{regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}`), []string{"1/2/2006", "1/2/06"}},
	{regexp.MustCompile(`(?i)\b[A-Z]{3,9}\.?\s+\d{1,2},?\s+\d{4}`), []string{"January 2, 2006", "January 2 2006", "Jan 2, 2006", "Jan 2 2006"}},
	{regexp.MustCompile(`(?i)\b\d{1,2}[- ][A-Z]{3}[- ]\d{2,4}`), []string{"2-Jan-2006", "2-Jan-06", "2 Jan 2006", "2 Jan 06"}},
}

// parseDate finds the first date in s. With fuzzy set any surrounding text is
// ignored; otherwise s must be exactly one date.
func parseDate(s string, fuzzy bool) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, form := range dateForms {
		cand := s
		if fuzzy {
			cand = form.re.FindString(s)
			if cand == "" {
				continue
			}
		}
		cand = strings.Replace(cand, ".", "", 1)
		for _, layout := range form.layouts {
			if t, err := time.Parse(layout, cand); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// normalizeYear undoes the OCR slip that turns 2025 into 2035: a year more
// than one ahead of now whose decade-earlier twin is within five years of
// now is moved back ten years.
func normalizeYear(t, now time.Time) time.Time {
	y := t.Year()
	if y > now.Year()+1 && y-10 >= 2000 {
		d := y - 10 - now.Year()
		if d < 0 {
			d = -d
		}
		if d <= 5 {
			return t.AddDate(-10, 0, 0)
		}
	}
	return t
}

func findDate(text string, now time.Time) string {
	for _, loc := range dateLocators {
		m := loc.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if t, ok := parseDate(m[1], loc.fuzzy); ok {
			return normalizeYear(t, now).Format("2006-01-02")
		}
		if !loc.fuzzy {
			return m[1]
		}
	}
	return ""
}

var (
	spaceRunRe = regexp.MustCompile(`\s+`)
	subtotalRe = regexp.MustCompile(`(?i)\bSUB[- ]?TOTAL\b.*?(\d[\d,]*\.\d{2})`)
	moneyRe    = regexp.MustCompile(`\d[\d,]*\.\d{2}`)
	totalRe    = regexp.MustCompile(`(?i)(?:^|\s)TOTAL\b[^0-9]*(\d[\d,]*\.\d{2})`)
	taxRes     = map[string]*regexp.Regexp{
		invoice.ChargeGST: regexp.MustCompile(`(?i)GST[^0-9]*(\d[\d,]*\.\d{2})`),
		invoice.ChargePST: regexp.MustCompile(`(?i)PST[^0-9]*(\d[\d,]*\.\d{2})`),
		invoice.ChargeHST: regexp.MustCompile(`(?i)HST[^0-9]*(\d[\d,]*\.\d{2})`),
	}
)

// findTotals reads the subtotal, printed taxes and total. The last TOTAL
// line wins; weight totals are ignored.
func findTotals(lines []string, h *Header) {
	for _, line := range lines {
		clean := strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
		up := strings.ToUpper(clean)

		if !h.Subtotal.Valid {
			if m := subtotalRe.FindStringSubmatch(clean); m != nil {
				h.Subtotal = tally.ParseNullDecimal(m[1])
			} else if strings.Contains(up, "PARTS SALE") {
				if m := moneyRe.FindString(clean); m != "" {
					h.Subtotal = tally.ParseNullDecimal(m)
				}
			}
		}

		for code, re := range taxRes {
			if !strings.Contains(up, strings.ToUpper(code)) {
				continue
			}
			if m := re.FindStringSubmatch(clean); m != nil {
				if d, ok := tally.ParseDecimal(m[1]); ok {
					h.Charges[code] = d
				}
			}
		}

		if strings.Contains(up, "TOTAL WGT") || strings.Contains(up, "TOTAL WT") {
			continue
		}
		if m := totalRe.FindStringSubmatch(clean); m != nil {
			if d, ok := tally.ParseDecimal(m[1]); ok {
				h.Total = decimal.NewNullDecimal(d)
			}
		}
	}
}

func genericHeader(text string, lines []string, h *Header, opts Options) {
	h.InvoiceNumber = firstHit(text, invoiceNumberLocators)
	h.InvoiceDate = findDate(text, opts.now())
	h.PONumber = firstHit(text, poLocators)
	findTotals(lines, h)
}

var (
	headerJunk = []string{
		"MERCHANDISE", "RETURN POLICY", "RETURNS", "PAYMENT USING", "TENDER",
		"INCREMENT", "CHECKED AND RECEIVED", "TOTAL", "GST", "PST", "HST",
	}
	companyTokens = []string{"INC", "LTD", "LIMITED", "CORP", "COMPANY", "TIRE", "CHRYSLER"}
)

// guessSupplier picks the most letterhead-like line above the bill-to or
// ship-to block, scoring by the share of uppercase letters with a bonus for
// company suffixes.
func guessSupplier(lines []string) string {
	best, bestScore := "", 0.0
	for i, line := range lines {
		if i >= 40 {
			break
		}
		up := strings.ToUpper(line)
		if strings.Contains(up, "SHIP") || strings.Contains(up, "BILL TO") || strings.Contains(up, "BILL  TO") || strings.Contains(up, "CUSTOMER") {
			break
		}
		line = strings.TrimSpace(line)
		if len(line) < 4 || containsAny(up, headerJunk) {
			continue
		}

		upper := 0
		for _, r := range line {
			if unicode.IsUpper(r) {
				upper++
			}
		}
		score := float64(upper) / float64(len([]rune(line)))
		if containsAny(up, companyTokens) {
			score += 0.2
		}
		if score > 0.5 && score > bestScore {
			best, bestScore = line, score
		}
	}
	return best
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
