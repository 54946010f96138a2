package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/parts-recon/internal/tally"
)

var actionStops = []string{"INVOICE", "TOTAL", "SUBTOTAL", "SUB-TOTAL", "GST", "PST", "HST", "BILL TO", "SHIP TO"}

// actionDescriptions replaces each description with the first text-only line
// below the row carrying the part; Action Car & Truck prints the real
// description there.
func actionDescriptions(lines []string, _ *Header, items []Item) []Item {
	for i := range items {
		part := items[i].RawPart
		if part == "" {
			continue
		}
		base := -1
		for idx, line := range lines {
			if strings.Contains(line, part) {
				base = idx
				break
			}
		}
		if base < 0 {
			continue
		}
		for j := base + 1; j < len(lines); j++ {
			peek := strings.TrimSpace(lines[j])
			if peek == "" {
				continue
			}
			if !hasLetters(peek) || hasMoney(peek) || containsAny(strings.ToUpper(peek), actionStops) {
				break
			}
			items[i].Description = peek
			break
		}
	}
	return items
}

var (
	starsRe         = regexp.MustCompile(`\*+`)
	internetOrderRe = regexp.MustCompile(`(?i)\binternet\s+order\b`)
	methodTermsRe   = regexp.MustCompile(`(?i)\bmethod\s+date\s+terms\b.*`)
	leadingQtyRe    = regexp.MustCompile(`^\s*\d+\s+`)
	wordNumberRe    = regexp.MustCompile(`\b\d+\b`)
	nonAlnumRe      = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// normalizeLordcoDescription strips the order banner and terms header Lordco
// prints around descriptions, so "** Internet Order **TIE ROD END Method
// Date Terms" becomes "TIE ROD END".
func normalizeLordcoDescription(desc string) string {
	s := starsRe.ReplaceAllString(desc, " ")
	s = internetOrderRe.ReplaceAllString(s, " ")
	s = methodTermsRe.ReplaceAllString(s, "")
	s = leadingQtyRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func lordcoDescriptions(_ []string, _ *Header, items []Item) []Item {
	for i := range items {
		items[i].Description = normalizeLordcoDescription(items[i].Description)
	}
	return items
}

var lordcoHeaderTokens = []string{
	"INVOICE", "STATEMENT", "SUBTOTAL", "SUB-TOTAL", "TOTAL", "GST", "PST", "HST",
	"ACCOUNT", "CUSTOMER", "BILL TO", "SHIP TO", "MAPLE RIDGE", "WEB ORDER", "VIN",
	"REGISTRATION", "OW ID",
}

// lordcoPartTokens returns the mixed letter and digit tokens of a line, with
// punctuation removed.
func lordcoPartTokens(line string) []string {
	var out []string
	for _, tok := range strings.Fields(line) {
		clean := nonAlnumRe.ReplaceAllString(tok, "")
		if len(clean) >= 5 && hasLetters(clean) && strings.ContainsAny(clean, "0123456789") {
			out = append(out, clean)
		}
	}
	return out
}

// lordcoFallback rescans a Lordco invoice whose rows did not parse. Only
// mixed tokens printed at least twice on the invoice count as part numbers,
// which keeps VINs and order ids out.
func lordcoFallback(lines []string, h *Header, items []Item) []Item {
	if len(items) > 0 || (!h.Subtotal.Valid && !h.Total.Valid) {
		return items
	}

	counts := map[string]int{}
	for _, line := range lines {
		if containsAny(strings.ToUpper(line), lordcoHeaderTokens) {
			continue
		}
		for _, tok := range lordcoPartTokens(line) {
			counts[tok]++
		}
	}

	seenUnpriced := map[string]bool{}
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || containsAny(strings.ToUpper(line), lordcoHeaderTokens) {
			continue
		}
		var part string
		for _, tok := range lordcoPartTokens(line) {
			if counts[tok] >= 2 {
				part = tok
				break
			}
		}
		if part == "" {
			continue
		}

		row := i + 1
		itemLine := line
		money := priceRe.FindAllString(itemLine, -1)
		if len(money) == 0 && i+1 < len(lines) && moneyOnly(lines[i+1]) {
			next := strings.TrimSpace(lines[i+1])
			itemLine += " " + next
			money = priceRe.FindAllString(next, -1)
			i++
		}

		var total decimal.NullDecimal
		if len(money) > 0 {
			total = tally.ParseNullDecimal(money[len(money)-1])
		}
		if !total.Valid {
			if seenUnpriced[part] {
				continue
			}
			seenUnpriced[part] = true
		}

		desc := strings.ReplaceAll(itemLine, part, "")
		for _, m := range money {
			desc = strings.ReplaceAll(desc, m, "")
		}
		desc = strings.TrimSpace(wordNumberRe.ReplaceAllString(desc, ""))
		if len(desc) < 3 && i+1 < len(lines) {
			peek := strings.TrimSpace(lines[i+1])
			if hasLetters(peek) && !hasMoney(peek) && !containsAny(strings.ToUpper(peek), lordcoHeaderTokens) {
				desc = peek
				i++
			}
		}

		items = append(items, Item{
			Row:         row,
			RawPart:     part,
			Description: normalizeLordcoDescription(desc),
			LineTotal:   total,
			RawLine:     itemLine,
		})
	}
	return items
}
