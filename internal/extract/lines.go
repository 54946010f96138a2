package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/parts-recon/internal/tally"
)

var (
	lettersRe    = regexp.MustCompile(`[A-Za-z]`)
	priceRe      = regexp.MustCompile(`\d+\.\d{2}`)
	moneyTokenRe = regexp.MustCompile(`^\(?-?\$?\d[\d,]*\.\d{2}-?\)?$`)
	intTokenRe   = regexp.MustCompile(`^\d{1,4}$`)
	digitsRe     = regexp.MustCompile(`^\d+$`)
	partTokenRe  = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
)

var (
	candidateBlacklist = []string{
		"SUB-TOTAL", "SUBTOTAL", "GST", "PST", "HST", "TOTAL",
		"INVOICE NUMBER", "INVOICE DATE", "PAYMENT TERMS", "STORE #",
		"BILL TO", "SHIP TO", "WWW.", "PARTSOURCE.CA",
		"MERCHANDISE RETURNS", "RECEIVED BY (FULL NAME)",
	}
	// wrapStops end a run of wrapped description lines.
	wrapStops = append([]string{
		"INVOICE", "PAGE", "THANK", "CUSTOMER", "SIGNATURE", "ACCOUNT",
		"DESCRIPTION", "QTY", "TERMS", "REMIT", "CONTINUED",
	}, candidateBlacklist...)
)

func hasLetters(s string) bool { return lettersRe.MatchString(s) }
func hasMoney(s string) bool   { return priceRe.MatchString(s) }

func isCandidate(line string) bool {
	return hasLetters(line) && hasMoney(line) && !containsAny(strings.ToUpper(line), candidateBlacklist)
}

func moneyOnly(line string) bool {
	return hasMoney(line) && !hasLetters(line)
}

// isWrap reports whether line reads as the continuation of the description
// above it: text with no price and nothing that looks like a header or footer.
func isWrap(line string) bool {
	if !hasLetters(line) || hasMoney(line) {
		return false
	}
	return !containsAny(strings.ToUpper(line), wrapStops)
}

// scanGeneric walks candidate rows. A description line followed by a line
// holding only prices is merged into one row, and text-only lines directly
// under a row are appended to its description instead of becoming items.
func scanGeneric(lines []string, _ *Header, _ *tally.Result) []Item {
	var items []Item
	open := false
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			open = false
			continue
		}

		row := i + 1
		var raw string
		switch {
		case isCandidate(line):
			raw = line
		case hasLetters(line) && !hasMoney(line) && i+1 < len(lines) && moneyOnly(lines[i+1]):
			raw = line + " " + strings.TrimSpace(lines[i+1])
			i++
		case open && isWrap(line):
			stitch(&items[len(items)-1], line)
			continue
		default:
			open = false
			continue
		}

		items = append(items, parseRow(raw, row))
		open = true
	}
	return items
}

func stitch(it *Item, line string) {
	if it.Description == "" {
		it.Description = line
	} else {
		it.Description += " " + line
	}
	it.RawLine += "\n" + line
}

// parseRow splits one candidate row into part, description, quantity and
// prices. The last price is the line total and the one before it the unit
// price.
func parseRow(raw string, row int) Item {
	it := Item{Row: row, RawLine: raw}
	tokens := strings.Fields(raw)

	var moneyIdx []int
	for i, tok := range tokens {
		if moneyTokenRe.MatchString(tok) {
			moneyIdx = append(moneyIdx, i)
		}
	}
	firstMoney := len(tokens)
	if len(moneyIdx) > 0 {
		firstMoney = moneyIdx[0]
		it.LineTotal = tally.ParseNullDecimal(tokens[moneyIdx[len(moneyIdx)-1]])
		if len(moneyIdx) > 1 {
			it.UnitPrice = tally.ParseNullDecimal(tokens[moneyIdx[len(moneyIdx)-2]])
		}
	} else if prices := priceRe.FindAllString(raw, -1); len(prices) > 0 {
		it.LineTotal = tally.ParseNullDecimal(prices[len(prices)-1])
		if len(prices) > 1 {
			it.UnitPrice = tally.ParseNullDecimal(prices[len(prices)-2])
		}
	}

	partIdx := pickPartToken(tokens, firstMoney)
	if partIdx >= 0 {
		it.RawPart = tokens[partIdx]
	}

	qtyIdx := pickQuantity(tokens, firstMoney, partIdx, &it)

	start := 0
	if partIdx >= 0 {
		start = partIdx + 1
	}
	desc := describe(tokens, start, firstMoney, partIdx, qtyIdx)
	if desc == "" && partIdx > 0 {
		// part printed last: the description sits in front of it
		desc = describe(tokens, 0, partIdx, partIdx, qtyIdx)
	}
	it.Description = desc
	return it
}

func describe(tokens []string, from, to, partIdx, qtyIdx int) string {
	var desc []string
	for i := from; i < to; i++ {
		if i != qtyIdx && i != partIdx {
			desc = append(desc, tokens[i])
		}
	}
	return strings.Join(desc, " ")
}

// pickPartToken scores the tokens before the prices and returns the index of
// the most part-like one, or -1. A part token carries a digit, repeats on the
// line or mixes in letters.
func pickPartToken(tokens []string, firstMoney int) int {
	freq := map[string]int{}
	for _, tok := range tokens {
		freq[tok]++
	}

	best, bestScore := -1, 0
	for i := 0; i < firstMoney; i++ {
		tok := tokens[i]
		// short all-digit tokens are quantities or row numbers
		if digitsRe.MatchString(tok) && len(tok) < 6 {
			continue
		}
		if strings.Contains(tok, `"`) || !strings.ContainsAny(tok, "0123456789") || !partTokenRe.MatchString(tok) {
			continue
		}
		score := 1
		if freq[tok] > 1 {
			score += 2
		}
		if hasLetters(tok) {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

var maxQuantity = decimal.NewFromInt(10000)

// pickQuantity sets it.Quantity and returns the token index it came from, or
// -1 when the quantity was derived from the prices or not found. A printed
// integer that multiplies out to the line total wins, then a whole-number
// total over unit price, then an integer just left of the prices or at the
// start of the row.
func pickQuantity(tokens []string, firstMoney, partIdx int, it *Item) int {
	var ints []int
	for i := 0; i < firstMoney; i++ {
		if i != partIdx && intTokenRe.MatchString(tokens[i]) {
			ints = append(ints, i)
		}
	}

	pricesKnown := it.UnitPrice.Valid && it.LineTotal.Valid && !it.UnitPrice.Decimal.IsZero()
	if pricesKnown {
		for j := len(ints) - 1; j >= 0; j-- {
			q, _ := decimal.NewFromString(tokens[ints[j]])
			if q.Mul(it.UnitPrice.Decimal).Equal(it.LineTotal.Decimal) {
				it.Quantity = decimal.NewNullDecimal(q)
				return ints[j]
			}
		}
		q := it.LineTotal.Decimal.Div(it.UnitPrice.Decimal)
		if q.IsInteger() && q.IsPositive() && q.LessThan(maxQuantity) {
			it.Quantity = decimal.NewNullDecimal(q)
			return -1
		}
	}

	for _, idx := range []int{firstMoney - 1, 0} {
		if idx < 0 || idx == partIdx || idx >= firstMoney || !intTokenRe.MatchString(tokens[idx]) {
			continue
		}
		q, _ := decimal.NewFromString(tokens[idx])
		it.Quantity = decimal.NewNullDecimal(q)
		return idx
	}
	return -1
}

// dropSummaryRows removes rows with no part token that only repeat the
// subtotal or total, or carry a zero amount.
func dropSummaryRows(items []Item, h *Header, t *tally.Result) []Item {
	kept := items[:0]
	for _, it := range items {
		if it.RawPart == "" && it.LineTotal.Valid {
			total := it.LineTotal.Decimal
			if total.IsZero() ||
				(h.Subtotal.Valid && total.Equal(h.Subtotal.Decimal)) ||
				(h.Total.Valid && total.Equal(h.Total.Decimal)) {
				t.Skip(it.Row, "line", "summary row", it.RawLine)
				continue
			}
		}
		kept = append(kept, it)
	}
	return kept
}
