package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/tally"
)

var (
	fcaInvoiceNumberRe = regexp.MustCompile(`(?i)INVOICE NUMBER:[ \t]*([A-Z0-9][A-Z0-9 \t]*)`)
	fcaCreditNumberRe  = regexp.MustCompile(`(?i)CREDIT MEMO NUMBER:[ \t]*([A-Z0-9][A-Z0-9 \t]*)`)
	fcaDateRe          = regexp.MustCompile(`(?i)(?:INVOICE|CREDIT MEMO) DATE\s*:?[ \t]*(.+)`)
	fcaPartRowRe       = regexp.MustCompile(`^\s*(\d+)\s+([A-Z0-9]{5,})\s+(.*)$`)
	fcaQtyRe           = regexp.MustCompile(`\s(\d+)\s+([0-9,]+\.[0-9]{2})`)
	fcaAmountRe        = regexp.MustCompile(`([0-9,]+\.\d{2})-?`)
)

// fcaSummaryKeys map SUMMARY block labels to charge keys. TOTAL GROSS AMOUNT
// and NET INVOICE AMOUNT are handled separately.
var fcaSummaryKeys = []struct {
	label  string
	charge string
}{
	{"DISCOUNTS EARNED", invoice.ChargeDiscountsEarned},
	{"ARC01217", invoice.ChargeDealerGeneratedReturn},
	{"ARC01222", invoice.ChargeLocator},
	{"ARC31101", invoice.ChargeDepositValues},
	{"ARC45012", invoice.ChargeTransportation},
	{"ENV.CONTAINER", invoice.ChargeEnvContainer},
	{"ENV.LUBRICANT", invoice.ChargeEnvLubricant},
	{"GST/HST", invoice.ChargeGST},
}

// fcaNumber keeps the leading fields of a printed number that carry a digit,
// dropping the address text OCR runs onto the same line.
func fcaNumber(raw string) string {
	var keep []string
	for _, f := range strings.Fields(raw) {
		if !strings.ContainsAny(f, "0123456789") {
			break
		}
		keep = append(keep, f)
	}
	return strings.Join(keep, " ")
}

// lastAmount returns the last amount on a line, negated when the line ends
// with a minus.
func lastAmount(line string) (decimal.Decimal, bool) {
	nums := fcaAmountRe.FindAllStringSubmatch(line, -1)
	if len(nums) == 0 {
		return decimal.Zero, false
	}
	d, ok := tally.ParseDecimal(nums[len(nums)-1][1])
	if !ok {
		return decimal.Zero, false
	}
	if strings.HasSuffix(strings.TrimSpace(line), "-") {
		d = d.Abs().Neg()
	}
	return d, true
}

func fcaHeader(lines []string, h *Header, opts Options) {
	text := strings.Join(lines, "\n")
	upper := strings.ToUpper(text)

	if m := fcaInvoiceNumberRe.FindStringSubmatch(text); m != nil {
		h.InvoiceNumber = fcaNumber(m[1])
	} else if m := fcaCreditNumberRe.FindStringSubmatch(text); m != nil {
		h.InvoiceNumber = fcaNumber(m[1])
		h.DocumentType = invoice.DocumentCreditMemo
	}
	if strings.Contains(upper, "CREDIT MEMORANDUM") {
		h.DocumentType = invoice.DocumentCreditMemo
	}

	if m := fcaDateRe.FindStringSubmatch(text); m != nil {
		if t, ok := parseDate(m[1], true); ok {
			h.InvoiceDate = normalizeYear(t, opts.now()).Format("2006-01-02")
		}
	}

	if h.Supplier == "" {
		h.Supplier = "Mopar Canada"
	}

	if h.DocumentType == invoice.DocumentCreditMemo {
		fcaCreditTotals(lines, h)
	} else {
		fcaSummary(lines, h)
	}
	fcaD2D(upper, h)
}

// fcaSummary reads the SUMMARY block that closes an FCA parts invoice.
func fcaSummary(lines []string, h *Header) {
	start, end := -1, -1
	for i, line := range lines {
		if strings.Contains(line, "SUMMARY:") {
			start = i
		}
		if strings.Contains(line, "NET INVOICE AMOUNT") {
			end = i
		}
	}
	if start < 0 || end < start {
		return
	}

	var gross, net decimal.NullDecimal
	for _, line := range lines[start : end+1] {
		val, ok := lastAmount(line)
		if !ok {
			continue
		}
		switch {
		case strings.Contains(line, "TOTAL GROSS AMOUNT"):
			gross = decimal.NewNullDecimal(val)
		case strings.Contains(line, "NET INVOICE AMOUNT"):
			net = decimal.NewNullDecimal(val)
		default:
			for _, k := range fcaSummaryKeys {
				if strings.Contains(line, k.label) {
					h.Charges[k.charge] = val
					break
				}
			}
		}
	}

	h.Subtotal = gross
	switch {
	case net.Valid && !net.Decimal.IsZero():
		h.Total = net
	case gross.Valid:
		h.Total = decimal.NewNullDecimal(fcaComputedTotal(gross.Decimal, h.Charges))
	}
}

// fcaComputedTotal rebuilds the net amount from the summary lines: gross less
// discounts plus returns, deposits, freight, environmental fees and tax.
func fcaComputedTotal(gross decimal.Decimal, c map[string]decimal.Decimal) decimal.Decimal {
	return gross.
		Sub(c[invoice.ChargeDiscountsEarned]).
		Add(c[invoice.ChargeDealerGeneratedReturn]).
		Add(c[invoice.ChargeDepositValues]).
		Add(c[invoice.ChargeLocator]).
		Add(c[invoice.ChargeTransportation]).
		Add(c[invoice.ChargeEnvContainer]).
		Add(c[invoice.ChargeEnvLubricant]).
		Add(c[invoice.ChargeGST])
}

// fcaCreditTotals sums the SUB-TOTAL lines of a credit memo, which prints no
// SUMMARY block.
func fcaCreditTotals(lines []string, h *Header) {
	gross, found := decimal.Zero, false
	for _, line := range lines {
		if !strings.Contains(strings.ToUpper(line), "SUB-TOTAL") {
			continue
		}
		if val, ok := lastAmount(line); ok {
			gross = gross.Add(val)
			found = true
		}
	}
	for _, line := range lines {
		up := strings.ToUpper(line)
		if !strings.Contains(up, "GST") && !strings.Contains(up, "HST") {
			continue
		}
		if val, ok := lastAmount(line); ok {
			h.Charges[invoice.ChargeGST] = val
			break
		}
	}
	if found {
		h.Subtotal = decimal.NewNullDecimal(gross)
		h.Total = decimal.NewNullDecimal(gross)
	}
}

// fcaD2D flags dealer-to-dealer credit memos. The marker must appear in a
// header context: WEEKLY D2D, or D2D on a credit memo.
func fcaD2D(upper string, h *Header) {
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(upper, w) {
				return true
			}
		}
		return false
	}
	if !has("D2D", "D 2 D", "D-2-D") {
		return
	}
	if !has("WEEKLY D2D", "WEEKLY D 2 D") && !(has("D2D") && has("CREDIT MEMO", "CREDIT MEMORANDUM")) {
		return
	}
	h.D2D = true
	switch {
	case has("D2D OBSOLETE", "D 2 D OBSOLETE"):
		h.D2DType = "OBSOLETE"
	case has("D2D GUARANTEED", "D 2 D GUARANTEED"):
		h.D2DType = "GUARANTEED_INV"
	case has("D2D BACKORDER", "D 2 D BACKORDER"):
		h.D2DType = "BACKORDER"
	}
}

// scanFCA reads part rows laid out as line, part, description, quantity,
// unit cost and the pricing columns, ending with the net amount. Credit memo
// amounts are negative. Rows without a quantity column are skipped.
func scanFCA(lines []string, h *Header, t *tally.Result) []Item {
	credit := h.DocumentType == invoice.DocumentCreditMemo
	var items []Item
	open := false
	for i, line := range lines {
		row := i + 1
		m := fcaPartRowRe.FindStringSubmatch(line)
		if m == nil {
			trimmed := strings.TrimSpace(line)
			if open && trimmed != "" && isWrap(trimmed) && !strings.Contains(strings.ToUpper(trimmed), "SUMMARY") {
				stitch(&items[len(items)-1], trimmed)
				continue
			}
			open = false
			continue
		}

		rest := m[3]
		qm := fcaQtyRe.FindStringSubmatchIndex(" " + rest)
		if qm == nil {
			t.Skip(row, "quantity", "part row without quantity", line)
			open = false
			continue
		}
		qtyText := (" " + rest)[qm[2]:qm[3]]
		qty, _ := decimal.NewFromString(qtyText)

		var amounts []decimal.Decimal
		for _, a := range fcaAmountRe.FindAllStringSubmatch(rest, -1) {
			if d, ok := tally.ParseDecimal(a[1]); ok {
				amounts = append(amounts, d)
			}
		}
		negative := strings.HasSuffix(strings.TrimSpace(rest), "-") || (credit && len(amounts) > 0)

		it := Item{
			Row:         row,
			RawPart:     m[2],
			Description: strings.TrimSpace((" " + rest)[:qm[0]]),
			Quantity:    decimal.NewNullDecimal(qty),
			RawLine:     strings.TrimSpace(line),
		}
		if len(amounts) > 0 {
			unit, ext := amounts[0], amounts[len(amounts)-1]
			if negative {
				unit, ext = unit.Abs().Neg(), ext.Abs().Neg()
			}
			it.UnitPrice = decimal.NewNullDecimal(unit)
			it.LineTotal = decimal.NewNullDecimal(ext)
		}
		items = append(items, it)
		open = true
	}
	return items
}
