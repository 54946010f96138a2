package invoice

import "github.com/shopspring/decimal"

// Charge keys stored in Invoice.Charges.
const (
	ChargeGST                   = "gst"
	ChargePST                   = "pst"
	ChargeHST                   = "hst"
	ChargeDiscountsEarned       = "discounts_earned"
	ChargeDealerGeneratedReturn = "dealer_generated_return"
	ChargeLocator               = "locator_charge"
	ChargeDepositValues         = "deposit_values"
	ChargeTransportation        = "transportation"
	ChargeEnvContainer          = "env_container"
	ChargeEnvLubricant          = "env_lubricant"
)

// GL accounts used when coding a corporate parts invoice.
const (
	AccountParts     = "104000"
	AccountFreight   = "704004"
	AccountDiscounts = "604900"
	AccountGST       = "201105"
)

// CodingLine is one general-ledger distribution of an invoice.
type CodingLine struct {
	Account string          `json:"account"`
	Label   string          `json:"label"`
	Amount  decimal.Decimal `json:"amount"`
}

// Coding distributes an invoice over the parts, freight, discount and
// GST/HST accounts. Parts carries the subtotal plus dealer returns, deposits
// and environmental fees; freight is locator plus transportation. Discounts
// are reported as printed. Zero lines are kept so every invoice codes to the
// same four accounts.
func Coding(inv Invoice) []CodingLine {
	charge := func(key string) decimal.Decimal {
		return inv.Charges[key]
	}

	parts := inv.Subtotal.Decimal.
		Add(charge(ChargeDealerGeneratedReturn)).
		Add(charge(ChargeDepositValues)).
		Add(charge(ChargeEnvContainer)).
		Add(charge(ChargeEnvLubricant))
	freight := charge(ChargeLocator).Add(charge(ChargeTransportation))
	tax := charge(ChargeGST)
	if tax.IsZero() {
		tax = charge(ChargeHST)
	}

	return []CodingLine{
		{Account: AccountParts, Label: "Parts", Amount: parts},
		{Account: AccountFreight, Label: "Freight (locator + transportation)", Amount: freight},
		{Account: AccountDiscounts, Label: "Discounts (credit)", Amount: charge(ChargeDiscountsEarned)},
		{Account: AccountGST, Label: "GST/HST", Amount: tax},
	}
}
