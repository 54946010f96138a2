package invoice

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("Coding", func() {
	var (
		inv   Invoice
		lines []CodingLine
	)

	amount := func(account string) string {
		for _, l := range lines {
			if l.Account == account {
				return l.Amount.StringFixed(2)
			}
		}
		return "missing"
	}

	BeforeEach(func() {
		inv = Invoice{
			Subtotal: decimal.NewNullDecimal(decimal.RequireFromString("75916.20")),
			Charges: map[string]decimal.Decimal{
				ChargeDiscountsEarned:       decimal.RequireFromString("161.95"),
				ChargeDealerGeneratedReturn: decimal.RequireFromString("10.00"),
				ChargeDepositValues:         decimal.RequireFromString("800.01"),
				ChargeLocator:               decimal.RequireFromString("8.67"),
				ChargeTransportation:        decimal.RequireFromString("100.00"),
				ChargeEnvContainer:          decimal.RequireFromString("70.00"),
				ChargeEnvLubricant:          decimal.RequireFromString("1.51"),
				ChargeGST:                   decimal.RequireFromString("3837.22"),
			},
		}
	})

	JustBeforeEach(func() {
		lines = Coding(inv)
	})

	It("codes to the four accounts in order", func() {
		Expect(lines).To(HaveLen(4))
		Expect(lines[0].Account).To(Equal(AccountParts))
		Expect(lines[1].Account).To(Equal(AccountFreight))
		Expect(lines[2].Account).To(Equal(AccountDiscounts))
		Expect(lines[3].Account).To(Equal(AccountGST))
	})

	It("adds returns, deposits and environmental fees to parts", func() {
		Expect(amount(AccountParts)).To(Equal("76797.72"))
	})

	It("sums locator and transportation as freight", func() {
		Expect(amount(AccountFreight)).To(Equal("108.67"))
	})

	It("reports discounts and tax as printed", func() {
		Expect(amount(AccountDiscounts)).To(Equal("161.95"))
		Expect(amount(AccountGST)).To(Equal("3837.22"))
	})

	When("only HST is printed", func() {
		BeforeEach(func() {
			inv.Charges = map[string]decimal.Decimal{ChargeHST: decimal.RequireFromString("12.00")}
		})

		It("codes HST to the tax account", func() {
			Expect(amount(AccountGST)).To(Equal("12.00"))
		})
	})

	When("nothing is known", func() {
		BeforeEach(func() {
			inv = Invoice{}
		})

		It("codes zeros", func() {
			Expect(amount(AccountParts)).To(Equal("0.00"))
			Expect(amount(AccountFreight)).To(Equal("0.00"))
		})
	})
})
