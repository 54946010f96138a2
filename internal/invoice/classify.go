// Package invoice defines the supplier, invoice and receiving records shared
// by extraction, import, storage and reconciliation.
package invoice

import "strings"

// UnknownSupplier names the supplier of an invoice whose letterhead could not
// be read.
const UnknownSupplier = "Unknown Supplier"

// Classify maps a supplier name to its class. An empty name is general.
func Classify(name string) Class {
	u := strings.ToUpper(name)
	switch {
	case strings.Contains(u, "FCA CANADA"), strings.Contains(u, "MOPAR CANADA"), strings.Contains(u, "STELLANTIS"):
		return ClassChryslerCorp
	case strings.Contains(u, "MAPLE RIDGE CHRYSLER"), strings.Contains(u, "MR MOTORS"), strings.Contains(u, "MRMOTORS"):
		return ClassSelf
	case strings.Contains(u, "CHRYSLER"):
		return ClassChryslerDealer
	case strings.Contains(u, "TIRE"):
		return ClassTire
	default:
		return ClassGeneral
	}
}

// IsCorporate reports whether a supplier belongs to the FCA/Mopar billing
// stream: its name starts with "Mopar Canada" (any case) or it is classed
// chrysler_corp.
func IsCorporate(name string, class Class) bool {
	return strings.HasPrefix(strings.ToUpper(name), "MOPAR CANADA") || class == ClassChryslerCorp
}

// SupplierForTranscode names the logical supplier bucket for a receiving row
// that carries no supplier column.
func SupplierForTranscode(code string) string {
	switch strings.ToUpper(code) {
	case TranscodeFCA:
		return "Mopar Canada / FCA"
	case TranscodeManual:
		return "Manual / External Supplier"
	default:
		return "Unknown"
	}
}
