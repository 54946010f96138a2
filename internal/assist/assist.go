// Package assist asks a language model for invoice header fields the
// extraction rules could not find. Suggestions only fill empty fields; they
// never override what was read from the page.
package assist

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/zombor/parts-recon/internal/extract"
	"github.com/zombor/parts-recon/internal/invoice"
)

// HeaderHints are header fields proposed by a model. Empty strings and
// invalid decimals mean the model had no answer.
type HeaderHints struct {
	Supplier      string              `json:"supplier"`
	InvoiceNumber string              `json:"invoice_number"`
	InvoiceDate   string              `json:"invoice_date"` // ISO 8601
	PONumber      string              `json:"po_number"`
	Subtotal      decimal.NullDecimal `json:"subtotal"`
	Total         decimal.NullDecimal `json:"total"`
}

// Assistant suggests header fields for the text of one invoice.
type Assistant interface {
	// SuggestHeader reads the invoice text and proposes header fields.
	SuggestHeader(ctx context.Context, text string) (*HeaderHints, error)
	// Close releases the client.
	Close() error
}

// Provider names accepted by New.
const (
	ProviderNone   = "none"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Config selects and configures a provider.
type Config struct {
	Provider     string
	GeminiAPIKey string
	GeminiModel  string
	OllamaURL    string
	OllamaModel  string
}

// New returns the configured Assistant, or nil for ProviderNone.
func New(cfg Config) (Assistant, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderGemini:
		return NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel)
	case ProviderOllama:
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown assist provider %q (valid: none, gemini, ollama)", cfg.Provider)
	}
}

// NeedsHelp reports whether h is missing a field an assistant could fill.
func NeedsHelp(h extract.Header) bool {
	return h.Supplier == "" || h.InvoiceNumber == "" || h.InvoiceDate == "" || !h.Total.Valid
}

// Fill copies hints into the empty fields of h and returns the names of the
// fields it filled.
func Fill(h *extract.Header, hints *HeaderHints) []string {
	if hints == nil {
		return nil
	}
	var filled []string
	setString := func(dst *string, v, name string) {
		if *dst == "" && v != "" {
			*dst = v
			filled = append(filled, name)
		}
	}
	setDecimal := func(dst *decimal.NullDecimal, v decimal.NullDecimal, name string) {
		if !dst.Valid && v.Valid {
			*dst = v
			filled = append(filled, name)
		}
	}

	setString(&h.Supplier, hints.Supplier, "supplier")
	setString(&h.InvoiceNumber, hints.InvoiceNumber, "invoice_number")
	setString(&h.InvoiceDate, hints.InvoiceDate, "invoice_date")
	setString(&h.PONumber, hints.PONumber, "po_number")
	setDecimal(&h.Subtotal, hints.Subtotal, "subtotal")
	setDecimal(&h.Total, hints.Total, "total")
	return filled
}

// Complete asks a for help when h has gaps, fills them and returns the
// names of the fields it filled. A filled supplier is classified again.
// Assistant errors are logged and otherwise ignored; the rules' answer
// stands.
func Complete(ctx context.Context, a Assistant, text string, h *extract.Header) []string {
	if a == nil || !NeedsHelp(*h) {
		return nil
	}
	hints, err := a.SuggestHeader(ctx, text)
	if err != nil {
		slog.Warn("header assist failed", "invoice_number", h.InvoiceNumber, "error", err)
		return nil
	}
	filled := Fill(h, hints)
	if slices.Contains(filled, "supplier") {
		h.Class = invoice.Classify(h.Supplier)
	}
	if len(filled) > 0 {
		slog.Info("header assist filled fields", "fields", filled, "invoice_number", h.InvoiceNumber)
	}
	return filled
}

// headerPrompt is shared by all providers.
const headerPrompt = `You are reading the OCR text of one auto parts supplier invoice. The text may contain OCR errors.

Extract these header fields:
1. supplier: the company that issued the invoice (the letterhead), not the customer in the bill-to or ship-to block.
2. invoice_number: the invoice or credit memo number exactly as printed.
3. invoice_date: the invoice date in ISO 8601 format (YYYY-MM-DD).
4. po_number: the customer purchase order number, if printed.
5. subtotal: the amount before taxes, as a number.
6. total: the final amount due, as a number.

Return ONLY valid JSON in this exact format:
{
  "supplier": "Supplier Name",
  "invoice_number": "123456",
  "invoice_date": "YYYY-MM-DD",
  "po_number": null,
  "subtotal": 0.00,
  "total": 0.00
}

Important:
- If you cannot find a field, use null for that field
- Amounts must be numbers, not strings
- Do not include any text before or after the JSON
- Do not use markdown code blocks

Invoice text:
`
