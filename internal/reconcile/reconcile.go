// Package reconcile compares billed quantities from supplier invoices against
// received quantities from the dealer management system, per canonical part.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/partnum"
)

// Variant picks which suppliers and which receiving transcode are compared.
type Variant string

const (
	VariantFCA    Variant = "fca"
	VariantManual Variant = "manual"
)

// ParseVariant validates a variant name.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantFCA, VariantManual:
		return v, nil
	case "":
		return VariantFCA, nil
	default:
		return "", fmt.Errorf("unknown report variant %q", s)
	}
}

// BilledQuantity is the billed quantity of one part from one supplier.
type BilledQuantity struct {
	Supplier string
	Class    invoice.Class
	Part     string
	Quantity decimal.Decimal
}

// ReceivedQuantity is the received quantity of one part under one supplier
// name and transcode.
type ReceivedQuantity struct {
	Supplier  string
	Transcode string
	Part      string
	Quantity  decimal.Decimal
}

// Source supplies pre-aggregated quantities. Null line quantities count as
// zero.
type Source interface {
	BilledQuantities(ctx context.Context) ([]BilledQuantity, error)
	ReceivedQuantities(ctx context.Context, transcode string) ([]ReceivedQuantity, error)
}

// Options narrows a report.
type Options struct {
	// Supplier is a case-insensitive substring matched against supplier
	// names. It applies to the received side only unless ScopeBilled is set.
	// The FCA variant ignores it.
	Supplier    string
	ScopeBilled bool
	// Limit caps each list when positive.
	Limit int
}

// Row is one part whose billed and received quantities differ. Variance is
// billed minus received; Difference is its magnitude.
type Row struct {
	Part       string          `json:"part_number"`
	Billed     decimal.Decimal `json:"billed"`
	Received   decimal.Decimal `json:"received"`
	Variance   decimal.Decimal `json:"variance"`
	Difference decimal.Decimal `json:"difference"`
}

// Report holds both variance lists of a run.
type Report struct {
	Variant      Variant   `json:"variant"`
	Supplier     string    `json:"supplier,omitempty"`
	ScopeBilled  bool      `json:"scope_billed,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
	Parts        int       `json:"parts"`
	Matched      int       `json:"matched"`
	BilledMore   []Row     `json:"billed_more"`
	ReceivedMore []Row     `json:"received_more"`
}

// Engine runs reconciliation reports.
type Engine struct {
	source Source
	now    func() time.Time
}

// NewEngine creates an engine reading from source. A nil now uses time.Now.
func NewEngine(source Source, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{source: source, now: now}
}

// Run builds the report for variant.
func (e *Engine) Run(ctx context.Context, variant Variant, opts Options) (*Report, error) {
	var (
		billedFn   func(BilledQuantity) bool
		receivedFn func(ReceivedQuantity) bool
		transcode  string
	)

	filter := strings.ToUpper(strings.TrimSpace(opts.Supplier))
	switch variant {
	case VariantFCA:
		transcode = invoice.TranscodeFCA
		filter = ""
		billedFn = func(b BilledQuantity) bool {
			return invoice.IsCorporate(b.Supplier, b.Class)
		}
		receivedFn = func(ReceivedQuantity) bool { return true }
	case VariantManual:
		transcode = invoice.TranscodeManual
		billedFn = func(b BilledQuantity) bool {
			if invoice.IsCorporate(b.Supplier, b.Class) || b.Class == invoice.ClassSelf {
				return false
			}
			return !opts.ScopeBilled || matches(b.Supplier, filter)
		}
		receivedFn = func(r ReceivedQuantity) bool {
			return matches(r.Supplier, filter)
		}
	default:
		return nil, fmt.Errorf("unknown report variant %q", variant)
	}

	billedRows, err := e.source.BilledQuantities(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading billed quantities: %w", err)
	}
	receivedRows, err := e.source.ReceivedQuantities(ctx, transcode)
	if err != nil {
		return nil, fmt.Errorf("loading received quantities: %w", err)
	}

	billed := map[string]decimal.Decimal{}
	for _, b := range billedRows {
		if !billedFn(b) {
			continue
		}
		add(billed, b.Part, b.Quantity)
	}
	received := map[string]decimal.Decimal{}
	for _, r := range receivedRows {
		if r.Transcode != transcode || !receivedFn(r) {
			continue
		}
		add(received, r.Part, r.Quantity)
	}

	report := Compare(billed, received, opts.Limit)
	report.Variant = variant
	if variant == VariantManual {
		report.Supplier = opts.Supplier
		report.ScopeBilled = opts.ScopeBilled
	}
	report.GeneratedAt = e.now().UTC()

	slog.Info("reconciled quantities",
		"variant", variant,
		"supplier", report.Supplier,
		"parts", report.Parts,
		"billed_more", len(report.BilledMore),
		"received_more", len(report.ReceivedMore),
	)
	return report, nil
}

// add accumulates qty under the canonical form of part. Stored parts are
// canonical already; canonicalizing again merges legacy rows.
func add(m map[string]decimal.Decimal, part string, qty decimal.Decimal) {
	key := partnum.Canonical(part)
	if key == "" {
		return
	}
	m[key] = m[key].Add(qty)
}

func matches(name, filter string) bool {
	return filter == "" || strings.Contains(strings.ToUpper(name), filter)
}

// Compare full-outer-joins billed and received quantities by part and splits
// the parts that differ into the two ordered lists. A part missing on one
// side counts as zero there.
func Compare(billed, received map[string]decimal.Decimal, limit int) *Report {
	parts := map[string]struct{}{}
	for p := range billed {
		parts[p] = struct{}{}
	}
	for p := range received {
		parts[p] = struct{}{}
	}

	report := &Report{Parts: len(parts), BilledMore: []Row{}, ReceivedMore: []Row{}}
	for p := range parts {
		b, r := billed[p], received[p]
		v := b.Sub(r)
		row := Row{Part: p, Billed: b, Received: r, Variance: v, Difference: v.Abs()}
		switch row.Variance.Sign() {
		case 1:
			report.BilledMore = append(report.BilledMore, row)
		case -1:
			report.ReceivedMore = append(report.ReceivedMore, row)
		default:
			report.Matched++
		}
	}

	order(report.BilledMore)
	order(report.ReceivedMore)
	if limit > 0 {
		if len(report.BilledMore) > limit {
			report.BilledMore = report.BilledMore[:limit]
		}
		if len(report.ReceivedMore) > limit {
			report.ReceivedMore = report.ReceivedMore[:limit]
		}
	}
	return report
}

// order sorts by variance magnitude, largest first, then by part.
func order(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].Difference.Cmp(rows[j].Difference); c != 0 {
			return c > 0
		}
		return rows[i].Part < rows[j].Part
	})
}
