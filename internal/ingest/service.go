// Package ingest runs the invoice pipeline: page text, segmentation,
// extraction, optional header assist, per-invoice PDF artifacts and
// persistence.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/parts-recon/internal/assist"
	"github.com/zombor/parts-recon/internal/document"
	"github.com/zombor/parts-recon/internal/extract"
	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/segment"
	"github.com/zombor/parts-recon/internal/store"
	"github.com/zombor/parts-recon/internal/tally"
)

// IDGenerator generates run IDs.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Store persists one invoice with its line items.
type Store interface {
	InsertInvoice(ctx context.Context, inv invoice.Invoice, items []invoice.LineItem, opts store.InsertOptions) (invoice.Invoice, error)
}

// Service ingests combined supplier PDFs.
type Service struct {
	store       Store
	artifacts   Artifacts
	text        document.TextSource
	assistant   assist.Assistant
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with a UUID run ID generator and the system
// clock. assistant may be nil.
func NewService(st Store, artifacts Artifacts, text document.TextSource, assistant assist.Assistant) *Service {
	return NewServiceWithDeps(st, artifacts, text, assistant, uuidGenerator{}, systemClock{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing.
func NewServiceWithDeps(st Store, artifacts Artifacts, text document.TextSource, assistant assist.Assistant, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:       st,
		artifacts:   artifacts,
		text:        text,
		assistant:   assistant,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Options controls an ingest run.
type Options struct {
	SkipDuplicates bool
}

// Parsed is one segment with its extraction result.
type Parsed struct {
	Group  segment.Group
	Result *extract.Result
}

// Outcome reports what happened to one segment.
type Outcome struct {
	Segment   int             `json:"segment"`
	FirstPage int             `json:"first_page"`
	LastPage  int             `json:"last_page"`
	RuleSet   string          `json:"rule_set"`
	Invoice   invoice.Invoice `json:"invoice"`
	Lines     int             `json:"lines"`
	Duplicate bool            `json:"duplicate,omitempty"`
	Assisted  []string        `json:"assisted,omitempty"`
}

// Summary reports an ingest run.
type Summary struct {
	RunID      string       `json:"run_id"`
	Source     string       `json:"source"`
	Pages      int          `json:"pages"`
	Inserted   int          `json:"inserted"`
	Duplicates int          `json:"duplicates"`
	Lines      int          `json:"lines"`
	Outcomes   []Outcome    `json:"invoices"`
	Tally      tally.Result `json:"tally"`
}

// Parse reads and segments pdf and extracts every segment without touching
// the store or writing artifacts.
func (s *Service) Parse(pdf []byte) ([]Parsed, int, error) {
	pages, err := s.text.PageTexts(pdf)
	if err != nil {
		return nil, 0, fmt.Errorf("reading page text: %w", err)
	}

	groups := extract.Segment(pages)
	parsed := make([]Parsed, 0, len(groups))
	for _, g := range groups {
		res := extract.Extract(g.Text(), extract.Options{Now: s.timeSource.Now})
		parsed = append(parsed, Parsed{Group: g, Result: res})
	}
	return parsed, len(pages), nil
}

// IngestFile reads the PDF at path and ingests it.
func (s *Service) IngestFile(ctx context.Context, path string, opts Options) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return s.Ingest(ctx, filepath.Base(path), data, opts)
}

// Ingest splits pdf into invoices and stores each one with its artifact. A
// store failure aborts the run; invoices committed before it stay.
func (s *Service) Ingest(ctx context.Context, source string, pdf []byte, opts Options) (*Summary, error) {
	runID := s.idGenerator.Generate()

	parsed, pages, err := s.Parse(pdf)
	if err != nil {
		return nil, err
	}

	summary := &Summary{RunID: runID, Source: source, Pages: pages}
	slog.Info("ingesting invoices", "run", runID, "source", source, "pages", pages, "segments", len(parsed))

	for _, p := range parsed {
		outcome, err := s.ingestSegment(ctx, pdf, p, opts)
		if err != nil {
			slog.Error("ingest aborted",
				"run", runID,
				"segment", p.Group.Index,
				"error", err,
			)
			return summary, err
		}

		summary.Outcomes = append(summary.Outcomes, *outcome)
		summary.Tally.Merge(p.Result.Tally)
		if outcome.Duplicate {
			summary.Duplicates++
			continue
		}
		summary.Inserted++
		summary.Lines += outcome.Lines
	}

	slog.Info("ingest complete",
		"run", runID,
		"invoices", summary.Inserted,
		"duplicates", summary.Duplicates,
		"lines", summary.Lines,
		"rows_skipped", summary.Tally.Skipped,
	)
	return summary, nil
}

func (s *Service) ingestSegment(ctx context.Context, pdf []byte, p Parsed, opts Options) (*Outcome, error) {
	g, res := p.Group, p.Result

	outcome := &Outcome{
		Segment:   g.Index,
		FirstPage: g.FirstPage,
		LastPage:  g.LastPage,
		RuleSet:   res.RuleSet,
	}

	outcome.Assisted = assist.Complete(ctx, s.assistant, g.Text(), &res.Header)

	name := segment.ArtifactName(g.Index, res.Header.Supplier, res.Header.InvoiceNumber)
	path, err := s.artifacts.Write(name, func(w io.Writer) error {
		return document.WriteSubset(w, bytes.NewReader(pdf), g.FirstPage, g.LastPage)
	})
	if err != nil {
		return nil, fmt.Errorf("saving segment %d: %w", g.Index, err)
	}

	inv := res.Invoice(g.Index, g.PageCount(), path)
	inv.CreatedAt = s.timeSource.Now().UTC()
	items := res.LineItems()

	saved, err := s.store.InsertInvoice(ctx, inv, items, store.InsertOptions{SkipDuplicates: opts.SkipDuplicates})
	if errors.Is(err, store.ErrDuplicate) {
		// the existing record may point at the same artifact name
		slog.Info("skipped duplicate invoice",
			"segment", g.Index,
			"supplier", inv.SupplierName,
			"invoice_number", inv.Number,
		)
		outcome.Invoice = inv
		outcome.Duplicate = true
		return outcome, nil
	}
	if err != nil {
		if rerr := s.artifacts.Remove(path); rerr != nil {
			slog.Warn("failed to remove artifact", "path", path, "error", rerr)
		}
		return nil, fmt.Errorf("saving invoice for segment %d: %w", g.Index, err)
	}

	slog.Info("stored invoice",
		"segment", g.Index,
		"pages", fmt.Sprintf("%d-%d", g.FirstPage, g.LastPage),
		"rule_set", res.RuleSet,
		"supplier", saved.SupplierName,
		"invoice_number", saved.Number,
		"lines", len(items),
		"artifact", path,
	)
	outcome.Invoice = saved
	outcome.Lines = len(items)
	return outcome, nil
}
