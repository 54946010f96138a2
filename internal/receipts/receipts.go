// Package receipts imports the dealer management system's parts transaction
// export. Each usable row becomes an immutable ReceiptLine; rows are never
// matched against what is already stored, so importing a file twice doubles
// the received quantities.
package receipts

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/partnum"
	"github.com/zombor/parts-recon/internal/tally"
)

// Export column headers, spelled exactly as the export prints them.
const (
	ColumnPart          = "PARTNUMBER"
	ColumnTranscode     = "TRANSCODE."
	ColumnQuantity      = "TRANSQTY.."
	ColumnInvoiceNumber = "INVOICENUMBER.."
	ColumnPostingDate   = "POSTINGDATE..."
	ColumnSupplier      = "SUPPLIERNAME"
)

// DefaultSource labels a batch when the caller gives none.
const DefaultSource = "CDK-transactions"

var requiredColumns = []string{ColumnPart, ColumnTranscode, ColumnQuantity}

// ErrMissingColumn is returned when the export lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// Format is the container of an export file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatForPath picks a format from a file extension; anything but .xlsx is
// read as CSV.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}

// Store persists receipt batches and their lines.
type Store interface {
	InsertReceiptBatch(ctx context.Context, batch invoice.ReceiptBatch, lines []invoice.ReceiptLine) (int64, error)
}

// Options controls one import run.
type Options struct {
	Source   string
	Filename string
	Format   Format
	// Transcodes restricts the import to these codes when non-empty.
	Transcodes []string
}

// Summary reports the outcome of an import run.
type Summary struct {
	RunID   string               `json:"run_id"`
	BatchID int64                `json:"batch_id"`
	Batch   invoice.ReceiptBatch `json:"batch"`
	Tally   tally.Result         `json:"tally"`
}

// Importer turns export rows into receipt lines.
type Importer struct {
	store Store
	now   func() time.Time
}

// NewImporter creates an importer. A nil now uses time.Now.
func NewImporter(store Store, now func() time.Time) *Importer {
	if now == nil {
		now = time.Now
	}
	return &Importer{store: store, now: now}
}

// ImportFile opens path and imports it, picking the format from its extension
// unless opts names one.
func (im *Importer) ImportFile(ctx context.Context, path string, opts Options) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening export: %w", err)
	}
	defer f.Close()

	if opts.Format == "" {
		opts.Format = FormatForPath(path)
	}
	if opts.Filename == "" {
		opts.Filename = filepath.Base(path)
	}
	return im.Import(ctx, f, opts)
}

// Import reads every row of r and writes the usable ones as a new batch. A
// file with no usable rows still records an empty batch.
func (im *Importer) Import(ctx context.Context, r io.Reader, opts Options) (*Summary, error) {
	rows, err := readRows(r, opts.Format)
	if err != nil {
		return nil, err
	}

	lines, t := Parse(rows, opts.Transcodes)

	source := opts.Source
	if source == "" {
		source = DefaultSource
	}
	batch := invoice.ReceiptBatch{
		Source:     source,
		Filename:   opts.Filename,
		ImportedAt: im.now().UTC(),
	}

	runID := uuid.NewString()
	id, err := im.store.InsertReceiptBatch(ctx, batch, lines)
	if err != nil {
		return nil, fmt.Errorf("saving receipt batch: %w", err)
	}
	batch.ID = id

	slog.Info("imported receipt lines",
		"run", runID,
		"batch", id,
		"file", opts.Filename,
		"rows", t.Total,
		"imported", t.Accepted,
		"skipped", t.Skipped,
	)
	return &Summary{RunID: runID, BatchID: id, Batch: batch, Tally: t}, nil
}

// Parse maps export rows to receipt lines. Rows without a part number or a
// readable quantity are skipped and counted. BatchID is left zero.
func Parse(rows []map[string]string, transcodes []string) ([]invoice.ReceiptLine, tally.Result) {
	var t tally.Result
	lines := make([]invoice.ReceiptLine, 0, len(rows))

	allowed := map[string]bool{}
	for _, c := range transcodes {
		allowed[strings.ToUpper(strings.TrimSpace(c))] = true
	}

	for i, row := range rows {
		n := i + 2 // header is row 1
		t.Seen()

		code := strings.ToUpper(strings.TrimSpace(row[ColumnTranscode]))
		if len(allowed) > 0 && !allowed[code] {
			t.Skip(n, ColumnTranscode, "transcode not imported", code)
			continue
		}

		rawPart := strings.TrimSpace(row[ColumnPart])
		if rawPart == "" {
			t.Skip(n, ColumnPart, "missing part number", "")
			continue
		}

		rawQty := strings.TrimSpace(row[ColumnQuantity])
		if rawQty == "" {
			t.Skip(n, ColumnQuantity, "missing quantity", "")
			continue
		}
		qty, ok := tally.ParseDecimal(rawQty)
		if !ok {
			t.Skip(n, ColumnQuantity, "unreadable quantity", rawQty)
			continue
		}

		supplier := strings.TrimSpace(row[ColumnSupplier])
		if supplier == "" {
			supplier = invoice.SupplierForTranscode(code)
		}

		raw, err := json.Marshal(row)
		if err != nil {
			raw = nil
		}

		lines = append(lines, invoice.ReceiptLine{
			SupplierName:  supplier,
			Transcode:     code,
			PartNumber:    partnum.Canonical(rawPart),
			Quantity:      qty,
			InvoiceNumber: strings.TrimSpace(row[ColumnInvoiceNumber]),
			PostingDate:   NormalizePostingDate(row[ColumnPostingDate]),
			RawJSON:       string(raw),
		})
		t.Accept()
	}
	return lines, t
}

var postingLayouts = []string{
	"1/2/2006 3:04:05 PM",
	"1/2/2006",
}

// NormalizePostingDate returns an ISO date when s is in one of the export's
// date layouts and the trimmed input otherwise.
func NormalizePostingDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range postingLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return s
}

func readRows(r io.Reader, format Format) ([]map[string]string, error) {
	var (
		rows []map[string]string
		err  error
	)
	switch format {
	case FormatXLSX:
		rows, err = readXLSX(r)
	case FormatCSV, "":
		rows, err = readCSV(r)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		for _, col := range requiredColumns {
			if _, ok := rows[0][col]; !ok {
				return nil, fmt.Errorf("reading export: %w %s", ErrMissingColumn, col)
			}
		}
	}
	return rows, nil
}

func readCSV(r io.Reader) ([]map[string]string, error) {
	br := bufio.NewReader(r)
	// Spreadsheet tools often save the export with a UTF-8 byte order mark.
	if b, err := br.Peek(3); err == nil && string(b) == "\xef\xbb\xbf" {
		_, _ = br.Discard(3)
	}

	rows, err := gocsv.CSVToMaps(br)
	if err != nil {
		return nil, fmt.Errorf("reading export CSV: %w", err)
	}
	for _, row := range rows {
		trimKeys(row)
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([]map[string]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening export workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	grid, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	if len(grid) == 0 {
		return nil, nil
	}

	header := grid[0]
	rows := make([]map[string]string, 0, len(grid)-1)
	for _, cells := range grid[1:] {
		if blank(cells) {
			continue
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if i < len(cells) {
				row[name] = cells[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func trimKeys(row map[string]string) {
	for k, v := range row {
		if tk := strings.TrimSpace(k); tk != k {
			delete(row, k)
			row[tk] = v
		}
	}
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
