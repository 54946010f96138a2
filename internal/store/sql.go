package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/reconcile"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Dialect names a SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL opens a SQLite file or a PostgreSQL DSN and applies pending
// migrations.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		}
		db, err = sql.Open("sqlite", dsn)
	case DialectPostgres:
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unknown SQL dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", dialect, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", dialect, err)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if dialect == DialectSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	dir, gooseDialect := "migrations/sqlite", goose.DialectSQLite3
	if s.dialect == DialectPostgres {
		dir, gooseDialect = "migrations/postgres", goose.DialectPostgres
	}
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	provider, err := goose.NewProvider(gooseDialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders for the store's dialect.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) supplierID(ctx context.Context, tx *sql.Tx, name string, class invoice.Class) (int64, invoice.Class, error) {
	_, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO suppliers (name, class) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`),
		name, string(class))
	if err != nil {
		return 0, "", fmt.Errorf("inserting supplier: %w", err)
	}

	var (
		id     int64
		stored string
	)
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT id, class FROM suppliers WHERE name = ?`), name).Scan(&id, &stored)
	if err != nil {
		return 0, "", fmt.Errorf("loading supplier: %w", err)
	}
	return id, invoice.Class(stored), nil
}

// InsertInvoice implements Store.
func (s *SQLStore) InsertInvoice(ctx context.Context, inv invoice.Invoice, items []invoice.LineItem, opts InsertOptions) (invoice.Invoice, error) {
	if inv.SupplierName == "" {
		inv.SupplierName = invoice.UnknownSupplier
	}
	if inv.DocumentType == "" {
		inv.DocumentType = invoice.DocumentInvoice
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	charges, err := json.Marshal(chargesOrEmpty(inv.Charges))
	if err != nil {
		return inv, fmt.Errorf("encoding charges: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		id, class, err := s.supplierID(ctx, tx, inv.SupplierName, supplierClass(inv))
		if err != nil {
			return err
		}
		inv.SupplierID, inv.SupplierClass = id, class

		if opts.SkipDuplicates && inv.Number != "" {
			var n int
			err := tx.QueryRowContext(ctx,
				s.rebind(`SELECT COUNT(*) FROM invoices WHERE supplier_id = ? AND invoice_number = ?`),
				inv.SupplierID, inv.Number).Scan(&n)
			if err != nil {
				return fmt.Errorf("checking for duplicate invoice: %w", err)
			}
			if n > 0 {
				return ErrDuplicate
			}
		}

		err = tx.QueryRowContext(ctx, s.rebind(`
			INSERT INTO invoices (
				supplier_id, invoice_number, invoice_date, po_number, subtotal, total,
				page_count, source_path, segment_index, document_type, charges, d2d, d2d_type, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
			inv.SupplierID, inv.Number, inv.Date, inv.PONumber, inv.Subtotal, inv.Total,
			inv.PageCount, inv.SourcePath, inv.SegmentIndex, inv.DocumentType, string(charges), inv.D2D, inv.D2DType,
			inv.CreatedAt.UTC().Format(time.RFC3339Nano),
		).Scan(&inv.ID)
		if err != nil {
			return fmt.Errorf("inserting invoice: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO line_items (invoice_id, part_number, description, quantity, unit_price, line_total, raw_line)
			VALUES (?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("preparing line item insert: %w", err)
		}
		defer stmt.Close()

		for _, it := range items {
			if err := checkLineItem(it, inv.ID); err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, inv.ID, it.PartNumber, it.Description, it.Quantity, it.UnitPrice, it.LineTotal, it.RawLine); err != nil {
				return fmt.Errorf("inserting line item: %w", err)
			}
		}
		return nil
	})
	return inv, err
}

// InsertReceiptBatch implements Store.
func (s *SQLStore) InsertReceiptBatch(ctx context.Context, batch invoice.ReceiptBatch, lines []invoice.ReceiptLine) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			s.rebind(`INSERT INTO receipts_batches (source, filename, imported_at) VALUES (?, ?, ?) RETURNING id`),
			batch.Source, batch.Filename, batch.ImportedAt.UTC().Format(time.RFC3339Nano),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("inserting receipt batch: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO receipts_lines (
				batch_id, supplier_name, invoice_number, part_number, qty_received, posting_date, transcode, raw_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("preparing receipt line insert: %w", err)
		}
		defer stmt.Close()

		for _, l := range lines {
			_, err := stmt.ExecContext(ctx, id, l.SupplierName, l.InvoiceNumber, l.PartNumber, l.Quantity, l.PostingDate, l.Transcode, l.RawJSON)
			if err != nil {
				return fmt.Errorf("inserting receipt line: %w", err)
			}
		}
		return nil
	})
	return id, err
}

// BilledQuantities implements Store.
func (s *SQLStore) BilledQuantities(ctx context.Context) ([]reconcile.BilledQuantity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.name, s.class, li.part_number, li.quantity
		FROM line_items li
		JOIN invoices inv ON li.invoice_id = inv.id
		JOIN suppliers s ON inv.supplier_id = s.id
		ORDER BY li.id`)
	if err != nil {
		return nil, fmt.Errorf("querying billed quantities: %w", err)
	}
	defer rows.Close()

	var q quantities[billedKey]
	for rows.Next() {
		var (
			k     billedKey
			class string
			qty   decimal.NullDecimal
		)
		if err := rows.Scan(&k.supplier, &class, &k.part, &qty); err != nil {
			return nil, fmt.Errorf("scanning billed quantity: %w", err)
		}
		k.class = invoice.Class(class)
		q.add(k, qty.Decimal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading billed quantities: %w", err)
	}
	return billedRows(&q), nil
}

// ReceivedQuantities implements Store.
func (s *SQLStore) ReceivedQuantities(ctx context.Context, transcode string) ([]reconcile.ReceivedQuantity, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT supplier_name, transcode, part_number, qty_received
		FROM receipts_lines
		WHERE transcode = ?
		ORDER BY id`), transcode)
	if err != nil {
		return nil, fmt.Errorf("querying received quantities: %w", err)
	}
	defer rows.Close()

	var q quantities[receivedKey]
	for rows.Next() {
		var (
			k   receivedKey
			qty decimal.Decimal
		)
		if err := rows.Scan(&k.supplier, &k.transcode, &k.part, &qty); err != nil {
			return nil, fmt.Errorf("scanning received quantity: %w", err)
		}
		q.add(k, qty)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading received quantities: %w", err)
	}
	return receivedRows(&q), nil
}

// ListSuppliers implements Store.
func (s *SQLStore) ListSuppliers(ctx context.Context) ([]SupplierSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.class, inv.id, inv.total
		FROM suppliers s
		LEFT JOIN invoices inv ON inv.supplier_id = s.id`)
	if err != nil {
		return nil, fmt.Errorf("querying suppliers: %w", err)
	}
	defer rows.Close()

	byID := map[int64]*SupplierSummary{}
	for rows.Next() {
		var (
			sup   invoice.Supplier
			class string
			invID sql.NullInt64
			total decimal.NullDecimal
		)
		if err := rows.Scan(&sup.ID, &sup.Name, &class, &invID, &total); err != nil {
			return nil, fmt.Errorf("scanning supplier: %w", err)
		}
		sup.Class = invoice.Class(class)

		summary, ok := byID[sup.ID]
		if !ok {
			summary = &SupplierSummary{Supplier: sup, TotalBilled: decimal.Zero}
			byID[sup.ID] = summary
		}
		if invID.Valid {
			summary.Invoices++
			if total.Valid {
				summary.TotalBilled = summary.TotalBilled.Add(total.Decimal)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading suppliers: %w", err)
	}
	return sortedSummaries(byID), nil
}

const invoiceColumns = `
	inv.id, inv.supplier_id, s.name, s.class, inv.invoice_number, inv.invoice_date, inv.po_number,
	inv.subtotal, inv.total, inv.page_count, inv.source_path, inv.segment_index, inv.document_type,
	inv.charges, inv.d2d, inv.d2d_type, inv.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (invoice.Invoice, error) {
	var (
		inv            invoice.Invoice
		class, charges string
		created        string
	)
	err := row.Scan(
		&inv.ID, &inv.SupplierID, &inv.SupplierName, &class, &inv.Number, &inv.Date, &inv.PONumber,
		&inv.Subtotal, &inv.Total, &inv.PageCount, &inv.SourcePath, &inv.SegmentIndex, &inv.DocumentType,
		&charges, &inv.D2D, &inv.D2DType, &created,
	)
	if err != nil {
		return inv, err
	}
	inv.SupplierClass = invoice.Class(class)
	if charges != "" {
		if err := json.Unmarshal([]byte(charges), &inv.Charges); err != nil {
			return inv, fmt.Errorf("decoding charges: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		inv.CreatedAt = t
	}
	return inv, nil
}

// ListInvoices implements Store.
func (s *SQLStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices inv
		JOIN suppliers s ON inv.supplier_id = s.id
		WHERE 1 = 1`
	var args []any
	if filter.Number != "" {
		query += ` AND inv.invoice_number = ?`
		args = append(args, filter.Number)
	}
	if filter.SupplierID != 0 {
		query += ` AND inv.supplier_id = ?`
		args = append(args, filter.SupplierID)
	}
	query += ` ORDER BY inv.id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]invoice.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading invoices: %w", err)
	}
	return window(invoices, filter), nil
}

// GetInvoice implements Store.
func (s *SQLStore) GetInvoice(ctx context.Context, id int64) (invoice.Invoice, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+invoiceColumns+`
		FROM invoices inv
		JOIN suppliers s ON inv.supplier_id = s.id
		WHERE inv.id = ?`), id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return inv, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return inv, fmt.Errorf("loading invoice %d: %w", id, err)
	}
	return inv, nil
}

// ListLineItems implements Store.
func (s *SQLStore) ListLineItems(ctx context.Context, invoiceID int64) ([]invoice.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, invoice_id, part_number, description, quantity, unit_price, line_total, raw_line
		FROM line_items
		WHERE invoice_id = ?
		ORDER BY id`), invoiceID)
	if err != nil {
		return nil, fmt.Errorf("querying line items: %w", err)
	}
	defer rows.Close()

	items := make([]invoice.LineItem, 0)
	for rows.Next() {
		var it invoice.LineItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.PartNumber, &it.Description, &it.Quantity, &it.UnitPrice, &it.LineTotal, &it.RawLine); err != nil {
			return nil, fmt.Errorf("scanning line item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading line items: %w", err)
	}
	return items, nil
}

// ListReceiptLines implements Store.
func (s *SQLStore) ListReceiptLines(ctx context.Context, batchID int64) ([]invoice.ReceiptLine, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, batch_id, supplier_name, transcode, part_number, qty_received, invoice_number, posting_date, raw_json
		FROM receipts_lines
		WHERE batch_id = ?
		ORDER BY id`), batchID)
	if err != nil {
		return nil, fmt.Errorf("querying receipt lines: %w", err)
	}
	defer rows.Close()

	lines := make([]invoice.ReceiptLine, 0)
	for rows.Next() {
		var l invoice.ReceiptLine
		err := rows.Scan(&l.ID, &l.BatchID, &l.SupplierName, &l.Transcode, &l.PartNumber, &l.Quantity, &l.InvoiceNumber, &l.PostingDate, &l.RawJSON)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading receipt lines: %w", err)
	}
	return lines, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func chargesOrEmpty(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	if m == nil {
		return map[string]decimal.Decimal{}
	}
	return m
}
