package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"

	"github.com/zombor/parts-recon/internal/invoice"
	"github.com/zombor/parts-recon/internal/reconcile"
)

const (
	suppliersBucket      = "suppliers"
	supplierNamesBucket  = "supplier_names"
	invoicesBucket       = "invoices"
	lineItemsBucket      = "line_items"
	receiptBatchesBucket = "receipts_batches"
	receiptLinesBucket   = "receipts_lines"
)

var buckets = []string{
	suppliersBucket,
	supplierNamesBucket,
	invoicesBucket,
	lineItemsBucket,
	receiptBatchesBucket,
	receiptLinesBucket,
}

// BoltStore implements Store on a single bbolt file. Records are JSON values
// under big-endian sequence keys; line items and receipt lines are keyed by
// their parent ID followed by their own so a prefix scan lists them in order.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func childKey(parent, id int64) []byte {
	return append(itob(parent), itob(id)...)
}

func put(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	return b.Put(key, data)
}

func nextID(b *bbolt.Bucket) (int64, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("allocating id: %w", err)
	}
	return int64(seq), nil
}

func (s *BoltStore) supplier(tx *bbolt.Tx, name string, class invoice.Class) (invoice.Supplier, error) {
	names := tx.Bucket([]byte(supplierNamesBucket))
	suppliers := tx.Bucket([]byte(suppliersBucket))

	if id := names.Get([]byte(name)); id != nil {
		var sup invoice.Supplier
		if err := json.Unmarshal(suppliers.Get(id), &sup); err != nil {
			return sup, fmt.Errorf("unmarshaling supplier: %w", err)
		}
		return sup, nil
	}

	id, err := nextID(suppliers)
	if err != nil {
		return invoice.Supplier{}, err
	}
	sup := invoice.Supplier{ID: id, Name: name, Class: class}
	if err := put(suppliers, itob(id), sup); err != nil {
		return sup, err
	}
	return sup, names.Put([]byte(name), itob(id))
}

// InsertInvoice implements Store.
func (s *BoltStore) InsertInvoice(_ context.Context, inv invoice.Invoice, items []invoice.LineItem, opts InsertOptions) (invoice.Invoice, error) {
	if inv.SupplierName == "" {
		inv.SupplierName = invoice.UnknownSupplier
	}
	if inv.DocumentType == "" {
		inv.DocumentType = invoice.DocumentInvoice
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	inv.Charges = chargesOrEmpty(inv.Charges)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		sup, err := s.supplier(tx, inv.SupplierName, supplierClass(inv))
		if err != nil {
			return err
		}
		inv.SupplierID, inv.SupplierClass = sup.ID, sup.Class

		invoices := tx.Bucket([]byte(invoicesBucket))
		if opts.SkipDuplicates && inv.Number != "" {
			dup := false
			err := invoices.ForEach(func(_, v []byte) error {
				var existing invoice.Invoice
				if err := json.Unmarshal(v, &existing); err != nil {
					return fmt.Errorf("unmarshaling invoice: %w", err)
				}
				if existing.SupplierID == inv.SupplierID && existing.Number == inv.Number {
					dup = true
				}
				return nil
			})
			if err != nil {
				return err
			}
			if dup {
				return ErrDuplicate
			}
		}

		if inv.ID, err = nextID(invoices); err != nil {
			return err
		}
		if err := put(invoices, itob(inv.ID), inv); err != nil {
			return err
		}

		lines := tx.Bucket([]byte(lineItemsBucket))
		for _, it := range items {
			if err := checkLineItem(it, inv.ID); err != nil {
				return err
			}
			if it.ID, err = nextID(lines); err != nil {
				return err
			}
			it.InvoiceID = inv.ID
			if err := put(lines, childKey(inv.ID, it.ID), it); err != nil {
				return err
			}
		}
		return nil
	})
	return inv, err
}

// InsertReceiptBatch implements Store.
func (s *BoltStore) InsertReceiptBatch(_ context.Context, batch invoice.ReceiptBatch, lines []invoice.ReceiptLine) (int64, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		batches := tx.Bucket([]byte(receiptBatchesBucket))
		var err error
		if batch.ID, err = nextID(batches); err != nil {
			return err
		}
		if err := put(batches, itob(batch.ID), batch); err != nil {
			return err
		}

		bucket := tx.Bucket([]byte(receiptLinesBucket))
		for _, l := range lines {
			if l.ID, err = nextID(bucket); err != nil {
				return err
			}
			l.BatchID = batch.ID
			if err := put(bucket, childKey(batch.ID, l.ID), l); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return batch.ID, nil
}

func (s *BoltStore) suppliersByID(tx *bbolt.Tx) (map[int64]invoice.Supplier, error) {
	out := map[int64]invoice.Supplier{}
	err := tx.Bucket([]byte(suppliersBucket)).ForEach(func(k, v []byte) error {
		var sup invoice.Supplier
		if err := json.Unmarshal(v, &sup); err != nil {
			return fmt.Errorf("unmarshaling supplier: %w", err)
		}
		out[sup.ID] = sup
		return nil
	})
	return out, err
}

func (s *BoltStore) eachInvoice(tx *bbolt.Tx, fn func(invoice.Invoice) error) error {
	suppliers, err := s.suppliersByID(tx)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(invoicesBucket)).ForEach(func(k, v []byte) error {
		var inv invoice.Invoice
		if err := json.Unmarshal(v, &inv); err != nil {
			return fmt.Errorf("unmarshaling invoice: %w", err)
		}
		if sup, ok := suppliers[inv.SupplierID]; ok {
			inv.SupplierName, inv.SupplierClass = sup.Name, sup.Class
		}
		return fn(inv)
	})
}

// BilledQuantities implements Store.
func (s *BoltStore) BilledQuantities(_ context.Context) ([]reconcile.BilledQuantity, error) {
	var q quantities[billedKey]
	err := s.db.View(func(tx *bbolt.Tx) error {
		invoices := map[int64]invoice.Invoice{}
		if err := s.eachInvoice(tx, func(inv invoice.Invoice) error {
			invoices[inv.ID] = inv
			return nil
		}); err != nil {
			return err
		}

		return tx.Bucket([]byte(lineItemsBucket)).ForEach(func(k, v []byte) error {
			var it invoice.LineItem
			if err := json.Unmarshal(v, &it); err != nil {
				return fmt.Errorf("unmarshaling line item: %w", err)
			}
			inv := invoices[it.InvoiceID]
			q.add(billedKey{supplier: inv.SupplierName, class: inv.SupplierClass, part: it.PartNumber}, it.Quantity.Decimal)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading billed quantities: %w", err)
	}
	return billedRows(&q), nil
}

// ReceivedQuantities implements Store.
func (s *BoltStore) ReceivedQuantities(_ context.Context, transcode string) ([]reconcile.ReceivedQuantity, error) {
	var q quantities[receivedKey]
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptLinesBucket)).ForEach(func(k, v []byte) error {
			var l invoice.ReceiptLine
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("unmarshaling receipt line: %w", err)
			}
			if l.Transcode != transcode {
				return nil
			}
			q.add(receivedKey{supplier: l.SupplierName, transcode: l.Transcode, part: l.PartNumber}, l.Quantity)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading received quantities: %w", err)
	}
	return receivedRows(&q), nil
}

// ListSuppliers implements Store.
func (s *BoltStore) ListSuppliers(_ context.Context) ([]SupplierSummary, error) {
	byID := map[int64]*SupplierSummary{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		suppliers, err := s.suppliersByID(tx)
		if err != nil {
			return err
		}
		for id, sup := range suppliers {
			byID[id] = &SupplierSummary{Supplier: sup, TotalBilled: decimal.Zero}
		}
		return s.eachInvoice(tx, func(inv invoice.Invoice) error {
			summary, ok := byID[inv.SupplierID]
			if !ok {
				return nil
			}
			summary.Invoices++
			if inv.Total.Valid {
				summary.TotalBilled = summary.TotalBilled.Add(inv.Total.Decimal)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing suppliers: %w", err)
	}
	return sortedSummaries(byID), nil
}

// ListInvoices implements Store.
func (s *BoltStore) ListInvoices(_ context.Context, filter InvoiceFilter) ([]invoice.Invoice, error) {
	invoices := make([]invoice.Invoice, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return s.eachInvoice(tx, func(inv invoice.Invoice) error {
			if filter.Number != "" && inv.Number != filter.Number {
				return nil
			}
			if filter.SupplierID != 0 && inv.SupplierID != filter.SupplierID {
				return nil
			}
			invoices = append(invoices, inv)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	return window(invoices, filter), nil
}

// GetInvoice implements Store.
func (s *BoltStore) GetInvoice(_ context.Context, id int64) (invoice.Invoice, error) {
	var inv invoice.Invoice
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(invoicesBucket)).Get(itob(id))
		if data == nil {
			return fmt.Errorf("invoice %d: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &inv); err != nil {
			return fmt.Errorf("unmarshaling invoice: %w", err)
		}
		if v := tx.Bucket([]byte(suppliersBucket)).Get(itob(inv.SupplierID)); v != nil {
			var sup invoice.Supplier
			if err := json.Unmarshal(v, &sup); err != nil {
				return fmt.Errorf("unmarshaling supplier: %w", err)
			}
			inv.SupplierName, inv.SupplierClass = sup.Name, sup.Class
		}
		return nil
	})
	return inv, err
}

// ListLineItems implements Store.
func (s *BoltStore) ListLineItems(_ context.Context, invoiceID int64) ([]invoice.LineItem, error) {
	items := make([]invoice.LineItem, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scanPrefix(tx.Bucket([]byte(lineItemsBucket)), invoiceID, func(v []byte) error {
			var it invoice.LineItem
			if err := json.Unmarshal(v, &it); err != nil {
				return fmt.Errorf("unmarshaling line item: %w", err)
			}
			items = append(items, it)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListReceiptLines implements Store.
func (s *BoltStore) ListReceiptLines(_ context.Context, batchID int64) ([]invoice.ReceiptLine, error) {
	lines := make([]invoice.ReceiptLine, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return scanPrefix(tx.Bucket([]byte(receiptLinesBucket)), batchID, func(v []byte) error {
			var l invoice.ReceiptLine
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("unmarshaling receipt line: %w", err)
			}
			lines = append(lines, l)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func scanPrefix(b *bbolt.Bucket, parent int64, fn func(v []byte) error) error {
	prefix := itob(parent)
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
