package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
	"github.com/yutaoyuan/crm-system-sub000/internal/importer"
)

const (
	stmtSaleLinked   = "import_sale_linked"
	stmtSaleOrphan   = "import_sale_orphan"
	stmtSaleItem     = "import_sale_item"
	stmtLedgerLinked = "import_ledger_linked"
	stmtLedgerOrphan = "import_ledger_orphan"
)

var batchStatements = map[importer.Kind][][2]string{
	importer.KindSales: {
		{stmtSaleLinked, `
			INSERT INTO sales (customer_id, customer_name, customer_phone, sale_date, store, staff, notes, total_amount, source, import_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at`},
		{stmtSaleOrphan, `
			INSERT INTO sales (customer_name, customer_phone, sale_date, store, staff, notes, total_amount, source, import_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at, updated_at`},
		{stmtSaleItem, `
			INSERT INTO sale_items (sale_id, product_code, size, quantity, amount)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`},
	},
	importer.KindLedger: {
		{stmtLedgerLinked, `
			INSERT INTO ledger_entries (customer_id, customer_name, customer_phone, channel, points, entry_date, notes, operator, source, import_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at`},
		{stmtLedgerOrphan, `
			INSERT INTO ledger_entries (customer_name, customer_phone, channel, points, entry_date, notes, operator, source, import_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at, updated_at`},
	},
}

// BeginBatch opens the transaction for one import batch and prepares the linked and
// orphan insert statements of kind on its connection.
func (s *Store) BeginBatch(ctx context.Context, kind importer.Kind) (importer.BatchTx, error) {
	statements, ok := batchStatements[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", importer.ErrUnknownKind, kind)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	for _, stmt := range statements {
		if _, err := tx.Prepare(ctx, stmt[0], stmt[1]); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("prepare %s: %w", stmt[0], err)
		}
	}
	return &batchTx{tx: tx}, nil
}

// batchTx runs every row in its own savepoint so a failed insert does not abort the
// surrounding transaction.
type batchTx struct {
	tx pgx.Tx
}

func (b *batchTx) savepoint(ctx context.Context, fn func(sp pgx.Tx) error) error {
	sp, err := b.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (b *batchTx) InsertSale(ctx context.Context, sale *crm.Sale) error {
	return b.savepoint(ctx, func(sp pgx.Tx) error {
		var row pgx.Row
		if sale.CustomerID != nil {
			row = sp.QueryRow(ctx, stmtSaleLinked, *sale.CustomerID, sale.CustomerName, sale.CustomerPhone,
				sale.Date, sale.Store, sale.Staff, sale.Notes, sale.TotalAmount, sale.Source, sale.ImportID)
		} else {
			row = sp.QueryRow(ctx, stmtSaleOrphan, sale.CustomerName, sale.CustomerPhone,
				sale.Date, sale.Store, sale.Staff, sale.Notes, sale.TotalAmount, sale.Source, sale.ImportID)
		}
		if err := row.Scan(&sale.ID, &sale.CreatedAt, &sale.UpdatedAt); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		for i := range sale.Items {
			item := &sale.Items[i]
			if err := sp.QueryRow(ctx, stmtSaleItem, sale.ID, item.ProductCode, item.Size, item.Quantity, item.Amount).Scan(&item.ID); err != nil {
				return fmt.Errorf("insert sale item: %w", err)
			}
		}
		return nil
	})
}

func (b *batchTx) InsertLedgerEntry(ctx context.Context, entry *crm.LedgerEntry) error {
	return b.savepoint(ctx, func(sp pgx.Tx) error {
		var row pgx.Row
		if entry.CustomerID != nil {
			row = sp.QueryRow(ctx, stmtLedgerLinked, *entry.CustomerID, entry.CustomerName, entry.CustomerPhone,
				string(entry.Channel), entry.Points, entry.Date, entry.Notes, entry.Operator, entry.Source, entry.ImportID)
		} else {
			row = sp.QueryRow(ctx, stmtLedgerOrphan, entry.CustomerName, entry.CustomerPhone,
				string(entry.Channel), entry.Points, entry.Date, entry.Notes, entry.Operator, entry.Source, entry.ImportID)
		}
		if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		return nil
	})
}

// EnsureCustomer returns the id of the customer with phone, creating it when missing.
// An existing customer keeps its name.
func (b *batchTx) EnsureCustomer(ctx context.Context, phone, name string) (uuid.UUID, error) {
	if name == "" {
		name = crm.PlaceholderName
	}
	var id uuid.UUID
	err := b.savepoint(ctx, func(sp pgx.Tx) error {
		return sp.QueryRow(ctx, `
			INSERT INTO customers (phone, name)
			VALUES ($1, $2)
			ON CONFLICT (phone) DO UPDATE SET updated_at = customers.updated_at
			RETURNING id
		`, phone, name).Scan(&id)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert customer: %w", err)
	}
	return id, nil
}

func (b *batchTx) Commit(ctx context.Context) error {
	return b.tx.Commit(ctx)
}

func (b *batchTx) Rollback(ctx context.Context) error {
	return b.tx.Rollback(ctx)
}
