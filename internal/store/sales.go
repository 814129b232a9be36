package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

const saleColumns = `id, customer_id, customer_name, customer_phone, sale_date, store, staff, notes,
	total_amount, source, import_id, created_at, updated_at`

func scanSale(row pgx.Row) (crm.Sale, error) {
	var s crm.Sale
	err := row.Scan(
		&s.ID, &s.CustomerID, &s.CustomerName, &s.CustomerPhone, &s.Date, &s.Store, &s.Staff, &s.Notes,
		&s.TotalAmount, &s.Source, &s.ImportID, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

type SaleFilter struct {
	CustomerID *uuid.UUID
	Limit      int
	Offset     int
}

func (s *Store) CreateSale(ctx context.Context, sale *crm.Sale) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return insertSale(ctx, tx, sale)
	})
}

func insertSale(ctx context.Context, db dbtx, sale *crm.Sale) error {
	if sale.Source == "" {
		sale.Source = "manual"
	}
	err := db.QueryRow(ctx, `
		INSERT INTO sales (customer_id, customer_name, customer_phone, sale_date, store, staff, notes, total_amount, source, import_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`, sale.CustomerID, sale.CustomerName, sale.CustomerPhone, sale.Date, sale.Store, sale.Staff, sale.Notes,
		sale.TotalAmount, sale.Source, sale.ImportID,
	).Scan(&sale.ID, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return insertSaleItems(ctx, db, sale)
}

func insertSaleItems(ctx context.Context, db dbtx, sale *crm.Sale) error {
	for i := range sale.Items {
		item := &sale.Items[i]
		if err := db.QueryRow(ctx, `
			INSERT INTO sale_items (sale_id, product_code, size, quantity, amount)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, sale.ID, item.ProductCode, item.Size, item.Quantity, item.Amount).Scan(&item.ID); err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, id uuid.UUID) (crm.Sale, error) {
	sale, err := scanSale(s.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		return crm.Sale{}, notFound(err)
	}
	sales := []crm.Sale{sale}
	if err := s.attachItems(ctx, sales); err != nil {
		return crm.Sale{}, err
	}
	return sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, filter SaleFilter) ([]crm.Sale, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+saleColumns+` FROM sales
		WHERE ($1::uuid IS NULL OR customer_id = $1)
		ORDER BY sale_date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, filter.CustomerID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	var sales []crm.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	if err := s.attachItems(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) attachItems(ctx context.Context, sales []crm.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(sales))
	pos := make(map[uuid.UUID]int, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
		pos[sale.ID] = i
	}

	rows, err := s.pool.Query(ctx, `
		SELECT sale_id, id, product_code, size, quantity, amount
		FROM sale_items WHERE sale_id = ANY($1)
		ORDER BY sale_id, id
	`, ids)
	if err != nil {
		return fmt.Errorf("list sale items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			saleID uuid.UUID
			item   crm.SaleItem
		)
		if err := rows.Scan(&saleID, &item.ID, &item.ProductCode, &item.Size, &item.Quantity, &item.Amount); err != nil {
			return fmt.Errorf("scan sale item: %w", err)
		}
		i := pos[saleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	return rows.Err()
}

// UpdateSale replaces the sale and its line items and returns the customer the sale
// belonged to before the update.
func (s *Store) UpdateSale(ctx context.Context, sale *crm.Sale) (*uuid.UUID, error) {
	var previous *uuid.UUID
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT customer_id FROM sales WHERE id = $1 FOR UPDATE`, sale.ID).Scan(&previous); err != nil {
			return notFound(err)
		}
		if err := tx.QueryRow(ctx, `
			UPDATE sales
			SET customer_id = $2, customer_name = $3, customer_phone = $4, sale_date = $5, store = $6,
				staff = $7, notes = $8, total_amount = $9, updated_at = now()
			WHERE id = $1
			RETURNING source, import_id, created_at, updated_at
		`, sale.ID, sale.CustomerID, sale.CustomerName, sale.CustomerPhone, sale.Date, sale.Store,
			sale.Staff, sale.Notes, sale.TotalAmount,
		).Scan(&sale.Source, &sale.ImportID, &sale.CreatedAt, &sale.UpdatedAt); err != nil {
			return fmt.Errorf("update sale: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID); err != nil {
			return fmt.Errorf("delete sale items: %w", err)
		}
		return insertSaleItems(ctx, tx, sale)
	})
	return previous, err
}

// DeleteSale removes the sale with its line items and returns its customer.
func (s *Store) DeleteSale(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	var customerID *uuid.UUID
	if err := s.pool.QueryRow(ctx, `DELETE FROM sales WHERE id = $1 RETURNING customer_id`, id).Scan(&customerID); err != nil {
		return nil, notFound(err)
	}
	return customerID, nil
}
