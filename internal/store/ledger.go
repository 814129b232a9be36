package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

const ledgerColumns = `id, customer_id, customer_name, customer_phone, channel, points, entry_date, notes,
	operator, source, import_id, created_at, updated_at`

func scanLedgerEntry(row pgx.Row) (crm.LedgerEntry, error) {
	var e crm.LedgerEntry
	err := row.Scan(
		&e.ID, &e.CustomerID, &e.CustomerName, &e.CustomerPhone, &e.Channel, &e.Points, &e.Date, &e.Notes,
		&e.Operator, &e.Source, &e.ImportID, &e.CreatedAt, &e.UpdatedAt,
	)
	return e, err
}

type LedgerFilter struct {
	CustomerID *uuid.UUID
	Limit      int
	Offset     int
}

func (s *Store) CreateLedgerEntry(ctx context.Context, entry *crm.LedgerEntry) error {
	if entry.Source == "" {
		entry.Source = "manual"
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ledger_entries (customer_id, customer_name, customer_phone, channel, points, entry_date, notes, operator, source, import_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`, entry.CustomerID, entry.CustomerName, entry.CustomerPhone, string(entry.Channel), entry.Points, entry.Date,
		entry.Notes, entry.Operator, entry.Source, entry.ImportID,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (s *Store) GetLedgerEntry(ctx context.Context, id uuid.UUID) (crm.LedgerEntry, error) {
	e, err := scanLedgerEntry(s.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = $1`, id))
	if err != nil {
		return crm.LedgerEntry{}, notFound(err)
	}
	return e, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]crm.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE ($1::uuid IS NULL OR customer_id = $1)
		ORDER BY entry_date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, filter.CustomerID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (crm.LedgerEntry, error) {
		return scanLedgerEntry(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan ledger entries: %w", err)
	}
	return entries, nil
}

// UpdateLedgerEntry rewrites the entry and returns the customer it belonged to before.
func (s *Store) UpdateLedgerEntry(ctx context.Context, entry *crm.LedgerEntry) (*uuid.UUID, error) {
	var previous *uuid.UUID
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT customer_id FROM ledger_entries WHERE id = $1 FOR UPDATE`, entry.ID).Scan(&previous); err != nil {
			return notFound(err)
		}
		if err := tx.QueryRow(ctx, `
			UPDATE ledger_entries
			SET customer_id = $2, customer_name = $3, customer_phone = $4, channel = $5, points = $6,
				entry_date = $7, notes = $8, operator = $9, updated_at = now()
			WHERE id = $1
			RETURNING source, import_id, created_at, updated_at
		`, entry.ID, entry.CustomerID, entry.CustomerName, entry.CustomerPhone, string(entry.Channel), entry.Points,
			entry.Date, entry.Notes, entry.Operator,
		).Scan(&entry.Source, &entry.ImportID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return fmt.Errorf("update ledger entry: %w", err)
		}
		return nil
	})
	return previous, err
}

func (s *Store) DeleteLedgerEntry(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	var customerID *uuid.UUID
	if err := s.pool.QueryRow(ctx, `DELETE FROM ledger_entries WHERE id = $1 RETURNING customer_id`, id).Scan(&customerID); err != nil {
		return nil, notFound(err)
	}
	return customerID, nil
}
