package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

func (s *Store) CreateVisit(ctx context.Context, visit *crm.Visit) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO visits (customer_id, visited_at, purpose, notes)
		VALUES ($1, COALESCE($2, now()), $3, $4)
		RETURNING id, visited_at, created_at
	`, visit.CustomerID, nullTime(visit.VisitedAt), visit.Purpose, visit.Notes).Scan(&visit.ID, &visit.VisitedAt, &visit.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// ListVisits returns the newest visits, optionally for one customer.
func (s *Store) ListVisits(ctx context.Context, customerID *uuid.UUID, limit int) ([]crm.Visit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, customer_id, visited_at, purpose, notes, created_at
		FROM visits
		WHERE ($1::uuid IS NULL OR customer_id = $1)
		ORDER BY visited_at DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	visits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (crm.Visit, error) {
		var v crm.Visit
		err := row.Scan(&v.ID, &v.CustomerID, &v.VisitedAt, &v.Purpose, &v.Notes, &v.CreatedAt)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan visits: %w", err)
	}
	return visits, nil
}
