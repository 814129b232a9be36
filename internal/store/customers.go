package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yutaoyuan/crm-system-sub000/internal/crm"
)

const customerColumns = `id, phone, name, notes, total_consumption, consumption_count, consumption_times,
	last_consumption, total_points, available_points, created_at, updated_at`

func scanCustomer(row pgx.Row) (crm.Customer, error) {
	var c crm.Customer
	err := row.Scan(
		&c.ID, &c.Phone, &c.Name, &c.Notes,
		&c.TotalConsumption, &c.ConsumptionCount, &c.ConsumptionTimes,
		&c.LastConsumption, &c.TotalPoints, &c.AvailablePoints,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// CustomerCursor marks the last row of a listing page.
type CustomerCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

type ListCustomersParams struct {
	// Query matches a name substring or a phone prefix.
	Query string
	Limit int
	After *CustomerCursor
}

func (s *Store) ListCustomers(ctx context.Context, params ListCustomersParams) ([]crm.Customer, error) {
	var (
		where []string
		args  []any
	)
	if q := strings.TrimSpace(params.Query); q != "" {
		args = append(args, "%"+q+"%", q+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR phone LIKE $%d)", len(args)-1, len(args)))
	}
	if params.After != nil {
		args = append(args, params.After.CreatedAt, params.After.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	sql := `SELECT ` + customerColumns + ` FROM customers`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, params.Limit)
	sql += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var out []crm.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCustomer(ctx context.Context, phone, name, notes string) (crm.Customer, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO customers (phone, name, notes)
		VALUES ($1, $2, $3)
		RETURNING `+customerColumns, phone, name, notes)
	c, err := scanCustomer(row)
	if err != nil {
		if isUniqueConstraint(err, "customers_phone_key") {
			return crm.Customer{}, ErrPhoneTaken
		}
		return crm.Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	return c, nil
}

func (s *Store) GetCustomer(ctx context.Context, id uuid.UUID) (crm.Customer, error) {
	c, err := scanCustomer(s.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		return crm.Customer{}, notFound(err)
	}
	return c, nil
}

// FindCustomerByPhone looks up a customer by normalized phone.
func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (crm.CustomerRef, error) {
	var ref crm.CustomerRef
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM customers WHERE phone = $1`, phone).Scan(&ref.ID, &ref.Name)
	if err != nil {
		return crm.CustomerRef{}, notFound(err)
	}
	return ref, nil
}

// EachCustomer streams every customer in phone order.
func (s *Store) EachCustomer(ctx context.Context, fn func(crm.Customer) error) error {
	rows, err := s.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY phone`)
	if err != nil {
		return fmt.Errorf("export customers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return fmt.Errorf("scan customer: %w", err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LoadCustomerIndex returns phone to customer for every customer.
func (s *Store) LoadCustomerIndex(ctx context.Context) (map[string]crm.CustomerRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, phone, name FROM customers`)
	if err != nil {
		return nil, fmt.Errorf("load customer index: %w", err)
	}
	defer rows.Close()

	index := map[string]crm.CustomerRef{}
	for rows.Next() {
		var (
			ref   crm.CustomerRef
			phone string
		)
		if err := rows.Scan(&ref.ID, &phone, &ref.Name); err != nil {
			return nil, fmt.Errorf("scan customer index: %w", err)
		}
		index[phone] = ref
	}
	return index, rows.Err()
}

func (s *Store) CustomerIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM customers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list customer ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan customer ids: %w", err)
	}
	return ids, nil
}
