package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists orders in PostgreSQL. The unique index on
// orders.payment_reference is the correlation index; a second insert with
// the same reference fails with unique_violation and maps to ErrReferenceConflict.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, pack_id, pack_name, pack_content, customer_name, customer_email,
		       amount, status, payment_reference, payment_presentation,
		       created_at, updated_at, paid_at, delivered_at,
		       delivery_state, delivery_attempts, delivery_error, delivery_updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, pack_id, pack_name, pack_content, customer_name, customer_email,
			amount, status, payment_reference, payment_presentation,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.PackID, o.PackName, o.PackContent, o.CustomerName, o.CustomerEmail,
		o.Amount, string(o.Status), o.PaymentReference, o.PaymentPresentation,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "idx_orders_payment_reference" {
			return ErrReferenceConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1`, reference)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReferenceNotFound
	}
	return o, err
}

// Update runs fn under SELECT ... FOR UPDATE. Concurrent updaters of the
// same order queue on the row lock and see the committed result.
func (p *PostgresStore) Update(ctx context.Context, id string, fn func(o *Order) error) (*Order, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	current, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return current, err
	}

	var (
		deliveryState     sql.NullString
		deliveryAttempts  int
		deliveryError     sql.NullString
		deliveryUpdatedAt sql.NullTime
	)
	if d := working.Delivery; d != nil {
		deliveryState = nullString(string(d.State))
		deliveryAttempts = d.Attempts
		deliveryError = nullString(d.LastError)
		deliveryUpdatedAt = nullTime(d.UpdatedAt)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, updated_at = $2, paid_at = $3, delivered_at = $4,
			delivery_state = $5, delivery_attempts = $6, delivery_error = $7, delivery_updated_at = $8
		WHERE id = $9`,
		string(working.Status), working.UpdatedAt, nullTime(working.PaidAt), nullTime(working.DeliveredAt),
		deliveryState, deliveryAttempts, deliveryError, deliveryUpdatedAt,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return working, nil
}

func (p *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR delivery_state = $2)
		ORDER BY created_at DESC
		LIMIT $3`, string(filter.Status), string(filter.DeliveryState), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending_payment' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) ListStrandedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'delivered' AND delivery_state = 'queued' AND delivery_updated_at < $1
		ORDER BY delivery_updated_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*Order, error) {
	o := &Order{}
	var (
		status            string
		paidAt            sql.NullTime
		deliveredAt       sql.NullTime
		deliveryState     sql.NullString
		deliveryAttempts  int
		deliveryError     sql.NullString
		deliveryUpdatedAt sql.NullTime
	)

	err := s.Scan(
		&o.ID, &o.PackID, &o.PackName, &o.PackContent, &o.CustomerName, &o.CustomerEmail,
		&o.Amount, &status, &o.PaymentReference, &o.PaymentPresentation,
		&o.CreatedAt, &o.UpdatedAt, &paidAt, &deliveredAt,
		&deliveryState, &deliveryAttempts, &deliveryError, &deliveryUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	if deliveredAt.Valid {
		o.DeliveredAt = &deliveredAt.Time
	}
	if deliveryState.Valid {
		o.Delivery = &Delivery{
			State:     DeliveryState(deliveryState.String),
			Attempts:  deliveryAttempts,
			LastError: deliveryError.String,
		}
		if deliveryUpdatedAt.Valid {
			o.Delivery.UpdatedAt = &deliveryUpdatedAt.Time
		}
	}
	return o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
