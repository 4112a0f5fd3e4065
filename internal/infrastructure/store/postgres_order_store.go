package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/checkout-saga/internal/domain/order"
	_ "github.com/lib/pq"
)

const orderColumns = `id, user_id, customer_email, items, status, total_amount,
	checkout_session_id, fulfilment_step, version, created_at, updated_at, payment_confirmed_at`

// PostgresOrderStore stores orders in PostgreSQL
type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgresOrderStore(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

func (s *PostgresOrderStore) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}

	o.Version = 1
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID,
		o.UserID,
		o.CustomerEmail,
		items,
		string(o.Status),
		o.TotalAmount,
		nullIfEmpty(o.CheckoutSessionID),
		string(o.FulfilmentStep),
		o.Version,
		o.CreatedAt,
		o.UpdatedAt,
		nullTime(o.PaymentConfirmedAt),
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func (s *PostgresOrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (s *PostgresOrderStore) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE checkout_session_id = $1`, sessionID)
	return scanOrder(row)
}

func (s *PostgresOrderStore) ListByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresOrderStore) Save(ctx context.Context, o *order.Order) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, checkout_session_id = $2, fulfilment_step = $3,
		     payment_confirmed_at = $4, updated_at = $5, version = version + 1
		 WHERE id = $6 AND version = $7`,
		string(o.Status),
		nullIfEmpty(o.CheckoutSessionID),
		string(o.FulfilmentStep),
		nullTime(o.PaymentConfirmedAt),
		o.UpdatedAt,
		o.ID,
		o.Version,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, o.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: order %s version %d", order.ErrConcurrentUpdate, o.ID, o.Version)
	}

	o.Version++
	return nil
}

func (s *PostgresOrderStore) ListUnsettled(ctx context.Context, before time.Time, limit int) ([]*order.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE (status = $1 OR (status = $2 AND fulfilment_step <> $3))
		   AND updated_at < $4
		 ORDER BY updated_at
		 LIMIT $5`,
		string(order.StatusPending),
		string(order.StatusPaid),
		string(order.StepCompleted),
		before,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresOrderStore) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE event_id = $1)", eventID,
	).Scan(&exists)
	return exists, err
}

func (s *PostgresOrderStore) MarkEventProcessed(ctx context.Context, eventID, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_webhook_events (event_id, order_id) VALUES ($1, $2)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, orderID,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o         order.Order
		items     []byte
		status    string
		sessionID sql.NullString
		step      string
		confirmed sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.CustomerEmail,
		&items,
		&status,
		&o.TotalAmount,
		&sessionID,
		&step,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
		&confirmed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", o.ID, err)
	}
	o.Status = order.Status(status)
	o.CheckoutSessionID = sessionID.String
	o.FulfilmentStep = order.Step(step)
	if confirmed.Valid {
		at := confirmed.Time
		o.PaymentConfirmedAt = &at
	}
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*order.Order, error) {
	var result []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// ConnectPostgres opens a connection pool and verifies it with a ping.
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
