package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const customerColumns = `
	c.customer_id, c.name, c.phone_number, c.token_number, c.service_type, c.status, c.service_day,
	c.check_in_time, c.estimated_wait_time, c.start_service_time, c.end_service_time, c.teller_id`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn inside a READ COMMITTED transaction. Customers and tellers are
// read with FOR UPDATE, so two units touching the same rows are linearized.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = pgTx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = pgTx.Rollback(ctx)
		}
	}()

	if err = fn(&txn{tx: pgTx}); err != nil {
		return err
	}
	if err = pgTx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) SeedTellers(ctx context.Context, tellers []models.Teller) (int, error) {
	inserted := 0
	for _, teller := range tellers {
		status := teller.Status
		if status == "" {
			status = models.TellerAvailable
		}
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO tellers (teller_id, name, status, customers_served, service_types)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (teller_id) DO NOTHING
		`, teller.ID, teller.Name, string(status), teller.CustomersServed, teller.ServiceTypes)
		if err != nil {
			return inserted, classify(err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *Store) InsertFeedback(ctx context.Context, feedback models.Feedback) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback (feedback_id, category, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, feedback.ID, feedback.Category, feedback.Rating, feedback.Comment, feedback.CreatedAt)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) ListFeedback(ctx context.Context) ([]models.Feedback, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT feedback_id, category, rating, comment, created_at
		FROM feedback
		ORDER BY created_at DESC, feedback_id DESC
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var list []models.Feedback
	for rows.Next() {
		var feedback models.Feedback
		var comment sql.NullString
		if err := rows.Scan(&feedback.ID, &feedback.Category, &feedback.Rating, &comment, &feedback.CreatedAt); err != nil {
			return nil, classify(err)
		}
		feedback.Comment = nullStringPtr(comment)
		list = append(list, feedback)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return list, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

type txn struct {
	tx pgx.Tx
}

// NextToken bumps the per-day counter row. The row lock is held until the
// surrounding transaction ends, so concurrent check-ins on one day queue up here.
func (t *txn) NextToken(ctx context.Context, day string) (int, error) {
	var next int
	row := t.tx.QueryRow(ctx, `
		INSERT INTO token_sequences (service_day, last_number)
		VALUES ($1, 1)
		ON CONFLICT (service_day)
		DO UPDATE SET last_number = token_sequences.last_number + 1
		RETURNING last_number
	`, day)
	if err := row.Scan(&next); err != nil {
		return 0, classify(err)
	}
	return next, nil
}

func (t *txn) InsertCustomer(ctx context.Context, c models.Customer) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO customers (
			customer_id, name, phone_number, token_number, service_type, status, service_day,
			check_in_time, estimated_wait_time, start_service_time, end_service_time, teller_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, c.ID, c.Name, c.PhoneNumber, c.TokenNumber, c.ServiceType, string(c.Status), c.ServiceDay,
		c.CheckInTime, c.EstimatedWaitTime, c.StartServiceTime, c.EndServiceTime, c.TellerID)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (t *txn) GetCustomer(ctx context.Context, customerID string) (models.Customer, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers c
		WHERE c.customer_id = $1
		FOR UPDATE
	`, customerID)
	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Customer{}, store.ErrCustomerNotFound
		}
		return models.Customer{}, classify(err)
	}
	return customer, nil
}

func (t *txn) UpdateCustomer(ctx context.Context, c models.Customer) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE customers
		SET status = $2,
			start_service_time = $3,
			end_service_time = $4,
			teller_id = $5,
			estimated_wait_time = $6
		WHERE customer_id = $1
	`, c.ID, string(c.Status), c.StartServiceTime, c.EndServiceTime, c.TellerID, c.EstimatedWaitTime)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCustomerNotFound
	}
	return nil
}

func (t *txn) ListCustomers(ctx context.Context, day string) ([]models.Customer, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+customerColumns+`
		FROM customers c
		WHERE c.service_day = $1
		ORDER BY c.check_in_time ASC, c.token_number ASC
	`, day)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, classify(err)
		}
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return customers, nil
}

func (t *txn) GetTeller(ctx context.Context, tellerID string) (models.Teller, error) {
	var teller models.Teller
	var status string
	row := t.tx.QueryRow(ctx, `
		SELECT teller_id, name, status, customers_served, service_types
		FROM tellers
		WHERE teller_id = $1
		FOR UPDATE
	`, tellerID)
	if err := row.Scan(&teller.ID, &teller.Name, &status, &teller.CustomersServed, &teller.ServiceTypes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Teller{}, store.ErrTellerNotFound
		}
		return models.Teller{}, classify(err)
	}
	teller.Status = models.TellerStatus(status)
	return teller, nil
}

func (t *txn) UpdateTeller(ctx context.Context, teller models.Teller) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tellers
		SET status = $2, customers_served = $3
		WHERE teller_id = $1
	`, teller.ID, string(teller.Status), teller.CustomersServed)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTellerNotFound
	}
	return nil
}

func (t *txn) ListTellers(ctx context.Context) ([]models.Teller, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT teller_id, name, status, customers_served, service_types
		FROM tellers
		ORDER BY teller_id ASC
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var tellers []models.Teller
	for rows.Next() {
		var teller models.Teller
		var status string
		if err := rows.Scan(&teller.ID, &teller.Name, &status, &teller.CustomersServed, &teller.ServiceTypes); err != nil {
			return nil, classify(err)
		}
		teller.Status = models.TellerStatus(status)
		tellers = append(tellers, teller)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return tellers, nil
}

func (t *txn) AppendEvent(ctx context.Context, customerID, eventType string, payload json.RawMessage, createdAt time.Time) (store.CustomerEvent, error) {
	var prev *store.CustomerEvent
	var last store.CustomerEvent
	var lastPayload string
	row := t.tx.QueryRow(ctx, `
		SELECT customer_id, seq, type, payload::text, created_at, prev_hash, hash
		FROM customer_events
		WHERE customer_id = $1
		ORDER BY seq DESC
		LIMIT 1
		FOR UPDATE
	`, customerID)
	if err := row.Scan(&last.CustomerID, &last.Seq, &last.Type, &lastPayload, &last.CreatedAt, &last.PrevHash, &last.Hash); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return store.CustomerEvent{}, classify(err)
		}
	} else {
		last.Payload = json.RawMessage(lastPayload)
		prev = &last
	}

	// timestamptz keeps microseconds; hash what will be read back.
	event := store.ChainEvent(prev, customerID, eventType, payload, createdAt.Truncate(time.Microsecond).UTC())
	_, err := t.tx.Exec(ctx, `
		INSERT INTO customer_events (customer_id, seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.CustomerID, event.Seq, event.Type, string(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	if err != nil {
		return store.CustomerEvent{}, classify(err)
	}
	return event, nil
}

func (t *txn) ListEvents(ctx context.Context, customerID string) ([]store.CustomerEvent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT customer_id, seq, type, payload::text, created_at, prev_hash, hash
		FROM customer_events
		WHERE customer_id = $1
		ORDER BY seq ASC
	`, customerID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var events []store.CustomerEvent
	for rows.Next() {
		var event store.CustomerEvent
		var payload string
		if err := rows.Scan(&event.CustomerID, &event.Seq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, classify(err)
		}
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (models.Customer, error) {
	var c models.Customer
	var status string
	var startNull sql.NullTime
	var endNull sql.NullTime
	var tellerNull sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &c.PhoneNumber, &c.TokenNumber, &c.ServiceType, &status, &c.ServiceDay,
		&c.CheckInTime, &c.EstimatedWaitTime, &startNull, &endNull, &tellerNull); err != nil {
		return models.Customer{}, err
	}
	c.Status = models.CustomerStatus(status)
	c.CheckInTime = c.CheckInTime.UTC()
	c.StartServiceTime = nullTimePtr(startNull)
	c.EndServiceTime = nullTimePtr(endNull)
	c.TellerID = nullStringPtr(tellerNull)
	return c, nil
}

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// classify maps driver errors onto the store taxonomy. Contention that a
// fresh attempt can resolve becomes ErrConflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
	}
	return fmt.Errorf("%w: %w", store.ErrStorage, err)
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
