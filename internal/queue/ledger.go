package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/branch-queue/internal/clock"
	"qms/branch-queue/internal/metrics"
	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Options struct {
	// Location decides where a service day starts. Defaults to UTC.
	Location  *time.Location
	Estimator WaitEstimator
	// Tokens replaces the store's per-day counter when set.
	Tokens     store.TokenAllocator
	MaxRetries int
	Logger     *zap.Logger
	NewID      func() string
}

// Ledger owns the customer state machine. Every operation runs as one unit
// of work against the store; teller state only changes through it.
type Ledger struct {
	store      store.Store
	clock      clock.Clock
	loc        *time.Location
	estimator  WaitEstimator
	tokens     store.TokenAllocator
	maxRetries int
	log        *zap.Logger
	tracer     trace.Tracer
	newID      func() string
}

func NewLedger(st store.Store, clk clock.Clock, opts Options) *Ledger {
	if clk == nil {
		clk = clock.System{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Estimator == nil {
		cfg := DefaultEstimatorConfig()
		opts.Estimator = FixedEstimator{Default: cfg.DefaultWaitMinutes}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Ledger{
		store:      st,
		clock:      clk,
		loc:        opts.Location,
		estimator:  opts.Estimator,
		tokens:     opts.Tokens,
		maxRetries: opts.MaxRetries,
		log:        opts.Logger,
		tracer:     otel.Tracer("qms/branch-queue/queue"),
		newID:      opts.NewID,
	}
}

type CheckInInput struct {
	Name        string
	PhoneNumber string
	ServiceType string
}

func (l *Ledger) CheckIn(ctx context.Context, in CheckInInput) (models.Customer, error) {
	ctx, span := l.tracer.Start(ctx, "queue.CheckIn")
	defer span.End()

	name := strings.TrimSpace(in.Name)
	phone := models.NormalizePhone(in.PhoneNumber)
	serviceType := strings.TrimSpace(in.ServiceType)
	if name == "" || phone == "" || serviceType == "" {
		err := fmt.Errorf("%w: name, phone_number and service_type are required", store.ErrValidation)
		metrics.TransitionRejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
		endSpan(span, err)
		return models.Customer{}, err
	}
	span.SetAttributes(attribute.String("service_type", serviceType))

	customer, err := withRetry(ctx, l, "check_in", func() (models.Customer, error) {
		day := clock.ServiceDay(l.now(), l.loc)

		var (
			token int
			now   time.Time
		)
		if l.tokens != nil {
			next, err := l.tokens.NextToken(ctx, day)
			if err != nil {
				return models.Customer{}, fmt.Errorf("%w: allocate token: %w", store.ErrStorage, err)
			}
			token = next
			if now, err = l.stamp(day); err != nil {
				return models.Customer{}, err
			}
		}

		var created models.Customer
		err := l.store.InTx(ctx, func(tx store.Tx) error {
			if l.tokens == nil {
				next, err := tx.NextToken(ctx, day)
				if err != nil {
					return err
				}
				token = next
				// The counter row stays locked until commit, so a later
				// token always reads a later time.
				if now, err = l.stamp(day); err != nil {
					return err
				}
			}
			snapshot, err := l.snapshot(ctx, tx, day)
			if err != nil {
				return err
			}
			c := models.Customer{
				ID:                l.newID(),
				Name:              name,
				PhoneNumber:       phone,
				TokenNumber:       token,
				ServiceType:       serviceType,
				Status:            models.StatusWaiting,
				ServiceDay:        day,
				CheckInTime:       now,
				EstimatedWaitTime: l.estimator.Estimate(serviceType, snapshot),
			}
			if err := tx.InsertCustomer(ctx, c); err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, c, now); err != nil {
				return err
			}
			created = c
			return nil
		})
		return created, err
	})
	if err != nil {
		l.log.Error("check in failed", zap.String("service_type", serviceType), zap.Error(err))
		endSpan(span, err)
		return models.Customer{}, err
	}

	metrics.CheckInsTotal.WithLabelValues(serviceType).Inc()
	l.log.Info("customer checked in",
		zap.String("customer_id", customer.ID),
		zap.Int("token_number", customer.TokenNumber),
		zap.String("service_type", customer.ServiceType),
		zap.String("service_day", customer.ServiceDay),
		zap.Int("estimated_wait_time", customer.EstimatedWaitTime),
	)
	span.SetAttributes(attribute.String("customer.id", customer.ID), attribute.Int("token_number", customer.TokenNumber))
	return customer, nil
}

// UpdateStatus moves a customer to status. tellerID names the teller taking
// the customer on serving; on completed or cancelled it may be empty, and
// if given must match the assigned teller.
func (l *Ledger) UpdateStatus(ctx context.Context, customerID, status, tellerID string) (models.Customer, error) {
	ctx, span := l.tracer.Start(ctx, "queue.UpdateStatus", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("status", status),
		attribute.String("teller.id", tellerID),
	))
	defer span.End()

	to, ok := models.ParseCustomerStatus(status)
	if !ok {
		err := fmt.Errorf("%w: unknown status %q", store.ErrValidation, status)
		l.reject(customerID, status, tellerID, err)
		endSpan(span, err)
		return models.Customer{}, err
	}
	customerID = strings.TrimSpace(customerID)
	tellerID = strings.TrimSpace(tellerID)

	result, err := withRetry(ctx, l, "update_status", func() (transitionResult, error) {
		var res transitionResult
		err := l.store.InTx(ctx, func(tx store.Tx) error {
			var err error
			res, err = l.applyTransition(ctx, tx, customerID, to, tellerID, l.now())
			return err
		})
		return res, err
	})
	if err != nil {
		l.reject(customerID, status, tellerID, err)
		endSpan(span, err)
		return models.Customer{}, err
	}
	l.committed(result)
	return result.customer, nil
}

// ServeNext hands the teller the lowest-token customer of the day waiting
// for a service it offers.
func (l *Ledger) ServeNext(ctx context.Context, tellerID string) (models.Customer, error) {
	ctx, span := l.tracer.Start(ctx, "queue.ServeNext", trace.WithAttributes(attribute.String("teller.id", tellerID)))
	defer span.End()

	result, err := withRetry(ctx, l, "serve_next", func() (transitionResult, error) {
		var res transitionResult
		err := l.store.InTx(ctx, func(tx store.Tx) error {
			now := l.now()
			teller, candidate, found, err := l.nextFor(ctx, tx, tellerID, now)
			if err != nil {
				return err
			}
			if teller.Status != models.TellerAvailable {
				return fmt.Errorf("%w: teller %s is %s", store.ErrTellerUnavailable, teller.ID, teller.Status)
			}
			if !found {
				return fmt.Errorf("%w: teller %s", store.ErrNoWaitingCustomer, teller.ID)
			}
			locked, err := tx.GetCustomer(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if locked.Status != models.StatusWaiting {
				return fmt.Errorf("%w: customer %s taken concurrently", store.ErrConflict, locked.ID)
			}
			res, err = l.applyTransition(ctx, tx, candidate.ID, models.StatusServing, teller.ID, now)
			return err
		})
		return res, err
	})
	if err != nil {
		l.reject("", string(models.StatusServing), tellerID, err)
		endSpan(span, err)
		return models.Customer{}, err
	}
	l.committed(result)
	return result.customer, nil
}

// NextForTeller previews the customer ServeNext would pick, without
// changing anything.
func (l *Ledger) NextForTeller(ctx context.Context, tellerID string) (models.Customer, bool, error) {
	var next models.Customer
	var found bool
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		_, next, found, err = l.nextFor(ctx, tx, tellerID, l.now())
		return err
	})
	if err != nil {
		return models.Customer{}, false, err
	}
	return next, found, nil
}

// ListToday returns the customers of the current service day in arrival
// order, each carrying the name of its teller when one is assigned.
func (l *Ledger) ListToday(ctx context.Context) ([]models.Customer, error) {
	ctx, span := l.tracer.Start(ctx, "queue.ListToday")
	defer span.End()

	day := clock.ServiceDay(l.now(), l.loc)
	var customers []models.Customer
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		list, err := tx.ListCustomers(ctx, day)
		if err != nil {
			return err
		}
		tellers, err := tx.ListTellers(ctx)
		if err != nil {
			return err
		}
		names := make(map[string]string, len(tellers))
		for _, t := range tellers {
			names[t.ID] = t.Name
		}
		for i := range list {
			list[i].TellerName = names[list[i].AssignedTeller()]
		}
		customers = list
		return nil
	})
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	if customers == nil {
		customers = []models.Customer{}
	}
	return customers, nil
}

func (l *Ledger) FindAvailableTeller(ctx context.Context, serviceType string) (models.Teller, bool, error) {
	tellers, err := l.ListTellers(ctx)
	if err != nil {
		return models.Teller{}, false, err
	}
	teller, ok := findAvailable(tellers, strings.TrimSpace(serviceType))
	return teller, ok, nil
}

func (l *Ledger) ListTellers(ctx context.Context) ([]models.Teller, error) {
	var tellers []models.Teller
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		tellers, err = tx.ListTellers(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if tellers == nil {
		tellers = []models.Teller{}
	}
	return tellers, nil
}

func (l *Ledger) Stats(ctx context.Context) (QueueStats, error) {
	day := clock.ServiceDay(l.now(), l.loc)
	var customers []models.Customer
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		customers, err = tx.ListCustomers(ctx, day)
		return err
	})
	if err != nil {
		return QueueStats{}, err
	}
	return computeStats(day, customers), nil
}

// History returns the audit trail of one customer, oldest first.
func (l *Ledger) History(ctx context.Context, customerID string) ([]store.CustomerEvent, error) {
	var events []store.CustomerEvent
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		events, err = tx.ListEvents(ctx, customerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	// Check-in always writes the first event.
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrCustomerNotFound, customerID)
	}
	return events, nil
}

type transitionResult struct {
	customer models.Customer
	from     models.CustomerStatus
}

// applyTransition locks the customer, then the teller involved, checks the
// transition table and writes customer, teller and audit event together.
func (l *Ledger) applyTransition(ctx context.Context, tx store.Tx, customerID string, to models.CustomerStatus, tellerID string, now time.Time) (transitionResult, error) {
	c, err := tx.GetCustomer(ctx, customerID)
	if err != nil {
		return transitionResult{}, err
	}
	from := c.Status
	if !store.ValidTransition(from, to) {
		return transitionResult{}, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, from, to)
	}

	registry := tellerRegistry{tx: tx}
	switch to {
	case models.StatusServing:
		if tellerID == "" {
			return transitionResult{}, fmt.Errorf("%w: teller_id is required to start serving", store.ErrInvalidTransition)
		}
		teller, err := registry.lock(ctx, tellerID)
		if errors.Is(err, store.ErrTellerNotFound) {
			return transitionResult{}, fmt.Errorf("%w: %w: %s", store.ErrInvalidTransition, store.ErrTellerNotFound, tellerID)
		}
		if err != nil {
			return transitionResult{}, err
		}
		if teller.Status != models.TellerAvailable {
			return transitionResult{}, fmt.Errorf("%w: teller %s is %s", store.ErrTellerUnavailable, teller.ID, teller.Status)
		}
		if !teller.CanServe(c.ServiceType) {
			return transitionResult{}, fmt.Errorf("%w: teller %s does not serve %s", store.ErrTellerUnavailable, teller.ID, c.ServiceType)
		}
		if err := registry.markServing(ctx, &teller); err != nil {
			return transitionResult{}, err
		}
		start := now
		assigned := teller.ID
		c.StartServiceTime = &start
		c.TellerID = &assigned

	case models.StatusCompleted, models.StatusCancelled:
		assigned := c.AssignedTeller()
		if assigned != "" {
			if tellerID != "" && tellerID != assigned {
				return transitionResult{}, fmt.Errorf("%w: customer %s is assigned to teller %s, not %s", store.ErrInvalidTransition, c.ID, assigned, tellerID)
			}
			teller, err := registry.lock(ctx, assigned)
			if err != nil {
				return transitionResult{}, err
			}
			if err := registry.markAvailable(ctx, &teller); err != nil {
				return transitionResult{}, err
			}
			if to == models.StatusCompleted {
				if err := registry.incrementServed(ctx, &teller); err != nil {
					return transitionResult{}, err
				}
			}
		} else if to == models.StatusCompleted {
			return transitionResult{}, fmt.Errorf("%w: customer %s has no teller", store.ErrInvalidTransition, c.ID)
		}
		end := now
		c.EndServiceTime = &end
	}

	c.Status = to
	if err := tx.UpdateCustomer(ctx, c); err != nil {
		return transitionResult{}, err
	}
	if err := appendEvent(ctx, tx, c, now); err != nil {
		return transitionResult{}, err
	}
	return transitionResult{customer: c, from: from}, nil
}

// nextFor reads the teller and the earliest-token waiting customer of the
// day it can serve. Nothing is locked.
func (l *Ledger) nextFor(ctx context.Context, tx store.Tx, tellerID string, now time.Time) (models.Teller, models.Customer, bool, error) {
	tellerID = strings.TrimSpace(tellerID)
	tellers, err := tx.ListTellers(ctx)
	if err != nil {
		return models.Teller{}, models.Customer{}, false, err
	}
	var teller models.Teller
	known := false
	for _, t := range tellers {
		if t.ID == tellerID {
			teller = t
			known = true
			break
		}
	}
	if !known {
		return models.Teller{}, models.Customer{}, false, fmt.Errorf("%w: %s", store.ErrTellerNotFound, tellerID)
	}

	customers, err := tx.ListCustomers(ctx, clock.ServiceDay(now, l.loc))
	if err != nil {
		return models.Teller{}, models.Customer{}, false, err
	}
	var next models.Customer
	found := false
	for _, c := range customers {
		if c.Status != models.StatusWaiting || !teller.CanServe(c.ServiceType) {
			continue
		}
		if !found || c.TokenNumber < next.TokenNumber {
			next = c
			found = true
		}
	}
	return teller, next, found, nil
}

func (l *Ledger) snapshot(ctx context.Context, tx store.Tx, day string) (Snapshot, error) {
	customers, err := tx.ListCustomers(ctx, day)
	if err != nil {
		return Snapshot{}, err
	}
	tellers, err := tx.ListTellers(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Day: day, Customers: customers, Tellers: tellers}, nil
}

// stamp reads the check-in time after the token for day is held. A token
// taken just before the day boundary is retried on the new day.
func (l *Ledger) stamp(day string) (time.Time, error) {
	now := l.now()
	if clock.ServiceDay(now, l.loc) != day {
		return time.Time{}, fmt.Errorf("%w: service day changed during check-in", store.ErrConflict)
	}
	return now, nil
}

// now is truncated to microseconds, the precision postgres keeps.
func (l *Ledger) now() time.Time {
	return l.clock.Now().UTC().Truncate(time.Microsecond)
}

func (l *Ledger) committed(res transitionResult) {
	c := res.customer
	metrics.TransitionsTotal.WithLabelValues(string(res.from), string(c.Status)).Inc()
	l.log.Info("customer status changed",
		zap.String("customer_id", c.ID),
		zap.String("from", string(res.from)),
		zap.String("to", string(c.Status)),
		zap.String("teller_id", c.AssignedTeller()),
	)
}

func (l *Ledger) reject(customerID, status, tellerID string, err error) {
	reason := rejectionReason(err)
	metrics.TransitionRejectionsTotal.WithLabelValues(reason).Inc()
	fields := []zap.Field{
		zap.String("customer_id", customerID),
		zap.String("to", status),
		zap.String("teller_id", tellerID),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if reason == "storage" {
		l.log.Error("status update failed", fields...)
		return
	}
	l.log.Debug("status update rejected", fields...)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, store.ErrValidation):
		return "validation"
	case errors.Is(err, store.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, store.ErrCustomerNotFound), errors.Is(err, store.ErrTellerNotFound):
		return "not_found"
	case errors.Is(err, store.ErrTellerUnavailable):
		return "teller_unavailable"
	case errors.Is(err, store.ErrNoWaitingCustomer):
		return "no_waiting"
	default:
		return "storage"
	}
}

func appendEvent(ctx context.Context, tx store.Tx, c models.Customer, at time.Time) error {
	payload, err := store.EventPayload(c)
	if err != nil {
		return fmt.Errorf("%w: encode event: %w", store.ErrStorage, err)
	}
	_, err = tx.AppendEvent(ctx, c.ID, store.EventTypeFor(c.Status), payload, at)
	return err
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
