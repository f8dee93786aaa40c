package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"
	"qms/branch-queue/internal/tokens"
)

// Store keeps the ledger in process memory. Every unit of work holds the
// single store mutex from start to commit, so units are serial.
type Store struct {
	mu        sync.Mutex
	customers map[string]models.Customer
	order     []string
	tellers   map[string]models.Teller
	events    map[string][]store.CustomerEvent
	feedback  []models.Feedback
	tokens    *tokens.Counter
}

func NewStore() *Store {
	return &Store{
		customers: make(map[string]models.Customer),
		tellers:   make(map[string]models.Teller),
		events:    make(map[string][]store.CustomerEvent),
		tokens:    tokens.NewCounter(),
	}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:         s,
		customers: make(map[string]models.Customer),
		tellers:   make(map[string]models.Teller),
		events:    make(map[string][]store.CustomerEvent),
		tokens:    make(map[string]int),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) SeedTellers(ctx context.Context, tellers []models.Teller) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, teller := range tellers {
		if _, ok := s.tellers[teller.ID]; ok {
			continue
		}
		seeded := teller.Clone()
		if seeded.Status == "" {
			seeded.Status = models.TellerAvailable
		}
		s.tellers[seeded.ID] = seeded
		inserted++
	}
	return inserted, nil
}

func (s *Store) InsertFeedback(ctx context.Context, feedback models.Feedback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.feedback {
		if existing.ID == feedback.ID {
			return fmt.Errorf("%w: duplicate feedback id %s", store.ErrStorage, feedback.ID)
		}
	}
	s.feedback = append(s.feedback, feedback)
	return nil
}

func (s *Store) ListFeedback(ctx context.Context) ([]models.Feedback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Feedback, len(s.feedback))
	copy(out, s.feedback)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Close() {}

type memTx struct {
	s         *Store
	customers map[string]models.Customer
	newIDs    []string
	tellers   map[string]models.Teller
	events    map[string][]store.CustomerEvent
	tokens    map[string]int
}

func (t *memTx) NextToken(ctx context.Context, day string) (int, error) {
	last, ok := t.tokens[day]
	if !ok {
		last = t.s.tokens.Peek(day)
	}
	last++
	t.tokens[day] = last
	return last, nil
}

func (t *memTx) customer(id string) (models.Customer, bool) {
	if c, ok := t.customers[id]; ok {
		return c, true
	}
	c, ok := t.s.customers[id]
	return c, ok
}

func (t *memTx) InsertCustomer(ctx context.Context, customer models.Customer) error {
	if _, exists := t.customer(customer.ID); exists {
		return fmt.Errorf("%w: duplicate customer id %s", store.ErrStorage, customer.ID)
	}
	for _, id := range t.allIDs() {
		existing, _ := t.customer(id)
		if existing.ServiceDay == customer.ServiceDay && existing.TokenNumber == customer.TokenNumber {
			return fmt.Errorf("%w: token %d already issued for %s", store.ErrConflict, customer.TokenNumber, customer.ServiceDay)
		}
	}
	t.customers[customer.ID] = customer.Clone()
	t.newIDs = append(t.newIDs, customer.ID)
	return nil
}

func (t *memTx) GetCustomer(ctx context.Context, customerID string) (models.Customer, error) {
	c, ok := t.customer(customerID)
	if !ok {
		return models.Customer{}, store.ErrCustomerNotFound
	}
	return c.Clone(), nil
}

func (t *memTx) UpdateCustomer(ctx context.Context, customer models.Customer) error {
	if _, ok := t.customer(customer.ID); !ok {
		return store.ErrCustomerNotFound
	}
	t.customers[customer.ID] = customer.Clone()
	return nil
}

func (t *memTx) allIDs() []string {
	ids := make([]string, 0, len(t.s.order)+len(t.newIDs))
	ids = append(ids, t.s.order...)
	return append(ids, t.newIDs...)
}

func (t *memTx) ListCustomers(ctx context.Context, day string) ([]models.Customer, error) {
	var out []models.Customer
	for _, id := range t.allIDs() {
		c, _ := t.customer(id)
		if c.ServiceDay == day {
			out = append(out, c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CheckInTime.Equal(out[j].CheckInTime) {
			return out[i].TokenNumber < out[j].TokenNumber
		}
		return out[i].CheckInTime.Before(out[j].CheckInTime)
	})
	return out, nil
}

func (t *memTx) teller(id string) (models.Teller, bool) {
	if teller, ok := t.tellers[id]; ok {
		return teller, true
	}
	teller, ok := t.s.tellers[id]
	return teller, ok
}

func (t *memTx) GetTeller(ctx context.Context, tellerID string) (models.Teller, error) {
	teller, ok := t.teller(tellerID)
	if !ok {
		return models.Teller{}, store.ErrTellerNotFound
	}
	return teller.Clone(), nil
}

func (t *memTx) UpdateTeller(ctx context.Context, teller models.Teller) error {
	if _, ok := t.teller(teller.ID); !ok {
		return store.ErrTellerNotFound
	}
	t.tellers[teller.ID] = teller.Clone()
	return nil
}

func (t *memTx) ListTellers(ctx context.Context) ([]models.Teller, error) {
	out := make([]models.Teller, 0, len(t.s.tellers))
	for id := range t.s.tellers {
		teller, _ := t.teller(id)
		out = append(out, teller.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) AppendEvent(ctx context.Context, customerID, eventType string, payload json.RawMessage, createdAt time.Time) (store.CustomerEvent, error) {
	if _, ok := t.customer(customerID); !ok {
		return store.CustomerEvent{}, store.ErrCustomerNotFound
	}
	chain := t.chain(customerID)
	var prev *store.CustomerEvent
	if len(chain) > 0 {
		prev = &chain[len(chain)-1]
	}
	event := store.ChainEvent(prev, customerID, eventType, append(json.RawMessage(nil), payload...), createdAt)
	t.events[customerID] = append(t.events[customerID], event)
	return event, nil
}

func (t *memTx) chain(customerID string) []store.CustomerEvent {
	committed := t.s.events[customerID]
	out := make([]store.CustomerEvent, 0, len(committed)+len(t.events[customerID]))
	out = append(out, committed...)
	return append(out, t.events[customerID]...)
}

func (t *memTx) ListEvents(ctx context.Context, customerID string) ([]store.CustomerEvent, error) {
	if _, ok := t.customer(customerID); !ok {
		return nil, store.ErrCustomerNotFound
	}
	return t.chain(customerID), nil
}

func (t *memTx) commit() {
	for id, c := range t.customers {
		t.s.customers[id] = c
	}
	t.s.order = append(t.s.order, t.newIDs...)
	for id, teller := range t.tellers {
		t.s.tellers[id] = teller
	}
	for id, events := range t.events {
		t.s.events[id] = append(t.s.events[id], events...)
	}
	for day, last := range t.tokens {
		t.s.tokens.Restore(day, last)
	}
}
