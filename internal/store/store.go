package store

import (
	"context"
	"encoding/json"
	"time"

	"qms/branch-queue/internal/models"
)

// TokenAllocator hands out the next ticket number for a service day.
// Two calls for the same day never return the same value.
type TokenAllocator interface {
	NextToken(ctx context.Context, day string) (int, error)
}

// Tx is one isolated unit of work. Reads through Tx see the writes made
// earlier in the same unit; nothing is visible to other callers until commit.
type Tx interface {
	TokenAllocator

	InsertCustomer(ctx context.Context, customer models.Customer) error
	// GetCustomer locks the customer until the unit of work ends.
	GetCustomer(ctx context.Context, customerID string) (models.Customer, error)
	UpdateCustomer(ctx context.Context, customer models.Customer) error
	// ListCustomers returns the customers of one service day in arrival order.
	ListCustomers(ctx context.Context, day string) ([]models.Customer, error)

	// GetTeller locks the teller until the unit of work ends.
	GetTeller(ctx context.Context, tellerID string) (models.Teller, error)
	UpdateTeller(ctx context.Context, teller models.Teller) error
	ListTellers(ctx context.Context) ([]models.Teller, error)

	AppendEvent(ctx context.Context, customerID, eventType string, payload json.RawMessage, createdAt time.Time) (CustomerEvent, error)
	ListEvents(ctx context.Context, customerID string) ([]CustomerEvent, error)
}

type Store interface {
	// InTx runs fn in a unit of work. It commits when fn returns nil and
	// discards every write otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// SeedTellers inserts the tellers whose id is not yet present.
	SeedTellers(ctx context.Context, tellers []models.Teller) (int, error)
	InsertFeedback(ctx context.Context, feedback models.Feedback) error
	// ListFeedback returns feedback newest first.
	ListFeedback(ctx context.Context) ([]models.Feedback, error)
	Close()
}
