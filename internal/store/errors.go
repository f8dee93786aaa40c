package store

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrTellerNotFound    = errors.New("teller not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTellerUnavailable = errors.New("teller unavailable")
	ErrNoWaitingCustomer = errors.New("no waiting customer")
	ErrStorage           = errors.New("storage failure")
	// ErrConflict marks transient contention; the operation may be retried.
	ErrConflict = errors.New("storage contention")
)
