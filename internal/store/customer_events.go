package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/branch-queue/internal/models"
)

const (
	EventCheckedIn = "customer.checked_in"
	EventServing   = "customer.serving"
	EventCompleted = "customer.completed"
	EventCancelled = "customer.cancelled"
)

type CustomerEvent struct {
	CustomerID string          `json:"customer_id"`
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
}

type eventPayload struct {
	CustomerID        string     `json:"customer_id"`
	Name              string     `json:"name,omitempty"`
	PhoneNumber       string     `json:"phone_number,omitempty"`
	TokenNumber       int        `json:"token_number,omitempty"`
	ServiceType       string     `json:"service_type,omitempty"`
	ServiceDay        string     `json:"service_day,omitempty"`
	Status            string     `json:"status"`
	CheckInTime       *time.Time `json:"check_in_time,omitempty"`
	EstimatedWaitTime int        `json:"estimated_wait_time,omitempty"`
	StartServiceTime  *time.Time `json:"start_service_time,omitempty"`
	EndServiceTime    *time.Time `json:"end_service_time,omitempty"`
	TellerID          *string    `json:"teller_id,omitempty"`
}

func EventTypeFor(status models.CustomerStatus) string {
	switch status {
	case models.StatusServing:
		return EventServing
	case models.StatusCompleted:
		return EventCompleted
	case models.StatusCancelled:
		return EventCancelled
	default:
		return EventCheckedIn
	}
}

// EventPayload snapshots the customer fields an event carries.
func EventPayload(customer models.Customer) (json.RawMessage, error) {
	checkIn := customer.CheckInTime
	payload := eventPayload{
		CustomerID:        customer.ID,
		Name:              customer.Name,
		PhoneNumber:       customer.PhoneNumber,
		TokenNumber:       customer.TokenNumber,
		ServiceType:       customer.ServiceType,
		ServiceDay:        customer.ServiceDay,
		Status:            string(customer.Status),
		CheckInTime:       &checkIn,
		EstimatedWaitTime: customer.EstimatedWaitTime,
		StartServiceTime:  customer.StartServiceTime,
		EndServiceTime:    customer.EndServiceTime,
		TellerID:          customer.TellerID,
	}
	return json.Marshal(payload)
}

func ComputeCustomerEventHash(prevHash, customerID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, customerID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// ChainEvent builds the event following prev (nil for the first event).
func ChainEvent(prev *CustomerEvent, customerID, eventType string, payload json.RawMessage, createdAt time.Time) CustomerEvent {
	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.Seq + 1
		prevHash = prev.Hash
	}
	return CustomerEvent{
		CustomerID: customerID,
		Seq:        seq,
		Type:       eventType,
		Payload:    payload,
		CreatedAt:  createdAt,
		PrevHash:   prevHash,
		Hash:       ComputeCustomerEventHash(prevHash, customerID, eventType, payload, createdAt, seq),
	}
}

// VerifyChain reports the first event whose hash or link does not match.
func VerifyChain(events []CustomerEvent) error {
	prev := ""
	for i, event := range events {
		if event.Seq != i+1 {
			return fmt.Errorf("event %d: unexpected seq %d", i, event.Seq)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("event %d: broken link", event.Seq)
		}
		want := ComputeCustomerEventHash(event.PrevHash, event.CustomerID, event.Type, event.Payload, event.CreatedAt, event.Seq)
		if event.Hash != want {
			return fmt.Errorf("event %d: hash mismatch", event.Seq)
		}
		prev = event.Hash
	}
	return nil
}

func RehydrateCustomer(events []CustomerEvent) (models.Customer, error) {
	var customer models.Customer
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Customer{}, err
		}
		if payload.CustomerID != "" {
			customer.ID = payload.CustomerID
		}
		if payload.Name != "" {
			customer.Name = payload.Name
		}
		if payload.PhoneNumber != "" {
			customer.PhoneNumber = payload.PhoneNumber
		}
		if payload.TokenNumber != 0 {
			customer.TokenNumber = payload.TokenNumber
		}
		if payload.ServiceType != "" {
			customer.ServiceType = payload.ServiceType
		}
		if payload.ServiceDay != "" {
			customer.ServiceDay = payload.ServiceDay
		}
		if payload.Status != "" {
			customer.Status = models.CustomerStatus(payload.Status)
		}
		if payload.CheckInTime != nil {
			customer.CheckInTime = *payload.CheckInTime
		}
		if payload.EstimatedWaitTime != 0 {
			customer.EstimatedWaitTime = payload.EstimatedWaitTime
		}
		if payload.StartServiceTime != nil {
			customer.StartServiceTime = payload.StartServiceTime
		}
		if payload.EndServiceTime != nil {
			customer.EndServiceTime = payload.EndServiceTime
		}
		if payload.TellerID != nil {
			customer.TellerID = payload.TellerID
		}
	}
	return customer, nil
}
