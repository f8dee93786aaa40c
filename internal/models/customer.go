package models

import (
	"strings"
	"time"
	"unicode"
)

type CustomerStatus string

const (
	StatusWaiting   CustomerStatus = "waiting"
	StatusServing   CustomerStatus = "serving"
	StatusCompleted CustomerStatus = "completed"
	StatusCancelled CustomerStatus = "cancelled"
)

// ParseCustomerStatus accepts only the four known statuses.
func ParseCustomerStatus(raw string) (CustomerStatus, bool) {
	switch status := CustomerStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case StatusWaiting, StatusServing, StatusCompleted, StatusCancelled:
		return status, true
	default:
		return "", false
	}
}

func (s CustomerStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Customer struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	PhoneNumber       string         `json:"phone_number"`
	TokenNumber       int            `json:"token_number"`
	ServiceType       string         `json:"service_type"`
	Status            CustomerStatus `json:"status"`
	ServiceDay        string         `json:"service_day"`
	CheckInTime       time.Time      `json:"check_in_time"`
	EstimatedWaitTime int            `json:"estimated_wait_time"`
	StartServiceTime  *time.Time     `json:"start_service_time,omitempty"`
	EndServiceTime    *time.Time     `json:"end_service_time,omitempty"`
	TellerID          *string        `json:"teller_id,omitempty"`
	TellerName        string         `json:"teller_name,omitempty"`
}

// Clone returns a copy that shares no pointers with c.
func (c Customer) Clone() Customer {
	out := c
	out.StartServiceTime = cloneTime(c.StartServiceTime)
	out.EndServiceTime = cloneTime(c.EndServiceTime)
	if c.TellerID != nil {
		id := *c.TellerID
		out.TellerID = &id
	}
	return out
}

func (c Customer) AssignedTeller() string {
	if c.TellerID == nil {
		return ""
	}
	return *c.TellerID
}

// NormalizePhone strips every whitespace rune from raw.
func NormalizePhone(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	t := *value
	return &t
}
