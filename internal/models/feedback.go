package models

import "time"

type Feedback struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Rating    int       `json:"rating"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	MinRating = 1
	MaxRating = 5
)
