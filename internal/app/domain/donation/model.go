package donation

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a donation.
type Status string

const (
	StatusAvailable Status = "available"
	StatusTaken     Status = "taken"
	StatusFulfilled Status = "fulfilled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusTaken, StatusFulfilled:
		return true
	}
	return false
}

// CanTransition reports whether a donation may move from s to next. Only the
// forward edges available->taken and taken->fulfilled exist.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusAvailable:
		return next == StatusTaken
	case StatusTaken:
		return next == StatusFulfilled
	}
	return false
}

// Donation is an offered set of clothing items.
type Donation struct {
	ID            string   `json:"id" db:"id"`
	DonatedBy     string   `json:"donated_by" db:"donated_by"`
	FullName      string   `json:"full_name" db:"full_name"`
	Email         string   `json:"email" db:"email"`
	ClothingTypes []string `json:"clothing_type" db:"clothing_type"`
	Categories    []string `json:"categories" db:"categories"`
	Condition     string   `json:"condition" db:"condition"`
	Comments      string   `json:"comments,omitempty" db:"comments"`
	Images        []string `json:"images" db:"images"`
	Status        Status   `json:"status" db:"status"`
	// RequestedBy is the requester whose match was accepted.
	RequestedBy       string `json:"requested_by,omitempty" db:"requested_by"`
	AcceptedRequestID string `json:"accepted_request_id,omitempty" db:"accepted_request_id"`
	// RequestID is set when the donation was offered against a listed request.
	RequestID string    `json:"request_id,omitempty" db:"request_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Listed reports whether the donation is shown on the public board.
func (d Donation) Listed() bool {
	return d.Status == StatusAvailable && d.RequestID == ""
}

// Transition moves the donation to next or returns an error naming both states.
func (d *Donation) Transition(next Status) error {
	if !d.Status.CanTransition(next) {
		return fmt.Errorf("donation %s cannot move from %s to %s", d.ID, d.Status, next)
	}
	d.Status = next
	return nil
}
