package request

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusOpen      Status = "open"
	StatusFulfilled Status = "fulfilled"
)

func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusFulfilled
}

// CanTransition allows only open->fulfilled.
func (s Status) CanTransition(next Status) bool {
	return s == StatusOpen && next == StatusFulfilled
}

// Request is a need for clothing submitted by a requester.
type Request struct {
	ID          string `json:"id" db:"id"`
	RequestedBy string `json:"requested_by" db:"requested_by"`
	FullName    string `json:"full_name" db:"full_name"`
	Age         int    `json:"age,omitempty" db:"age"`
	Gender      string `json:"gender,omitempty" db:"gender"`
	Phone       string `json:"phone,omitempty" db:"phone"`
	Email       string `json:"email,omitempty" db:"email"`
	Address     string `json:"address,omitempty" db:"address"`
	// RationCardNumber holds the sealed value at rest and the opened value
	// only on its way to an authorised viewer.
	RationCardNumber string    `json:"ration_card_number,omitempty" db:"ration_card_number"`
	RationCardType   string    `json:"ration_card_type,omitempty" db:"ration_card_type"`
	RationCardPhoto  string    `json:"ration_card_photo,omitempty" db:"ration_card_photo"`
	ClothingTypes    []string  `json:"clothing_type" db:"clothing_type"`
	Categories       []string  `json:"categories" db:"categories"`
	ClothingSize     string    `json:"clothing_size,omitempty" db:"clothing_size"`
	AdditionalInfo   string    `json:"additional_info,omitempty" db:"additional_info"`
	Status           Status    `json:"status" db:"status"`
	FulfilledBy      string    `json:"fulfilled_by,omitempty" db:"fulfilled_by"`
	DonationID       string    `json:"donation_id,omitempty" db:"donation_id"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Listed reports whether the request is shown on the public board.
func (r Request) Listed() bool {
	return r.Status == StatusOpen && r.DonationID == ""
}

// Transition moves the request to next or returns an error.
func (r *Request) Transition(next Status) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("request %s cannot move from %s to %s", r.ID, r.Status, next)
	}
	r.Status = next
	return nil
}

// Redacted drops the fields only the requester and linked donors may see.
func (r Request) Redacted() Request {
	r.Phone = ""
	r.Address = ""
	r.Email = ""
	r.RationCardNumber = ""
	r.RationCardType = ""
	r.RationCardPhoto = ""
	return r
}
