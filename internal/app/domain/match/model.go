// Package match models the join record linking a donation to a request and
// the decision taken on it.
package match

import (
	"fmt"
	"time"
)

// Status of a match.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined:
		return true
	}
	return false
}

// CanTransition allows pending->accepted and pending->declined only.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && (next == StatusAccepted || next == StatusDeclined)
}

// Initiator records which side created the match.
type Initiator string

const (
	// InitiatedByRequester: a requester asked for a listed donation. The
	// donor decides.
	InitiatedByRequester Initiator = "requester"
	// InitiatedByDonor: a donor offered a donation against a listed request.
	// The requester decides.
	InitiatedByDonor Initiator = "donor"
)

// Match is a row of donation_requests.
type Match struct {
	ID             string    `json:"id" db:"id"`
	DonationID     string    `json:"donation_id" db:"donation_id"`
	RequestID      string    `json:"request_id" db:"request_id"`
	RequesterID    string    `json:"requester_id" db:"requester_id"`
	DonorID        string    `json:"donor_id" db:"donor_id"`
	InitiatedBy    Initiator `json:"initiated_by" db:"initiated_by"`
	FullName       string    `json:"full_name,omitempty" db:"full_name"`
	AdditionalInfo string    `json:"additional_info,omitempty" db:"additional_info"`
	Status         Status    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Decider returns the user allowed to accept or decline the match.
func (m Match) Decider() string {
	if m.InitiatedBy == InitiatedByDonor {
		return m.RequesterID
	}
	return m.DonorID
}

// Involves reports whether userID is either party.
func (m Match) Involves(userID string) bool {
	return userID != "" && (m.DonorID == userID || m.RequesterID == userID)
}

// Transition moves the match to next or returns an error.
func (m *Match) Transition(next Status) error {
	if !m.Status.CanTransition(next) {
		return fmt.Errorf("match %s is already %s", m.ID, m.Status)
	}
	m.Status = next
	return nil
}

// Tally counts matches by status, as shown on dashboard tabs.
type Tally struct {
	All      int `json:"all"`
	Pending  int `json:"pending"`
	Accepted int `json:"accepted"`
	Declined int `json:"declined"`
}

// Count tallies ms.
func Count(ms []Match) Tally {
	var t Tally
	for _, m := range ms {
		t.All++
		switch m.Status {
		case StatusPending:
			t.Pending++
		case StatusAccepted:
			t.Accepted++
		case StatusDeclined:
			t.Declined++
		}
	}
	return t
}
