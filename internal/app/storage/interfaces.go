package storage

import (
	"context"
	"errors"
	"time"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a conditional update finds a row in a
	// different state than expected.
	ErrConflict = errors.New("storage: conflict")
	// ErrInvalidTransition is returned for a change that is not an edge of
	// the row's state machine. Nothing is written.
	ErrInvalidTransition = errors.New("storage: invalid transition")
)

// DonationFilter narrows ListDonations. Zero fields are ignored. Results are
// ordered newest first.
type DonationFilter struct {
	IDs          []string
	DonatedBy    string
	RequestedBy  string
	Status       donation.Status
	ListedOnly   bool // available and not answering a request
	ExcludeDonor string
	Limit        int
}

// RequestFilter narrows ListRequests. Results are ordered newest first.
type RequestFilter struct {
	IDs              []string
	RequestedBy      string
	Status           request.Status
	ListedOnly       bool // open and not tied to a donation
	ExcludeRequester string
	Limit            int
}

// MatchFilter narrows ListMatches. Results are ordered newest first.
type MatchFilter struct {
	DonationID    string
	RequestID     string
	DonorID       string
	RequesterID   string
	Status        match.Status
	CreatedBefore time.Time
}

// DonationStore persists donations. When link is non-nil it is inserted in
// the same unit of work with DonationID set to the new donation; its ID and
// timestamps are filled in place. The request the link points at must still be
// listed, otherwise ErrConflict is returned and nothing is kept.
type DonationStore interface {
	CreateDonation(ctx context.Context, d donation.Donation, link *match.Match) (donation.Donation, error)
	GetDonation(ctx context.Context, id string) (donation.Donation, error)
	ListDonations(ctx context.Context, filter DonationFilter) ([]donation.Donation, error)
}

// RequestStore persists requests. link behaves as in DonationStore, with
// RequestID set to the new request and the linked donation required to be
// listed.
type RequestStore interface {
	CreateRequest(ctx context.Context, r request.Request, link *match.Match) (request.Request, error)
	GetRequest(ctx context.Context, id string) (request.Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]request.Request, error)
}

// MatchStore persists donation_requests rows.
type MatchStore interface {
	GetMatch(ctx context.Context, id string) (match.Match, error)
	ListMatches(ctx context.Context, filter MatchFilter) ([]match.Match, error)
}

// MatchChange moves a match from From to To.
type MatchChange struct {
	ID   string
	From match.Status
	To   match.Status
}

// DonationChange moves a donation from From to To and sets the non-empty
// link fields.
type DonationChange struct {
	ID                string
	From              donation.Status
	To                donation.Status
	RequestedBy       string
	AcceptedRequestID string
}

// RequestChange moves a request from From to To (which may be equal) and
// sets the non-empty link fields. A request already linked to another
// donation than DonationID conflicts.
type RequestChange struct {
	ID          string
	From        request.Status
	To          request.Status
	DonationID  string
	FulfilledBy string
}

// DeclineSiblings declines every pending match on DonationID or on RequestID
// except Keep.
type DeclineSiblings struct {
	DonationID string
	RequestID  string
	Keep       string
}

// Covers reports whether m is a pending sibling to decline.
func (d DeclineSiblings) Covers(m match.Match) bool {
	if m.ID == d.Keep || m.Status != match.StatusPending {
		return false
	}
	return (d.DonationID != "" && m.DonationID == d.DonationID) ||
		(d.RequestID != "" && m.RequestID == d.RequestID)
}

// Transition is a set of conditional updates applied all or nothing.
type Transition struct {
	Matches   []MatchChange
	Donations []DonationChange
	Requests  []RequestChange
	Siblings  *DeclineSiblings
}

// TransitionResult lists rows touched as a side effect.
type TransitionResult struct {
	DeclinedMatchIDs []string
}

// Transitioner applies a Transition. ErrInvalidTransition means a change is
// not a legal edge; ErrConflict means some row was not in its From state;
// ErrNotFound means some row is missing. In every case nothing is written.
type Transitioner interface {
	ApplyTransition(ctx context.Context, t Transition) (TransitionResult, error)
}

// Store is everything the services need from a backend.
type Store interface {
	DonationStore
	RequestStore
	MatchStore
	Transitioner
}
