// Package realtime pushes marketplace events to connected browsers over
// websockets, optionally fanned out across instances through Redis.
package realtime

import (
	"context"
	"time"
)

// Event types.
const (
	EventMatchCreated      = "match.created"
	EventMatchAccepted     = "match.accepted"
	EventMatchDeclined     = "match.declined"
	EventMatchExpired      = "match.expired"
	EventDonationFulfilled = "donation.fulfilled"
)

// Event is delivered to every connection of each recipient.
type Event struct {
	Type       string      `json:"type"`
	Payload    interface{} `json:"payload,omitempty"`
	At         time.Time   `json:"at"`
	Recipients []string    `json:"-"`
}

// NewEvent stamps an event for recipients, skipping empty IDs.
func NewEvent(typ string, payload interface{}, recipients ...string) Event {
	to := make([]string, 0, len(recipients))
	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		to = append(to, r)
	}
	return Event{Type: typ, Payload: payload, At: time.Now().UTC(), Recipients: to}
}

// Publisher accepts events. Implementations must not block the caller on
// slow consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
