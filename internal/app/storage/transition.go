package storage

import "fmt"

// Validate checks every change against the domain state machines. A request
// change may keep its status when it only sets link fields.
func (t Transition) Validate() error {
	for _, c := range t.Matches {
		if !c.From.CanTransition(c.To) {
			return fmt.Errorf("%w: match %s %s->%s", ErrInvalidTransition, c.ID, c.From, c.To)
		}
	}
	for _, c := range t.Donations {
		if !c.From.CanTransition(c.To) {
			return fmt.Errorf("%w: donation %s %s->%s", ErrInvalidTransition, c.ID, c.From, c.To)
		}
	}
	for _, c := range t.Requests {
		if c.From == c.To {
			if !c.From.Valid() || (c.DonationID == "" && c.FulfilledBy == "") {
				return fmt.Errorf("%w: request %s stays %s without a link", ErrInvalidTransition, c.ID, c.From)
			}
			continue
		}
		if !c.From.CanTransition(c.To) {
			return fmt.Errorf("%w: request %s %s->%s", ErrInvalidTransition, c.ID, c.From, c.To)
		}
	}
	if sib := t.Siblings; sib != nil && sib.DonationID == "" && sib.RequestID == "" {
		return fmt.Errorf("%w: siblings need a donation or a request", ErrInvalidTransition)
	}
	return nil
}
