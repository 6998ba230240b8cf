// Package matching drives the accept, decline and fulfil transitions that
// link donations to requests.
package matching

import (
	"context"
	"errors"
	"time"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/metrics"
	"github.com/clothbridge/clothbridge/internal/app/realtime"
	"github.com/clothbridge/clothbridge/internal/app/storage"
	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
	"github.com/clothbridge/clothbridge/pkg/logger"
)

// Store is the persistence the service needs.
type Store interface {
	storage.DonationStore
	storage.MatchStore
	storage.Transitioner
}

// Service applies match decisions.
type Service struct {
	store  Store
	events realtime.Publisher
	log    *logger.Logger
}

// New constructs a matching service.
func New(store Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("matching")
	}
	return &Service{store: store, events: realtime.Discard{}, log: log}
}

// WithPublisher routes transition events to p.
func (s *Service) WithPublisher(p realtime.Publisher) *Service {
	if p != nil {
		s.events = p
	}
	return s
}

// Accept lets the deciding party accept a pending match. The donation is
// taken by the match's requester and every other pending match on the
// donation or on the request is declined.
func (s *Service) Accept(ctx context.Context, userID, matchID string) (match.Match, error) {
	m, err := s.decidable(ctx, userID, matchID, match.StatusAccepted)
	if err != nil {
		metrics.RecordTransition("accept", outcome(err))
		return match.Match{}, err
	}

	d, err := s.store.GetDonation(ctx, m.DonationID)
	if err != nil {
		metrics.RecordTransition("accept", "error")
		return match.Match{}, s.storeError(err, "donation", m.DonationID)
	}
	if err := d.Transition(donation.StatusTaken); err != nil {
		metrics.RecordTransition("accept", "conflict")
		return match.Match{}, svcerrors.Conflict("donation is no longer available")
	}

	rivals, err := s.rivals(ctx, m)
	if err != nil {
		metrics.RecordTransition("accept", "error")
		return match.Match{}, svcerrors.Internal("could not load matches", err)
	}

	res, err := s.store.ApplyTransition(ctx, storage.Transition{
		Matches: []storage.MatchChange{{ID: m.ID, From: match.StatusPending, To: match.StatusAccepted}},
		Donations: []storage.DonationChange{{
			ID:                m.DonationID,
			From:              donation.StatusAvailable,
			To:                donation.StatusTaken,
			RequestedBy:       m.RequesterID,
			AcceptedRequestID: m.RequestID,
		}},
		Requests: []storage.RequestChange{{
			ID:         m.RequestID,
			From:       request.StatusOpen,
			To:         request.StatusOpen,
			DonationID: m.DonationID,
		}},
		Siblings: &storage.DeclineSiblings{DonationID: m.DonationID, RequestID: m.RequestID, Keep: m.ID},
	})
	if err != nil {
		metrics.RecordTransition("accept", outcome(err))
		return match.Match{}, s.transitionError(err, "match was already decided, the donation is no longer available or the request already has a donation")
	}
	metrics.RecordTransition("accept", "ok")

	s.events.Publish(ctx, realtime.NewEvent(realtime.EventMatchAccepted, m, m.RequesterID, m.DonorID))

	declined := make(map[string]bool, len(res.DeclinedMatchIDs))
	for _, id := range res.DeclinedMatchIDs {
		declined[id] = true
	}
	for _, r := range rivals {
		if !declined[r.ID] {
			continue
		}
		r.Status = match.StatusDeclined
		s.events.Publish(ctx, realtime.NewEvent(realtime.EventMatchDeclined, r, r.RequesterID, r.DonorID))
	}

	s.log.WithField("match_id", m.ID).
		WithField("donation_id", m.DonationID).
		WithField("request_id", m.RequestID).
		WithField("declined", len(res.DeclinedMatchIDs)).
		Info("match accepted")
	return m, nil
}

// Decline lets the deciding party turn down a pending match.
func (s *Service) Decline(ctx context.Context, userID, matchID string) (match.Match, error) {
	m, err := s.decidable(ctx, userID, matchID, match.StatusDeclined)
	if err != nil {
		metrics.RecordTransition("decline", outcome(err))
		return match.Match{}, err
	}

	_, err = s.store.ApplyTransition(ctx, storage.Transition{
		Matches: []storage.MatchChange{{ID: m.ID, From: match.StatusPending, To: match.StatusDeclined}},
	})
	if err != nil {
		metrics.RecordTransition("decline", outcome(err))
		return match.Match{}, s.transitionError(err, "match was already decided")
	}
	metrics.RecordTransition("decline", "ok")

	s.events.Publish(ctx, realtime.NewEvent(realtime.EventMatchDeclined, m, m.RequesterID, m.DonorID))
	s.log.WithField("match_id", m.ID).WithField("by", userID).Info("match declined")
	return m, nil
}

// Fulfill records the hand-over of a taken donation. Either the donor or the
// requester it was given to may confirm. The accepted request is fulfilled
// alongside.
func (s *Service) Fulfill(ctx context.Context, userID, donationID string) (donation.Donation, error) {
	if userID == "" {
		return donation.Donation{}, svcerrors.Unauthorized("")
	}
	d, err := s.store.GetDonation(ctx, donationID)
	if err != nil {
		metrics.RecordTransition("fulfill", "error")
		return donation.Donation{}, s.storeError(err, "donation", donationID)
	}
	if userID != d.DonatedBy && userID != d.RequestedBy {
		metrics.RecordTransition("fulfill", "forbidden")
		return donation.Donation{}, svcerrors.Forbidden("only the donor or the recipient can confirm a hand-over")
	}
	if err := d.Transition(donation.StatusFulfilled); err != nil {
		metrics.RecordTransition("fulfill", "conflict")
		return donation.Donation{}, svcerrors.Conflict("donation must be taken before it can be fulfilled")
	}

	t := storage.Transition{
		Donations: []storage.DonationChange{{ID: d.ID, From: donation.StatusTaken, To: donation.StatusFulfilled}},
	}
	if d.AcceptedRequestID != "" {
		t.Requests = []storage.RequestChange{{
			ID:          d.AcceptedRequestID,
			From:        request.StatusOpen,
			To:          request.StatusFulfilled,
			FulfilledBy: d.DonatedBy,
		}}
	}
	if _, err := s.store.ApplyTransition(ctx, t); err != nil {
		metrics.RecordTransition("fulfill", outcome(err))
		return donation.Donation{}, s.transitionError(err, "donation or request was already fulfilled")
	}
	metrics.RecordTransition("fulfill", "ok")

	s.events.Publish(ctx, realtime.NewEvent(realtime.EventDonationFulfilled, d, d.DonatedBy, d.RequestedBy))
	s.log.WithField("donation_id", d.ID).WithField("request_id", d.AcceptedRequestID).Info("donation fulfilled")
	return d, nil
}

// ExpirePending declines matches still pending after ttl and returns how many
// were declined. A match decided concurrently is skipped.
func (s *Service) ExpirePending(ctx context.Context, ttl time.Duration, now time.Time) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	stale, err := s.store.ListMatches(ctx, storage.MatchFilter{Status: match.StatusPending, CreatedBefore: now.Add(-ttl)})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, m := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		_, err := s.store.ApplyTransition(ctx, storage.Transition{
			Matches: []storage.MatchChange{{ID: m.ID, From: match.StatusPending, To: match.StatusDeclined}},
		})
		if err != nil {
			metrics.RecordTransition("expire", outcome(err))
			if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return expired, err
		}
		metrics.RecordTransition("expire", "ok")
		expired++
		m.Status = match.StatusDeclined
		s.events.Publish(ctx, realtime.NewEvent(realtime.EventMatchExpired, m, m.RequesterID, m.DonorID))
	}
	if expired > 0 {
		s.log.WithField("count", expired).WithField("ttl", ttl.String()).Info("expired pending matches")
	}
	return expired, nil
}

// decidable loads the match and returns it already moved to next, provided
// userID is its decider.
func (s *Service) decidable(ctx context.Context, userID, matchID string, next match.Status) (match.Match, error) {
	if userID == "" {
		return match.Match{}, svcerrors.Unauthorized("")
	}
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return match.Match{}, s.storeError(err, "match", matchID)
	}
	if m.Decider() != userID {
		return match.Match{}, svcerrors.Forbidden("only the other party can decide on this match")
	}
	if err := m.Transition(next); err != nil {
		return match.Match{}, svcerrors.Conflict("match is already " + string(m.Status))
	}
	return m, nil
}

// rivals lists the other pending matches on m's donation and request.
func (s *Service) rivals(ctx context.Context, m match.Match) ([]match.Match, error) {
	var out []match.Match
	seen := map[string]bool{m.ID: true}
	for _, f := range []storage.MatchFilter{
		{DonationID: m.DonationID, Status: match.StatusPending},
		{RequestID: m.RequestID, Status: match.StatusPending},
	} {
		list, err := s.store.ListMatches(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, r := range list {
			if !seen[r.ID] {
				seen[r.ID] = true
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (s *Service) storeError(err error, resource, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return svcerrors.NotFound(resource, id)
	}
	return svcerrors.Internal("could not load "+resource, err)
}

func (s *Service) transitionError(err error, conflict string) error {
	switch {
	case errors.Is(err, storage.ErrConflict):
		return svcerrors.Conflict(conflict)
	case errors.Is(err, storage.ErrNotFound):
		return svcerrors.NotFound("record", "")
	default:
		return svcerrors.Internal("could not apply transition", err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, storage.ErrConflict), svcerrors.Is(err, svcerrors.CodeConflict):
		return "conflict"
	case svcerrors.Is(err, svcerrors.CodeForbidden), svcerrors.Is(err, svcerrors.CodeUnauthorized):
		return "forbidden"
	case errors.Is(err, storage.ErrNotFound), svcerrors.Is(err, svcerrors.CodeNotFound):
		return "not_found"
	default:
		return "error"
	}
}
