// Package dashboard aggregates everything a signed-in user gives, asks for
// and has to decide on.
package dashboard

import (
	"context"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/storage"
	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
	"github.com/clothbridge/clothbridge/pkg/logger"
)

// Store is the persistence the service needs.
type Store interface {
	storage.DonationStore
	storage.RequestStore
	storage.MatchStore
}

// Opener reveals sealed request fields.
type Opener interface {
	Open(r request.Request) request.Request
}

// DonationEntry is one of the donor's donations with the matches on it.
type DonationEntry struct {
	donation.Donation
	Matches []match.Match `json:"donation_requests"`
	Tally   match.Tally   `json:"tally"`
}

// RequestEntry is one of the requester's requests with its matches.
type RequestEntry struct {
	request.Request
	Matches []match.Match `json:"donation_requests"`
}

// Counters are the figures shown above the tabs.
type Counters struct {
	DonationsMade     int `json:"donations_made"`
	DonationsReceived int `json:"donations_received"`
	RequestsMade      int `json:"requests_made"`
	PendingRequests   int `json:"pending_requests"`
	OpenDonations     int `json:"open_donations"`
}

// Dashboard is the per-user view.
type Dashboard struct {
	DonationsMade     []DonationEntry `json:"donations_made"`
	DonationsReceived []DonationEntry `json:"donations_received"`
	RequestsMade      []RequestEntry  `json:"requests_made"`
	RequestsReceived  []RequestEntry  `json:"requests_received"`
	Counters          Counters        `json:"counters"`
}

// Service builds dashboards.
type Service struct {
	store  Store
	opener Opener
	log    *logger.Logger
}

// New constructs a dashboard service. opener may be nil when request fields
// are not sealed.
func New(store Store, opener Opener, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("dashboard")
	}
	return &Service{store: store, opener: opener, log: log}
}

// Load assembles the dashboard of userID.
func (s *Service) Load(ctx context.Context, userID string) (Dashboard, error) {
	if userID == "" {
		return Dashboard{}, svcerrors.Unauthorized("")
	}

	asDonor, err := s.store.ListMatches(ctx, storage.MatchFilter{DonorID: userID})
	if err != nil {
		return Dashboard{}, svcerrors.Internal("could not load matches", err)
	}
	asRequester, err := s.store.ListMatches(ctx, storage.MatchFilter{RequesterID: userID})
	if err != nil {
		return Dashboard{}, svcerrors.Internal("could not load matches", err)
	}
	byDonation := groupBy(asDonor, func(m match.Match) string { return m.DonationID })
	byRequest := groupBy(asDonor, func(m match.Match) string { return m.RequestID })
	mineByDonation := groupBy(asRequester, func(m match.Match) string { return m.DonationID })
	mineByRequest := groupBy(asRequester, func(m match.Match) string { return m.RequestID })

	var dash Dashboard

	made, err := s.store.ListDonations(ctx, storage.DonationFilter{DonatedBy: userID})
	if err != nil {
		return Dashboard{}, svcerrors.Internal("could not list donations", err)
	}
	dash.DonationsMade = make([]DonationEntry, 0, len(made))
	for _, d := range made {
		ms := orEmpty(byDonation[d.ID])
		dash.DonationsMade = append(dash.DonationsMade, DonationEntry{Donation: d, Matches: ms, Tally: match.Count(ms)})
		if d.Status == donation.StatusAvailable {
			dash.Counters.OpenDonations++
		}
	}

	received, err := s.store.ListDonations(ctx, storage.DonationFilter{IDs: keys(mineByDonation)})
	if err != nil {
		return Dashboard{}, svcerrors.Internal("could not list donations", err)
	}
	dash.DonationsReceived = make([]DonationEntry, 0, len(received))
	for _, d := range received {
		ms := orEmpty(mineByDonation[d.ID])
		dash.DonationsReceived = append(dash.DonationsReceived, DonationEntry{Donation: d, Matches: ms, Tally: match.Count(ms)})
	}

	asked, err := s.store.ListRequests(ctx, storage.RequestFilter{RequestedBy: userID})
	if err != nil {
		return Dashboard{}, svcerrors.Internal("could not list requests", err)
	}
	dash.RequestsMade = make([]RequestEntry, 0, len(asked))
	for _, r := range asked {
		dash.RequestsMade = append(dash.RequestsMade, RequestEntry{Request: s.open(r), Matches: orEmpty(mineByRequest[r.ID])})
	}

	incoming, err := s.store.ListRequests(ctx, storage.RequestFilter{IDs: keys(byRequest)})
	if err != nil {
		return Dashboard{}, svcerrors.Internal("could not list requests", err)
	}
	dash.RequestsReceived = make([]RequestEntry, 0, len(incoming))
	for _, r := range incoming {
		ms := orEmpty(byRequest[r.ID])
		dash.RequestsReceived = append(dash.RequestsReceived, RequestEntry{Request: s.open(r), Matches: ms})
		if match.Count(ms).Pending > 0 {
			dash.Counters.PendingRequests++
		}
	}

	dash.Counters.DonationsMade = len(dash.DonationsMade)
	dash.Counters.DonationsReceived = len(dash.DonationsReceived)
	dash.Counters.RequestsMade = len(dash.RequestsMade)

	s.log.WithField("user", userID).
		WithField("pending_requests", dash.Counters.PendingRequests).
		Debug("dashboard loaded")
	return dash, nil
}

func (s *Service) open(r request.Request) request.Request {
	if s.opener == nil {
		return r
	}
	return s.opener.Open(r)
}

func groupBy(ms []match.Match, key func(match.Match) string) map[string][]match.Match {
	out := make(map[string][]match.Match)
	for _, m := range ms {
		if k := key(m); k != "" {
			out[k] = append(out[k], m)
		}
	}
	return out
}

// keys returns a non-nil slice so an empty set filters to nothing.
func keys(m map[string][]match.Match) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func orEmpty(ms []match.Match) []match.Match {
	if ms == nil {
		return []match.Match{}
	}
	return ms
}
