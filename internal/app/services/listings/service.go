// Package listings serves the public board of available donations and open
// requests.
package listings

import (
	"context"

	"github.com/clothbridge/clothbridge/internal/app/domain/catalog"
	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/metrics"
	"github.com/clothbridge/clothbridge/internal/app/storage"
	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
	"github.com/clothbridge/clothbridge/pkg/logger"
)

// Kind selects one side of the board.
type Kind string

const (
	KindDonations Kind = "donations"
	KindRequests  Kind = "requests"
)

// Store is the persistence the service needs.
type Store interface {
	storage.DonationStore
	storage.RequestStore
}

// Board is what a viewer sees on the home page.
type Board struct {
	Donations []donation.Donation `json:"donations,omitempty"`
	Requests  []request.Request   `json:"requests,omitempty"`
}

// Service browses listed items.
type Service struct {
	store Store
	limit int
	log   *logger.Logger
}

// New constructs a listings service.
func New(store Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("listings")
	}
	return &Service{store: store, limit: 500, log: log}
}

// Browse returns the listed items of kind, newest first, without the
// viewer's own rows. An empty kind returns both sides. Requests are
// redacted.
func (s *Service) Browse(ctx context.Context, viewer string, kind Kind, search string) (Board, error) {
	q := ParseQuery(search)
	var board Board

	// A search scans every listed row and caps the matches instead.
	fetch := s.limit
	if !q.Empty() {
		fetch = 0
	}

	switch kind {
	case KindDonations, KindRequests, "":
	default:
		return Board{}, svcerrors.Validation("kind", "kind must be donations or requests")
	}

	if kind == KindDonations || kind == "" {
		list, err := s.store.ListDonations(ctx, storage.DonationFilter{
			ListedOnly:   true,
			ExcludeDonor: viewer,
			Limit:        fetch,
		})
		if err != nil {
			return Board{}, svcerrors.Internal("could not list donations", err)
		}
		board.Donations = make([]donation.Donation, 0, len(list))
		for _, d := range list {
			if len(board.Donations) == s.limit {
				break
			}
			if q.Match(donationFields(d)...) {
				board.Donations = append(board.Donations, d)
			}
		}
		if q.Empty() {
			metrics.SetListingSize(string(KindDonations), len(board.Donations))
		}
	}

	if kind == KindRequests || kind == "" {
		list, err := s.store.ListRequests(ctx, storage.RequestFilter{
			ListedOnly:       true,
			ExcludeRequester: viewer,
			Limit:            fetch,
		})
		if err != nil {
			return Board{}, svcerrors.Internal("could not list requests", err)
		}
		board.Requests = make([]request.Request, 0, len(list))
		for _, r := range list {
			if len(board.Requests) == s.limit {
				break
			}
			if q.Match(requestFields(r)...) {
				board.Requests = append(board.Requests, r.Redacted())
			}
		}
		if q.Empty() {
			metrics.SetListingSize(string(KindRequests), len(board.Requests))
		}
	}

	s.log.WithField("kind", string(kind)).
		WithField("query", search).
		WithField("donations", len(board.Donations)).
		WithField("requests", len(board.Requests)).
		Debug("board browsed")
	return board, nil
}

func donationFields(d donation.Donation) []string {
	fields := []string{d.FullName, d.Condition}
	fields = append(fields, withLabels(catalog.Categories, d.Categories)...)
	return append(fields, withLabels(catalog.ClothingTypes, d.ClothingTypes)...)
}

func requestFields(r request.Request) []string {
	fields := []string{r.FullName, r.AdditionalInfo}
	fields = append(fields, withLabels(catalog.Categories, r.Categories)...)
	return append(fields, withLabels(catalog.ClothingTypes, r.ClothingTypes)...)
}

func withLabels(set []catalog.Option, values []string) []string {
	out := make([]string, 0, 2*len(values))
	for _, v := range values {
		out = append(out, v, catalog.Label(set, v))
	}
	return out
}
