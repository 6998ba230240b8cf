package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	donations map[string]donation.Donation
	requests  map[string]request.Request
	matches   map[string]match.Match
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		now:       func() time.Time { return time.Now().UTC() },
		donations: make(map[string]donation.Donation),
		requests:  make(map[string]request.Request),
		matches:   make(map[string]match.Match),
	}
}

// WithClock replaces the timestamp source. Tests use it to order rows.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// DonationStore implementation -----------------------------------------------

func (s *Store) CreateDonation(_ context.Context, d donation.Donation, link *match.Match) (donation.Donation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	} else if _, exists := s.donations[d.ID]; exists {
		return donation.Donation{}, storage.ErrConflict
	}
	if link != nil {
		r, ok := s.requests[link.RequestID]
		if !ok {
			return donation.Donation{}, storage.ErrNotFound
		}
		if !r.Listed() {
			return donation.Donation{}, storage.ErrConflict
		}
	}
	if d.Status == "" {
		d.Status = donation.StatusAvailable
	}
	now := s.now()
	d.Timestamp = now
	d.UpdatedAt = now
	d = cloneDonation(d)
	s.donations[d.ID] = d

	if link != nil {
		link.DonationID = d.ID
		s.insertMatchLocked(link, now)
	}
	return cloneDonation(d), nil
}

func (s *Store) GetDonation(_ context.Context, id string) (donation.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.donations[id]
	if !ok {
		return donation.Donation{}, storage.ErrNotFound
	}
	return cloneDonation(d), nil
}

func (s *Store) ListDonations(_ context.Context, f storage.DonationFilter) ([]donation.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := toSet(f.IDs)
	result := make([]donation.Donation, 0)
	for _, d := range s.donations {
		switch {
		case ids != nil && !ids[d.ID]:
			continue
		case f.DonatedBy != "" && d.DonatedBy != f.DonatedBy:
			continue
		case f.RequestedBy != "" && d.RequestedBy != f.RequestedBy:
			continue
		case f.Status != "" && d.Status != f.Status:
			continue
		case f.ListedOnly && !d.Listed():
			continue
		case f.ExcludeDonor != "" && d.DonatedBy == f.ExcludeDonor:
			continue
		}
		result = append(result, cloneDonation(d))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// RequestStore implementation ------------------------------------------------

func (s *Store) CreateRequest(_ context.Context, r request.Request, link *match.Match) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	} else if _, exists := s.requests[r.ID]; exists {
		return request.Request{}, storage.ErrConflict
	}
	if link != nil {
		d, ok := s.donations[link.DonationID]
		if !ok {
			return request.Request{}, storage.ErrNotFound
		}
		if !d.Listed() {
			return request.Request{}, storage.ErrConflict
		}
	}
	if r.Status == "" {
		r.Status = request.StatusOpen
	}
	now := s.now()
	r.Timestamp = now
	r.UpdatedAt = now
	r = cloneRequest(r)
	s.requests[r.ID] = r

	if link != nil {
		link.RequestID = r.ID
		s.insertMatchLocked(link, now)
	}
	return cloneRequest(r), nil
}

func (s *Store) GetRequest(_ context.Context, id string) (request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return request.Request{}, storage.ErrNotFound
	}
	return cloneRequest(r), nil
}

func (s *Store) ListRequests(_ context.Context, f storage.RequestFilter) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := toSet(f.IDs)
	result := make([]request.Request, 0)
	for _, r := range s.requests {
		switch {
		case ids != nil && !ids[r.ID]:
			continue
		case f.RequestedBy != "" && r.RequestedBy != f.RequestedBy:
			continue
		case f.Status != "" && r.Status != f.Status:
			continue
		case f.ListedOnly && !r.Listed():
			continue
		case f.ExcludeRequester != "" && r.RequestedBy == f.ExcludeRequester:
			continue
		}
		result = append(result, cloneRequest(r))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// MatchStore implementation --------------------------------------------------

func (s *Store) insertMatchLocked(m *match.Match, now time.Time) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = match.StatusPending
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	s.matches[m.ID] = *m
}

func (s *Store) GetMatch(_ context.Context, id string) (match.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return match.Match{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListMatches(_ context.Context, f storage.MatchFilter) ([]match.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]match.Match, 0)
	for _, m := range s.matches {
		switch {
		case f.DonationID != "" && m.DonationID != f.DonationID:
			continue
		case f.RequestID != "" && m.RequestID != f.RequestID:
			continue
		case f.DonorID != "" && m.DonorID != f.DonorID:
			continue
		case f.RequesterID != "" && m.RequesterID != f.RequesterID:
			continue
		case f.Status != "" && m.Status != f.Status:
			continue
		case !f.CreatedBefore.IsZero() && !m.CreatedAt.Before(f.CreatedBefore):
			continue
		}
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// Transitioner implementation ------------------------------------------------

func (s *Store) ApplyTransition(_ context.Context, t storage.Transition) (storage.TransitionResult, error) {
	if err := t.Validate(); err != nil {
		return storage.TransitionResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every precondition before writing anything.
	for _, c := range t.Matches {
		m, ok := s.matches[c.ID]
		if !ok {
			return storage.TransitionResult{}, storage.ErrNotFound
		}
		if m.Status != c.From {
			return storage.TransitionResult{}, storage.ErrConflict
		}
	}
	for _, c := range t.Donations {
		d, ok := s.donations[c.ID]
		if !ok {
			return storage.TransitionResult{}, storage.ErrNotFound
		}
		if d.Status != c.From {
			return storage.TransitionResult{}, storage.ErrConflict
		}
	}
	for _, c := range t.Requests {
		r, ok := s.requests[c.ID]
		if !ok {
			return storage.TransitionResult{}, storage.ErrNotFound
		}
		if r.Status != c.From {
			return storage.TransitionResult{}, storage.ErrConflict
		}
		if c.DonationID != "" && r.DonationID != "" && r.DonationID != c.DonationID {
			return storage.TransitionResult{}, storage.ErrConflict
		}
	}

	now := s.now()
	for _, c := range t.Matches {
		m := s.matches[c.ID]
		m.Status = c.To
		m.UpdatedAt = now
		s.matches[c.ID] = m
	}
	for _, c := range t.Donations {
		d := s.donations[c.ID]
		d.Status = c.To
		if c.RequestedBy != "" {
			d.RequestedBy = c.RequestedBy
		}
		if c.AcceptedRequestID != "" {
			d.AcceptedRequestID = c.AcceptedRequestID
		}
		d.UpdatedAt = now
		s.donations[c.ID] = d
	}
	for _, c := range t.Requests {
		r := s.requests[c.ID]
		r.Status = c.To
		if c.DonationID != "" {
			r.DonationID = c.DonationID
		}
		if c.FulfilledBy != "" {
			r.FulfilledBy = c.FulfilledBy
		}
		r.UpdatedAt = now
		s.requests[c.ID] = r
	}

	var result storage.TransitionResult
	if sib := t.Siblings; sib != nil {
		for id, m := range s.matches {
			if !sib.Covers(m) {
				continue
			}
			m.Status = match.StatusDeclined
			m.UpdatedAt = now
			s.matches[id] = m
			result.DeclinedMatchIDs = append(result.DeclinedMatchIDs, id)
		}
		sort.Strings(result.DeclinedMatchIDs)
	}
	return result, nil
}

// Helpers --------------------------------------------------------------------

func toSet(ids []string) map[string]bool {
	if ids == nil {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneDonation(d donation.Donation) donation.Donation {
	d.ClothingTypes = cloneStrings(d.ClothingTypes)
	d.Categories = cloneStrings(d.Categories)
	d.Images = cloneStrings(d.Images)
	return d
}

func cloneRequest(r request.Request) request.Request {
	r.ClothingTypes = cloneStrings(r.ClothingTypes)
	r.Categories = cloneStrings(r.Categories)
	return r
}
