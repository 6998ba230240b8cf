// Package supabase implements the storage interfaces over PostgREST. Each
// conditional update is a PATCH filtered on the expected status; a transition
// spanning several rows is applied in order and undone on failure, so it is
// not isolated from concurrent readers the way the postgres store is.
// Undo writes back every column the transition set, not only the status.
package supabase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/storage"
	"github.com/clothbridge/clothbridge/pkg/logger"
	"github.com/clothbridge/clothbridge/supabase/client"
)

const (
	tableDonations = "donations"
	tableRequests  = "requests"
	tableMatches   = "donation_requests"
)

// Store talks to PostgREST with the service role key.
type Store struct {
	db  *client.Client
	log *logger.Logger
}

var _ storage.Store = (*Store)(nil)

// New wraps a Supabase client.
func New(db *client.Client, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("supabase-store")
	}
	return &Store{db: db, log: log}
}

type donationRecord struct {
	ID                string    `json:"id"`
	DonatedBy         string    `json:"donated_by"`
	FullName          string    `json:"full_name"`
	Email             string    `json:"email"`
	ClothingTypes     []string  `json:"clothing_type"`
	Categories        []string  `json:"categories"`
	Condition         string    `json:"condition"`
	Comments          string    `json:"comments"`
	Images            []string  `json:"images"`
	Status            string    `json:"status"`
	RequestedBy       string    `json:"requested_by,omitempty"`
	AcceptedRequestID string    `json:"accepted_request_id,omitempty"`
	RequestID         string    `json:"request_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type requestRecord struct {
	ID               string    `json:"id"`
	RequestedBy      string    `json:"requested_by"`
	FullName         string    `json:"full_name"`
	Age              int       `json:"age"`
	Gender           string    `json:"gender"`
	Phone            string    `json:"phone"`
	Email            string    `json:"email"`
	Address          string    `json:"address"`
	RationCardNumber string    `json:"ration_card_number"`
	RationCardType   string    `json:"ration_card_type"`
	RationCardPhoto  string    `json:"ration_card_photo"`
	ClothingTypes    []string  `json:"clothing_type"`
	Categories       []string  `json:"categories"`
	ClothingSize     string    `json:"clothing_size"`
	AdditionalInfo   string    `json:"additional_info"`
	Status           string    `json:"status"`
	FulfilledBy      string    `json:"fulfilled_by,omitempty"`
	DonationID       string    `json:"donation_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// --- DonationStore ----------------------------------------------------------

func (s *Store) CreateDonation(ctx context.Context, d donation.Donation, link *match.Match) (donation.Donation, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = donation.StatusAvailable
	}
	now := time.Now().UTC()
	d.Timestamp, d.UpdatedAt = now, now

	rec := donationRecord{
		ID: d.ID, DonatedBy: d.DonatedBy, FullName: d.FullName, Email: d.Email,
		ClothingTypes: nonNil(d.ClothingTypes), Categories: nonNil(d.Categories),
		Condition: d.Condition, Comments: d.Comments, Images: nonNil(d.Images),
		Status: string(d.Status), RequestedBy: d.RequestedBy, AcceptedRequestID: d.AcceptedRequestID,
		RequestID: d.RequestID, Timestamp: now, UpdatedAt: now,
	}
	if err := s.insert(ctx, tableDonations, rec); err != nil {
		return donation.Donation{}, err
	}
	if link != nil {
		link.DonationID = d.ID
		if err := s.insertMatch(ctx, link, now); err != nil {
			s.remove(ctx, tableDonations, d.ID)
			return donation.Donation{}, err
		}
		if err := s.stillListed(ctx, tableRequests, link.RequestID, string(request.StatusOpen), "donation_id"); err != nil {
			s.remove(ctx, tableMatches, link.ID)
			s.remove(ctx, tableDonations, d.ID)
			return donation.Donation{}, err
		}
	}
	return d, nil
}

func (s *Store) GetDonation(ctx context.Context, id string) (donation.Donation, error) {
	var d donation.Donation
	if err := s.getByID(ctx, tableDonations, id, &d); err != nil {
		return donation.Donation{}, err
	}
	return d, nil
}

func (s *Store) ListDonations(ctx context.Context, f storage.DonationFilter) ([]donation.Donation, error) {
	q := s.db.From(tableDonations).Select("*")
	if f.IDs != nil {
		ids := validIDs(f.IDs)
		if len(ids) == 0 {
			return []donation.Donation{}, nil
		}
		q.In("id", ids)
	}
	if f.DonatedBy != "" {
		q.Eq("donated_by", f.DonatedBy)
	}
	if f.RequestedBy != "" {
		q.Eq("requested_by", f.RequestedBy)
	}
	if f.Status != "" {
		q.Eq("status", string(f.Status))
	}
	if f.ListedOnly {
		q.Eq("status", string(donation.StatusAvailable)).Is("request_id", "null")
	}
	if f.ExcludeDonor != "" {
		q.Neq("donated_by", f.ExcludeDonor)
	}
	q.Order("timestamp", false)
	if f.Limit > 0 {
		q.Limit(f.Limit)
	}

	out := []donation.Donation{}
	if err := s.list(ctx, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- RequestStore -----------------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, r request.Request, link *match.Match) (request.Request, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = request.StatusOpen
	}
	now := time.Now().UTC()
	r.Timestamp, r.UpdatedAt = now, now

	rec := requestRecord{
		ID: r.ID, RequestedBy: r.RequestedBy, FullName: r.FullName, Age: r.Age, Gender: r.Gender,
		Phone: r.Phone, Email: r.Email, Address: r.Address, RationCardNumber: r.RationCardNumber,
		RationCardType: r.RationCardType, RationCardPhoto: r.RationCardPhoto,
		ClothingTypes: nonNil(r.ClothingTypes), Categories: nonNil(r.Categories),
		ClothingSize: r.ClothingSize, AdditionalInfo: r.AdditionalInfo, Status: string(r.Status),
		FulfilledBy: r.FulfilledBy, DonationID: r.DonationID, Timestamp: now, UpdatedAt: now,
	}
	if err := s.insert(ctx, tableRequests, rec); err != nil {
		return request.Request{}, err
	}
	if link != nil {
		link.RequestID = r.ID
		if err := s.insertMatch(ctx, link, now); err != nil {
			s.remove(ctx, tableRequests, r.ID)
			return request.Request{}, err
		}
		if err := s.stillListed(ctx, tableDonations, link.DonationID, string(donation.StatusAvailable), "request_id"); err != nil {
			s.remove(ctx, tableMatches, link.ID)
			s.remove(ctx, tableRequests, r.ID)
			return request.Request{}, err
		}
	}
	return r, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (request.Request, error) {
	var r request.Request
	if err := s.getByID(ctx, tableRequests, id, &r); err != nil {
		return request.Request{}, err
	}
	return r, nil
}

func (s *Store) ListRequests(ctx context.Context, f storage.RequestFilter) ([]request.Request, error) {
	q := s.db.From(tableRequests).Select("*")
	if f.IDs != nil {
		ids := validIDs(f.IDs)
		if len(ids) == 0 {
			return []request.Request{}, nil
		}
		q.In("id", ids)
	}
	if f.RequestedBy != "" {
		q.Eq("requested_by", f.RequestedBy)
	}
	if f.Status != "" {
		q.Eq("status", string(f.Status))
	}
	if f.ListedOnly {
		q.Eq("status", string(request.StatusOpen)).Is("donation_id", "null")
	}
	if f.ExcludeRequester != "" {
		q.Neq("requested_by", f.ExcludeRequester)
	}
	q.Order("timestamp", false)
	if f.Limit > 0 {
		q.Limit(f.Limit)
	}

	out := []request.Request{}
	if err := s.list(ctx, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- MatchStore -------------------------------------------------------------

func (s *Store) insertMatch(ctx context.Context, m *match.Match, now time.Time) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = match.StatusPending
	}
	m.CreatedAt, m.UpdatedAt = now, now
	return s.insert(ctx, tableMatches, m)
}

func (s *Store) GetMatch(ctx context.Context, id string) (match.Match, error) {
	var m match.Match
	if err := s.getByID(ctx, tableMatches, id, &m); err != nil {
		return match.Match{}, err
	}
	return m, nil
}

func (s *Store) ListMatches(ctx context.Context, f storage.MatchFilter) ([]match.Match, error) {
	q := s.db.From(tableMatches).Select("*")
	if f.DonationID != "" {
		q.Eq("donation_id", f.DonationID)
	}
	if f.RequestID != "" {
		q.Eq("request_id", f.RequestID)
	}
	if f.DonorID != "" {
		q.Eq("donor_id", f.DonorID)
	}
	if f.RequesterID != "" {
		q.Eq("requester_id", f.RequesterID)
	}
	if f.Status != "" {
		q.Eq("status", string(f.Status))
	}
	if !f.CreatedBefore.IsZero() {
		q.Lt("created_at", f.CreatedBefore.UTC().Format(time.RFC3339Nano))
	}
	q.Order("created_at", false)

	out := []match.Match{}
	if err := s.list(ctx, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Transitioner -----------------------------------------------------------

// patch is one conditional update. prior holds the values of the columns in
// set as they were read just before the update, and is what rollback writes
// back.
type patch struct {
	table string
	id    string
	from  string
	guard []string
	set   map[string]interface{}
	prior map[string]interface{}
}

func (s *Store) ApplyTransition(ctx context.Context, t storage.Transition) (storage.TransitionResult, error) {
	if err := t.Validate(); err != nil {
		return storage.TransitionResult{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var patches []patch
	for _, c := range t.Matches {
		patches = append(patches, patch{
			table: tableMatches, id: c.ID, from: string(c.From),
			set: map[string]interface{}{"status": c.To, "updated_at": now},
		})
	}
	for _, c := range t.Donations {
		set := map[string]interface{}{"status": c.To, "updated_at": now}
		if c.RequestedBy != "" {
			set["requested_by"] = c.RequestedBy
		}
		if c.AcceptedRequestID != "" {
			set["accepted_request_id"] = c.AcceptedRequestID
		}
		patches = append(patches, patch{table: tableDonations, id: c.ID, from: string(c.From), set: set})
	}
	for _, c := range t.Requests {
		set := map[string]interface{}{"status": c.To, "updated_at": now}
		var guard []string
		if c.DonationID != "" {
			set["donation_id"] = c.DonationID
			guard = []string{"donation_id.is.null", "donation_id.eq." + c.DonationID}
		}
		if c.FulfilledBy != "" {
			set["fulfilled_by"] = c.FulfilledBy
		}
		patches = append(patches, patch{table: tableRequests, id: c.ID, from: string(c.From), guard: guard, set: set})
	}

	for i := range patches {
		if err := s.conditionalPatch(ctx, &patches[i]); err != nil {
			s.rollback(ctx, patches[:i])
			return storage.TransitionResult{}, err
		}
	}

	var result storage.TransitionResult
	sib := t.Siblings
	if sib == nil {
		return result, nil
	}
	seen := make(map[string]bool)
	for _, scope := range [][2]string{{"donation_id", sib.DonationID}, {"request_id", sib.RequestID}} {
		if scope[1] == "" {
			continue
		}
		ids, err := s.declinePending(ctx, scope[0], scope[1], sib.Keep, now)
		if err != nil {
			for _, id := range result.DeclinedMatchIDs {
				patches = append(patches, patch{
					table: tableMatches, id: id,
					prior: map[string]interface{}{"status": match.StatusPending},
				})
			}
			s.rollback(ctx, patches)
			return storage.TransitionResult{}, fmt.Errorf("decline siblings: %w", err)
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				result.DeclinedMatchIDs = append(result.DeclinedMatchIDs, id)
			}
		}
	}
	sort.Strings(result.DeclinedMatchIDs)
	return result, nil
}

// conditionalPatch snapshots the columns p sets, then updates the row only if
// it is still in p.from (and passes p.guard).
func (s *Store) conditionalPatch(ctx context.Context, p *patch) error {
	cols := make([]string, 0, len(p.set))
	for k := range p.set {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	var prior map[string]interface{}
	if err := s.getColumns(ctx, p.table, p.id, strings.Join(cols, ","), &prior); err != nil {
		return err
	}

	q := s.db.From(p.table).Eq("id", p.id).Eq("status", p.from)
	if len(p.guard) > 0 {
		q.Or(p.guard...)
	}
	resp, err := q.ExecuteUpdate(ctx, p.set)
	if err != nil {
		return err
	}
	if err := resp.Error(); err != nil {
		return err
	}
	var rows []map[string]interface{}
	if err := resp.JSON(&rows); err != nil {
		return fmt.Errorf("decode %s update: %w", p.table, err)
	}
	if len(rows) == 0 {
		return storage.ErrConflict
	}
	p.prior = prior
	return nil
}

func (s *Store) declinePending(ctx context.Context, column, value, keep, now string) ([]string, error) {
	if !validID(value) {
		return nil, nil
	}
	resp, err := s.db.From(tableMatches).
		Eq(column, value).
		Neq("id", keep).
		Eq("status", string(match.StatusPending)).
		ExecuteUpdate(ctx, map[string]interface{}{"status": match.StatusDeclined, "updated_at": now})
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	var rows []struct {
		ID string `json:"id"`
	}
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("decode declined: %w", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

// rollback restores applied patches in reverse order. Failures are logged; the
// caller already has an error to return.
func (s *Store) rollback(ctx context.Context, applied []patch) {
	for i := len(applied) - 1; i >= 0; i-- {
		p := applied[i]
		resp, err := s.db.From(p.table).Eq("id", p.id).ExecuteUpdate(ctx, p.prior)
		if err == nil {
			err = resp.Error()
		}
		if err != nil {
			s.log.WithError(err).WithField("table", p.table).WithField("id", p.id).
				Error("failed to revert partial transition")
		}
	}
}

// stillListed re-reads the row a new match points at. It runs after the match
// is inserted, so an accept landing later declines that match as a sibling.
func (s *Store) stillListed(ctx context.Context, table, id, status, link string) error {
	var row map[string]interface{}
	if err := s.getColumns(ctx, table, id, "status,"+link, &row); err != nil {
		return err
	}
	if row["status"] != status || row[link] != nil {
		return storage.ErrConflict
	}
	return nil
}

// --- helpers ----------------------------------------------------------------

func (s *Store) insert(ctx context.Context, table string, row interface{}) error {
	resp, err := s.db.From(table).ExecuteInsert(ctx, row)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if err := resp.Error(); err != nil {
		if sbErr, ok := client.AsError(err); ok && sbErr.StatusCode == 409 {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, table, id string) {
	resp, err := s.db.From(table).Eq("id", id).ExecuteDelete(ctx)
	if err == nil {
		err = resp.Error()
	}
	if err != nil {
		s.log.WithError(err).WithField("table", table).WithField("id", id).
			Warn("failed to remove row after linked insert failed")
	}
}

func (s *Store) getByID(ctx context.Context, table, id string, out interface{}) error {
	return s.getColumns(ctx, table, id, "*", out)
}

func (s *Store) getColumns(ctx context.Context, table, id, columns string, out interface{}) error {
	if !validID(id) {
		return storage.ErrNotFound
	}
	resp, err := s.db.From(table).Select(columns).Eq("id", id).Single().Execute(ctx)
	if err != nil {
		return fmt.Errorf("get %s: %w", table, err)
	}
	if err := resp.Error(); err != nil {
		if client.IsNotFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("get %s: %w", table, err)
	}
	if err := resp.JSON(out); err != nil {
		return fmt.Errorf("decode %s: %w", table, err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, q *client.QueryBuilder, out interface{}) error {
	resp, err := q.Execute(ctx)
	if err != nil {
		return err
	}
	if err := resp.Error(); err != nil {
		return err
	}
	return resp.JSON(out)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			out = append(out, id)
		}
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
