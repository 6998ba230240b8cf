package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

const donationColumns = `
	id::text AS id, donated_by::text AS donated_by, full_name, email, clothing_type,
	categories, condition, comments, images, status,
	COALESCE(requested_by::text, '') AS requested_by,
	COALESCE(accepted_request_id::text, '') AS accepted_request_id,
	COALESCE(request_id::text, '') AS request_id,
	"timestamp", updated_at`

const requestColumns = `
	id::text AS id, requested_by::text AS requested_by, full_name, age, gender, phone,
	email, address, ration_card_number, ration_card_type, ration_card_photo,
	clothing_type, categories, clothing_size, additional_info, status,
	COALESCE(fulfilled_by::text, '') AS fulfilled_by,
	COALESCE(donation_id::text, '') AS donation_id,
	"timestamp", updated_at`

const matchColumns = `
	id::text AS id, donation_id::text AS donation_id, request_id::text AS request_id,
	requester_id::text AS requester_id, donor_id::text AS donor_id, initiated_by,
	full_name, additional_info, status, created_at, updated_at`

type donationRow struct {
	ID                string         `db:"id"`
	DonatedBy         string         `db:"donated_by"`
	FullName          string         `db:"full_name"`
	Email             string         `db:"email"`
	ClothingTypes     pq.StringArray `db:"clothing_type"`
	Categories        pq.StringArray `db:"categories"`
	Condition         string         `db:"condition"`
	Comments          string         `db:"comments"`
	Images            pq.StringArray `db:"images"`
	Status            string         `db:"status"`
	RequestedBy       string         `db:"requested_by"`
	AcceptedRequestID string         `db:"accepted_request_id"`
	RequestID         string         `db:"request_id"`
	Timestamp         time.Time      `db:"timestamp"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r donationRow) toDomain() donation.Donation {
	return donation.Donation{
		ID:                r.ID,
		DonatedBy:         r.DonatedBy,
		FullName:          r.FullName,
		Email:             r.Email,
		ClothingTypes:     []string(r.ClothingTypes),
		Categories:        []string(r.Categories),
		Condition:         r.Condition,
		Comments:          r.Comments,
		Images:            []string(r.Images),
		Status:            donation.Status(r.Status),
		RequestedBy:       r.RequestedBy,
		AcceptedRequestID: r.AcceptedRequestID,
		RequestID:         r.RequestID,
		Timestamp:         r.Timestamp.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

type requestRow struct {
	ID               string         `db:"id"`
	RequestedBy      string         `db:"requested_by"`
	FullName         string         `db:"full_name"`
	Age              int            `db:"age"`
	Gender           string         `db:"gender"`
	Phone            string         `db:"phone"`
	Email            string         `db:"email"`
	Address          string         `db:"address"`
	RationCardNumber string         `db:"ration_card_number"`
	RationCardType   string         `db:"ration_card_type"`
	RationCardPhoto  string         `db:"ration_card_photo"`
	ClothingTypes    pq.StringArray `db:"clothing_type"`
	Categories       pq.StringArray `db:"categories"`
	ClothingSize     string         `db:"clothing_size"`
	AdditionalInfo   string         `db:"additional_info"`
	Status           string         `db:"status"`
	FulfilledBy      string         `db:"fulfilled_by"`
	DonationID       string         `db:"donation_id"`
	Timestamp        time.Time      `db:"timestamp"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r requestRow) toDomain() request.Request {
	return request.Request{
		ID:               r.ID,
		RequestedBy:      r.RequestedBy,
		FullName:         r.FullName,
		Age:              r.Age,
		Gender:           r.Gender,
		Phone:            r.Phone,
		Email:            r.Email,
		Address:          r.Address,
		RationCardNumber: r.RationCardNumber,
		RationCardType:   r.RationCardType,
		RationCardPhoto:  r.RationCardPhoto,
		ClothingTypes:    []string(r.ClothingTypes),
		Categories:       []string(r.Categories),
		ClothingSize:     r.ClothingSize,
		AdditionalInfo:   r.AdditionalInfo,
		Status:           request.Status(r.Status),
		FulfilledBy:      r.FulfilledBy,
		DonationID:       r.DonationID,
		Timestamp:        r.Timestamp.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
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
	d.Timestamp = now
	d.UpdatedAt = now

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if link != nil {
			if err := lockListed(ctx, tx, `
				SELECT status = 'open' AND donation_id IS NULL FROM requests WHERE id = $1 FOR UPDATE
			`, link.RequestID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO donations (id, donated_by, full_name, email, clothing_type, categories,
				condition, comments, images, status, requested_by, accepted_request_id, request_id,
				"timestamp", updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				NULLIF($11, '')::uuid, NULLIF($12, '')::uuid, NULLIF($13, '')::uuid, $14, $15)
		`, d.ID, d.DonatedBy, d.FullName, d.Email, pq.Array(nonNil(d.ClothingTypes)), pq.Array(nonNil(d.Categories)),
			d.Condition, d.Comments, pq.Array(nonNil(d.Images)), string(d.Status), d.RequestedBy,
			d.AcceptedRequestID, d.RequestID, d.Timestamp, d.UpdatedAt)
		if err != nil {
			return err
		}
		if link != nil {
			link.DonationID = d.ID
			return insertMatch(ctx, tx, link, now)
		}
		return nil
	})
	if err != nil {
		return donation.Donation{}, err
	}
	return d, nil
}

func (s *Store) GetDonation(ctx context.Context, id string) (donation.Donation, error) {
	if !validID(id) {
		return donation.Donation{}, storage.ErrNotFound
	}
	var row donationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+donationColumns+` FROM donations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return donation.Donation{}, storage.ErrNotFound
	}
	if err != nil {
		return donation.Donation{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListDonations(ctx context.Context, f storage.DonationFilter) ([]donation.Donation, error) {
	var w where
	if f.IDs != nil {
		ids := validIDs(f.IDs)
		if len(ids) == 0 {
			return []donation.Donation{}, nil
		}
		w.add("id = ANY(%s::uuid[])", pq.Array(ids))
	}
	if f.DonatedBy != "" {
		w.add("donated_by::text = %s", f.DonatedBy)
	}
	if f.RequestedBy != "" {
		w.add("requested_by::text = %s", f.RequestedBy)
	}
	if f.Status != "" {
		w.add("status = %s", string(f.Status))
	}
	if f.ListedOnly {
		w.raw("status = 'available' AND request_id IS NULL")
	}
	if f.ExcludeDonor != "" {
		w.add("donated_by::text <> %s", f.ExcludeDonor)
	}

	var rows []donationRow
	query := `SELECT ` + donationColumns + ` FROM donations` + w.sql() + ` ORDER BY "timestamp" DESC` + limit(f.Limit)
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, err
	}
	out := make([]donation.Donation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
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
	r.Timestamp = now
	r.UpdatedAt = now

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if link != nil {
			if err := lockListed(ctx, tx, `
				SELECT status = 'available' AND request_id IS NULL FROM donations WHERE id = $1 FOR UPDATE
			`, link.DonationID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO requests (id, requested_by, full_name, age, gender, phone, email, address,
				ration_card_number, ration_card_type, ration_card_photo, clothing_type, categories,
				clothing_size, additional_info, status, fulfilled_by, donation_id, "timestamp", updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
				NULLIF($17, '')::uuid, NULLIF($18, '')::uuid, $19, $20)
		`, r.ID, r.RequestedBy, r.FullName, r.Age, r.Gender, r.Phone, r.Email, r.Address,
			r.RationCardNumber, r.RationCardType, r.RationCardPhoto, pq.Array(nonNil(r.ClothingTypes)),
			pq.Array(nonNil(r.Categories)), r.ClothingSize, r.AdditionalInfo, string(r.Status),
			r.FulfilledBy, r.DonationID, r.Timestamp, r.UpdatedAt)
		if err != nil {
			return err
		}
		if link != nil {
			link.RequestID = r.ID
			return insertMatch(ctx, tx, link, now)
		}
		return nil
	})
	if err != nil {
		return request.Request{}, err
	}
	return r, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (request.Request, error) {
	if !validID(id) {
		return request.Request{}, storage.ErrNotFound
	}
	var row requestRow
	err := s.db.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return request.Request{}, storage.ErrNotFound
	}
	if err != nil {
		return request.Request{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListRequests(ctx context.Context, f storage.RequestFilter) ([]request.Request, error) {
	var w where
	if f.IDs != nil {
		ids := validIDs(f.IDs)
		if len(ids) == 0 {
			return []request.Request{}, nil
		}
		w.add("id = ANY(%s::uuid[])", pq.Array(ids))
	}
	if f.RequestedBy != "" {
		w.add("requested_by::text = %s", f.RequestedBy)
	}
	if f.Status != "" {
		w.add("status = %s", string(f.Status))
	}
	if f.ListedOnly {
		w.raw("status = 'open' AND donation_id IS NULL")
	}
	if f.ExcludeRequester != "" {
		w.add("requested_by::text <> %s", f.ExcludeRequester)
	}

	var rows []requestRow
	query := `SELECT ` + requestColumns + ` FROM requests` + w.sql() + ` ORDER BY "timestamp" DESC` + limit(f.Limit)
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, err
	}
	out := make([]request.Request, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- MatchStore -------------------------------------------------------------

func insertMatch(ctx context.Context, tx *sqlx.Tx, m *match.Match, now time.Time) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = match.StatusPending
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO donation_requests (id, donation_id, request_id, requester_id, donor_id,
			initiated_by, full_name, additional_info, status, created_at, updated_at)
		VALUES (:id, :donation_id, :request_id, :requester_id, :donor_id,
			:initiated_by, :full_name, :additional_info, :status, :created_at, :updated_at)
	`, m)
	return err
}

func (s *Store) GetMatch(ctx context.Context, id string) (match.Match, error) {
	if !validID(id) {
		return match.Match{}, storage.ErrNotFound
	}
	var m match.Match
	err := s.db.GetContext(ctx, &m, `SELECT `+matchColumns+` FROM donation_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return match.Match{}, storage.ErrNotFound
	}
	if err != nil {
		return match.Match{}, err
	}
	return m, nil
}

func (s *Store) ListMatches(ctx context.Context, f storage.MatchFilter) ([]match.Match, error) {
	var w where
	if f.DonationID != "" {
		w.add("donation_id::text = %s", f.DonationID)
	}
	if f.RequestID != "" {
		w.add("request_id::text = %s", f.RequestID)
	}
	if f.DonorID != "" {
		w.add("donor_id::text = %s", f.DonorID)
	}
	if f.RequesterID != "" {
		w.add("requester_id::text = %s", f.RequesterID)
	}
	if f.Status != "" {
		w.add("status = %s", string(f.Status))
	}
	if !f.CreatedBefore.IsZero() {
		w.add("created_at < %s", f.CreatedBefore)
	}

	out := []match.Match{}
	query := `SELECT ` + matchColumns + ` FROM donation_requests` + w.sql() + ` ORDER BY created_at DESC`
	if err := s.db.SelectContext(ctx, &out, query, w.args...); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Transitioner -----------------------------------------------------------

func (s *Store) ApplyTransition(ctx context.Context, t storage.Transition) (storage.TransitionResult, error) {
	if err := t.Validate(); err != nil {
		return storage.TransitionResult{}, err
	}
	var result storage.TransitionResult
	now := time.Now().UTC()

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, c := range t.Matches {
			if !validID(c.ID) {
				return storage.ErrNotFound
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE donation_requests SET status = $3, updated_at = $4
				WHERE id = $1 AND status = $2
			`, c.ID, string(c.From), string(c.To), now)
			if err := checkUpdated(ctx, tx, "donation_requests", c.ID, res, err); err != nil {
				return err
			}
		}
		for _, c := range t.Donations {
			if !validID(c.ID) {
				return storage.ErrNotFound
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE donations SET status = $3,
					requested_by = COALESCE(NULLIF($4, '')::uuid, requested_by),
					accepted_request_id = COALESCE(NULLIF($5, '')::uuid, accepted_request_id),
					updated_at = $6
				WHERE id = $1 AND status = $2
			`, c.ID, string(c.From), string(c.To), c.RequestedBy, c.AcceptedRequestID, now)
			if err := checkUpdated(ctx, tx, "donations", c.ID, res, err); err != nil {
				return err
			}
		}
		for _, c := range t.Requests {
			if !validID(c.ID) {
				return storage.ErrNotFound
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE requests SET status = $3,
					donation_id = COALESCE(NULLIF($4, '')::uuid, donation_id),
					fulfilled_by = COALESCE(NULLIF($5, '')::uuid, fulfilled_by),
					updated_at = $6
				WHERE id = $1 AND status = $2
					AND (NULLIF($4, '') IS NULL OR donation_id IS NULL OR donation_id = NULLIF($4, '')::uuid)
			`, c.ID, string(c.From), string(c.To), c.DonationID, c.FulfilledBy, now)
			if err := checkUpdated(ctx, tx, "requests", c.ID, res, err); err != nil {
				return err
			}
		}
		if sib := t.Siblings; sib != nil {
			var ids []string
			err := tx.SelectContext(ctx, &ids, `
				UPDATE donation_requests SET status = 'declined', updated_at = $3
				WHERE (donation_id = NULLIF($1, '')::uuid OR request_id = NULLIF($4, '')::uuid)
					AND id <> $2 AND status = 'pending'
				RETURNING id::text
			`, sib.DonationID, sib.Keep, now, sib.RequestID)
			if err != nil {
				return err
			}
			result.DeclinedMatchIDs = ids
		}
		return nil
	})
	if err != nil {
		return storage.TransitionResult{}, err
	}
	return result, nil
}

// lockListed locks the row a new match points at. query selects a single
// boolean telling whether the row is still listed.
func lockListed(ctx context.Context, tx *sqlx.Tx, query, id string) error {
	if !validID(id) {
		return storage.ErrNotFound
	}
	var listed bool
	if err := tx.GetContext(ctx, &listed, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return err
	}
	if !listed {
		return storage.ErrConflict
	}
	return nil
}

// checkUpdated turns a zero-row conditional update into ErrConflict or
// ErrNotFound.
func checkUpdated(ctx context.Context, tx *sqlx.Tx, table, id string, res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return nil
	}
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id); err != nil {
		return err
	}
	if exists {
		return storage.ErrConflict
	}
	return storage.ErrNotFound
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- helpers ----------------------------------------------------------------

type where struct {
	clauses []string
	args    []interface{}
}

// add appends a clause whose single %s is replaced by the next placeholder.
func (w *where) add(clause string, arg interface{}) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) raw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func limit(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
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
