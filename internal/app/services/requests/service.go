package requests

import (
	"context"
	"errors"
	"strings"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/realtime"
	"github.com/clothbridge/clothbridge/internal/app/services/uploads"
	"github.com/clothbridge/clothbridge/internal/app/storage"
	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
	"github.com/clothbridge/clothbridge/internal/pii"
	"github.com/clothbridge/clothbridge/pkg/logger"
)

const rationCardFolder = "ration-cards"

// Store is the persistence the service needs.
type Store interface {
	storage.DonationStore
	storage.RequestStore
	storage.MatchStore
}

// CreateInput is the requester form.
type CreateInput struct {
	FullName         string   `json:"full_name"`
	Age              int      `json:"age"`
	Gender           string   `json:"gender"`
	Phone            string   `json:"phone"`
	Email            string   `json:"email"`
	Address          string   `json:"address"`
	RationCardNumber string   `json:"ration_card_number"`
	RationCardType   string   `json:"ration_card_type"`
	ClothingTypes    []string `json:"clothing_type"`
	Categories       []string `json:"categories"`
	ClothingSize     string   `json:"clothing_size"`
	AdditionalInfo   string   `json:"additional_info"`
	// DonationID asks for a listed donation instead of posting publicly.
	DonationID string `json:"donation_id"`
}

// Service manages clothing requests.
type Service struct {
	store   Store
	uploads *uploads.Service
	policy  uploads.Policy
	sealer  pii.Sealer
	events  realtime.Publisher
	log     *logger.Logger
}

// New constructs a request service. A nil sealer stores ration card numbers
// in the clear.
func New(store Store, up *uploads.Service, sealer pii.Sealer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("requests")
	}
	if sealer == nil {
		sealer = pii.Plain{}
	}
	return &Service{
		store:   store,
		uploads: up,
		policy:  uploads.RationCardPolicy(2 << 20),
		sealer:  sealer,
		events:  realtime.Discard{},
		log:     log,
	}
}

// WithPhotoLimit caps the ration card photo size.
func (s *Service) WithPhotoLimit(maxBytes int64) *Service {
	if maxBytes > 0 {
		s.policy = uploads.RationCardPolicy(maxBytes)
	}
	return s
}

// WithPublisher routes match events to p.
func (s *Service) WithPublisher(p realtime.Publisher) *Service {
	if p != nil {
		s.events = p
	}
	return s
}

// Create validates the form, uploads the ration card photo and stores an
// open request. When the input names a donation, a pending match asks its
// donor to accept.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput, photo *uploads.File) (request.Request, error) {
	if userID == "" {
		return request.Request{}, svcerrors.Unauthorized("")
	}
	r := request.Request{
		RequestedBy:      userID,
		FullName:         in.FullName,
		Age:              in.Age,
		Gender:           in.Gender,
		Phone:            in.Phone,
		Email:            in.Email,
		Address:          in.Address,
		RationCardNumber: in.RationCardNumber,
		RationCardType:   in.RationCardType,
		ClothingTypes:    in.ClothingTypes,
		Categories:       in.Categories,
		ClothingSize:     in.ClothingSize,
		AdditionalInfo:   in.AdditionalInfo,
		DonationID:       strings.TrimSpace(in.DonationID),
		Status:           request.StatusOpen,
	}
	if err := r.Normalize(); err != nil {
		return request.Request{}, err
	}
	if r.RationCardNumber == "" {
		return request.Request{}, svcerrors.Validation("ration_card_number", "ration card number is required")
	}
	if r.RationCardType == "" {
		return request.Request{}, svcerrors.Validation("ration_card_type", "ration card type is required")
	}
	if photo == nil || photo.Reader == nil {
		return request.Request{}, svcerrors.Validation("ration_card_photo", "ration card photo is required")
	}

	var link *match.Match
	if r.DonationID != "" {
		d, err := s.availableDonation(ctx, r.DonationID, userID)
		if err != nil {
			return request.Request{}, err
		}
		link = &match.Match{
			DonationID:     d.ID,
			RequesterID:    userID,
			DonorID:        d.DonatedBy,
			InitiatedBy:    match.InitiatedByRequester,
			FullName:       r.FullName,
			AdditionalInfo: r.AdditionalInfo,
			Status:         match.StatusPending,
		}
	}

	sealed, err := s.sealer.Seal(r.RationCardNumber)
	if err != nil {
		return request.Request{}, svcerrors.Internal("could not protect ration card number", err)
	}
	plainNumber := r.RationCardNumber
	r.RationCardNumber = sealed

	if s.uploads == nil {
		return request.Request{}, svcerrors.Internal("uploads are not configured", nil)
	}
	obj, err := s.uploads.Upload(ctx, userID, rationCardFolder, *photo, s.policy)
	if err != nil {
		return request.Request{}, err
	}
	r.RationCardPhoto = obj.URL

	created, err := s.store.CreateRequest(ctx, r, link)
	if err != nil {
		s.uploads.Remove(context.WithoutCancel(ctx), obj)
		switch {
		case errors.Is(err, storage.ErrConflict):
			return request.Request{}, svcerrors.Conflict("donation is no longer available")
		case errors.Is(err, storage.ErrNotFound):
			return request.Request{}, svcerrors.NotFound("donation", r.DonationID)
		}
		return request.Request{}, svcerrors.Internal("could not save request", err)
	}

	entry := s.log.WithField("request_id", created.ID).WithField("requester", userID)
	if link != nil {
		entry = entry.WithField("donation_id", link.DonationID).WithField("match_id", link.ID)
		s.events.Publish(ctx, realtime.NewEvent(realtime.EventMatchCreated, *link, link.DonorID, link.RequesterID))
	}
	entry.Info("request created")

	created.RationCardNumber = plainNumber
	return created, nil
}

func (s *Service) availableDonation(ctx context.Context, id, requesterID string) (donation.Donation, error) {
	d, err := s.store.GetDonation(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return donation.Donation{}, svcerrors.NotFound("donation", id)
		}
		return donation.Donation{}, svcerrors.Internal("could not load donation", err)
	}
	if d.DonatedBy == requesterID {
		return donation.Donation{}, svcerrors.Forbidden("you cannot request your own donation")
	}
	if !d.Listed() {
		return donation.Donation{}, svcerrors.Conflict("donation is no longer available")
	}
	return d, nil
}

// Get returns a request as seen by viewer. Personal fields are only kept for
// the requester and for donors linked to the request by a match.
func (s *Service) Get(ctx context.Context, id, viewer string) (request.Request, error) {
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return request.Request{}, svcerrors.NotFound("request", id)
		}
		return request.Request{}, svcerrors.Internal("could not load request", err)
	}

	allowed, err := s.CanViewPersonal(ctx, r, viewer)
	if err != nil {
		return request.Request{}, err
	}
	if !allowed {
		return r.Redacted(), nil
	}
	return s.Open(r), nil
}

// CanViewPersonal reports whether viewer may see r's contact and ration card
// details.
func (s *Service) CanViewPersonal(ctx context.Context, r request.Request, viewer string) (bool, error) {
	if viewer == "" {
		return false, nil
	}
	if r.RequestedBy == viewer {
		return true, nil
	}
	linked, err := s.store.ListMatches(ctx, storage.MatchFilter{RequestID: r.ID})
	if err != nil {
		return false, svcerrors.Internal("could not load matches", err)
	}
	for _, m := range linked {
		if m.Involves(viewer) {
			return true, nil
		}
	}
	return false, nil
}

// ListByRequester returns the user's requests, newest first.
func (s *Service) ListByRequester(ctx context.Context, userID string) ([]request.Request, error) {
	if userID == "" {
		return nil, svcerrors.Unauthorized("")
	}
	list, err := s.store.ListRequests(ctx, storage.RequestFilter{RequestedBy: userID})
	if err != nil {
		return nil, svcerrors.Internal("could not list requests", err)
	}
	for i := range list {
		list[i] = s.Open(list[i])
	}
	return list, nil
}

// Open returns r with its ration card number readable. A value that cannot
// be opened is dropped and logged.
func (s *Service) Open(r request.Request) request.Request {
	if r.RationCardNumber == "" {
		return r
	}
	plain, err := s.sealer.Open(r.RationCardNumber)
	if err != nil {
		s.log.WithError(err).WithField("request_id", r.ID).Warn("could not open ration card number")
		r.RationCardNumber = ""
		return r
	}
	r.RationCardNumber = plain
	return r
}
