package donations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/realtime"
	"github.com/clothbridge/clothbridge/internal/app/services/uploads"
	"github.com/clothbridge/clothbridge/internal/app/storage"
	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
	"github.com/clothbridge/clothbridge/pkg/logger"
)

const imageFolder = "donations"

// Store is the persistence the service needs.
type Store interface {
	storage.DonationStore
	storage.RequestStore
	storage.MatchStore
}

// CreateInput is the donor form.
type CreateInput struct {
	FullName      string   `json:"full_name"`
	Email         string   `json:"email"`
	ClothingTypes []string `json:"clothing_type"`
	Categories    []string `json:"categories"`
	Condition     string   `json:"condition"`
	Comments      string   `json:"comments"`
	// RequestID answers an open request instead of listing publicly.
	RequestID string `json:"request_id"`
}

// Service manages donations.
type Service struct {
	store     Store
	uploads   *uploads.Service
	policy    uploads.Policy
	maxImages int
	events    realtime.Publisher
	log       *logger.Logger
}

// New constructs a donation service.
func New(store Store, up *uploads.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("donations")
	}
	return &Service{
		store:     store,
		uploads:   up,
		policy:    uploads.ImagePolicy(10 << 20),
		maxImages: 10,
		events:    realtime.Discard{},
		log:       log,
	}
}

// WithLimits sets the per-image size cap and the image count cap.
func (s *Service) WithLimits(maxBytes int64, maxImages int) *Service {
	if maxBytes > 0 {
		s.policy = uploads.ImagePolicy(maxBytes)
	}
	if maxImages > 0 {
		s.maxImages = maxImages
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

// Create uploads images and stores a new available donation. When the input
// names a request, the donation is offered to its requester through a
// pending match instead of being listed.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput, images []uploads.File) (donation.Donation, error) {
	if userID == "" {
		return donation.Donation{}, svcerrors.Unauthorized("")
	}
	if len(images) > s.maxImages {
		return donation.Donation{}, svcerrors.Validation("images", fmt.Sprintf("at most %d images are allowed", s.maxImages))
	}

	d := donation.Donation{
		DonatedBy:     userID,
		FullName:      in.FullName,
		Email:         in.Email,
		ClothingTypes: in.ClothingTypes,
		Categories:    in.Categories,
		Condition:     in.Condition,
		Comments:      in.Comments,
		RequestID:     strings.TrimSpace(in.RequestID),
		Status:        donation.StatusAvailable,
	}
	if err := d.Normalize(); err != nil {
		return donation.Donation{}, err
	}

	var link *match.Match
	if d.RequestID != "" {
		req, err := s.openRequest(ctx, d.RequestID, userID)
		if err != nil {
			return donation.Donation{}, err
		}
		if len(d.Categories) == 0 {
			d.Categories = append([]string(nil), req.Categories...)
		}
		if len(d.ClothingTypes) == 0 {
			d.ClothingTypes = append([]string(nil), req.ClothingTypes...)
		}
		link = &match.Match{
			RequestID:      req.ID,
			RequesterID:    req.RequestedBy,
			DonorID:        userID,
			InitiatedBy:    match.InitiatedByDonor,
			FullName:       d.FullName,
			AdditionalInfo: d.Comments,
			Status:         match.StatusPending,
		}
	}

	var stored []uploads.Object
	if len(images) > 0 {
		if s.uploads == nil {
			return donation.Donation{}, svcerrors.Internal("uploads are not configured", nil)
		}
		objs, err := s.uploads.UploadAll(ctx, userID, imageFolder, images, s.policy)
		if err != nil {
			return donation.Donation{}, err
		}
		stored = objs
		d.Images = uploads.URLs(objs)
	}

	created, err := s.store.CreateDonation(ctx, d, link)
	if err != nil {
		if s.uploads != nil {
			s.uploads.Remove(context.WithoutCancel(ctx), stored...)
		}
		switch {
		case errors.Is(err, storage.ErrConflict):
			return donation.Donation{}, svcerrors.Conflict("request is no longer open")
		case errors.Is(err, storage.ErrNotFound):
			return donation.Donation{}, svcerrors.NotFound("request", d.RequestID)
		}
		return donation.Donation{}, svcerrors.Internal("could not save donation", err)
	}

	entry := s.log.WithField("donation_id", created.ID).WithField("donor", userID)
	if link != nil {
		entry = entry.WithField("request_id", link.RequestID).WithField("match_id", link.ID)
		s.events.Publish(ctx, realtime.NewEvent(realtime.EventMatchCreated, *link, link.RequesterID, link.DonorID))
	}
	entry.Info("donation created")
	return created, nil
}

func (s *Service) openRequest(ctx context.Context, id, donorID string) (request.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return request.Request{}, svcerrors.NotFound("request", id)
		}
		return request.Request{}, svcerrors.Internal("could not load request", err)
	}
	if req.RequestedBy == donorID {
		return request.Request{}, svcerrors.Forbidden("you cannot donate to your own request")
	}
	if !req.Listed() {
		return request.Request{}, svcerrors.Conflict("request is no longer open")
	}
	return req, nil
}

// Get returns a donation by id.
func (s *Service) Get(ctx context.Context, id string) (donation.Donation, error) {
	d, err := s.store.GetDonation(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return donation.Donation{}, svcerrors.NotFound("donation", id)
		}
		return donation.Donation{}, svcerrors.Internal("could not load donation", err)
	}
	return d, nil
}

// ListByDonor returns the user's donations, newest first.
func (s *Service) ListByDonor(ctx context.Context, userID string) ([]donation.Donation, error) {
	if userID == "" {
		return nil, svcerrors.Unauthorized("")
	}
	list, err := s.store.ListDonations(ctx, storage.DonationFilter{DonatedBy: userID})
	if err != nil {
		return nil, svcerrors.Internal("could not list donations", err)
	}
	return list, nil
}
