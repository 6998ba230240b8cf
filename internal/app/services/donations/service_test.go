package donations

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/services/uploads"
	"github.com/clothbridge/clothbridge/internal/app/storage"
	"github.com/clothbridge/clothbridge/internal/app/storage/memory"
	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

func newService() (*Service, *memory.Store, *uploads.MemoryBackend) {
	store := memory.New()
	backend := uploads.NewMemoryBackend("https://cdn.example")
	up := uploads.New(backend, 3, nil).WithBackoff(time.Millisecond)
	return New(store, up, nil), store, backend
}

func baseInput() CreateInput {
	return CreateInput{
		FullName:      "  Dana Donor ",
		Email:         "dana@example.com",
		Categories:    []string{"Women"},
		ClothingTypes: []string{"dresses", "Jackets"},
		Condition:     "like new",
		Comments:      "washed",
	}
}

func TestCreateListsDonationWithImages(t *testing.T) {
	svc, _, backend := newService()
	ctx := context.Background()

	d, err := svc.Create(ctx, "donor", baseInput(), []uploads.File{
		{Name: "front.png", Reader: bytes.NewReader(pngData)},
		{Name: "back.png", Reader: bytes.NewReader(pngData)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.ID == "" || d.Status != donation.StatusAvailable || !d.Listed() {
		t.Fatalf("unexpected donation %+v", d)
	}
	if d.FullName != "Dana Donor" || d.Condition != "Like New" {
		t.Fatalf("fields not normalised: %+v", d)
	}
	if len(d.Images) != 2 || backend.Len() != 2 {
		t.Fatalf("expected 2 images, got %v (%d stored)", d.Images, backend.Len())
	}
	for _, u := range d.Images {
		if !strings.HasPrefix(u, "https://cdn.example/donor/donations/") {
			t.Fatalf("unexpected image url %q", u)
		}
	}

	mine, err := svc.ListByDonor(ctx, "donor")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != d.ID {
		t.Fatalf("expected own donation listed, got %+v", mine)
	}
	got, err := svc.Get(ctx, d.ID)
	if err != nil || got.ID != d.ID {
		t.Fatalf("get: %v", err)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc, _, backend := newService()
	ctx := context.Background()

	in := baseInput()
	in.Condition = "ragged"
	if _, err := svc.Create(ctx, "donor", in, nil); !svcerrors.Is(err, svcerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if _, err := svc.Create(ctx, "", baseInput(), nil); !svcerrors.Is(err, svcerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	svc.WithLimits(0, 1)
	two := []uploads.File{{Name: "a.png", Reader: bytes.NewReader(pngData)}, {Name: "b.png", Reader: bytes.NewReader(pngData)}}
	if _, err := svc.Create(ctx, "donor", baseInput(), two); !svcerrors.Is(err, svcerrors.CodeValidation) {
		t.Fatalf("expected too many images, got %v", err)
	}

	bad := []uploads.File{{Name: "a.txt", Reader: strings.NewReader("not an image")}}
	if _, err := svc.Create(ctx, "donor", baseInput(), bad); err == nil {
		t.Fatalf("expected upload rejection")
	}
	if backend.Len() != 0 {
		t.Fatalf("nothing should be stored, found %d objects", backend.Len())
	}
}

func TestCreateForRequestOpensDonorMatch(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()

	req, err := store.CreateRequest(ctx, request.Request{
		RequestedBy: "alice", FullName: "Alice",
		Categories: []string{"kids"}, ClothingTypes: []string{"shoes"},
	}, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	in := baseInput()
	in.Categories, in.ClothingTypes = nil, nil
	in.RequestID = req.ID
	d, err := svc.Create(ctx, "donor", in, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.RequestID != req.ID || d.Listed() {
		t.Fatalf("donation should answer the request and stay off the board: %+v", d)
	}
	if len(d.Categories) != 1 || d.Categories[0] != "kids" || d.ClothingTypes[0] != "shoes" {
		t.Fatalf("categories not copied from request: %+v", d)
	}

	ms, _ := store.ListMatches(ctx, storage.MatchFilter{DonationID: d.ID})
	if len(ms) != 1 {
		t.Fatalf("expected 1 match, got %d", len(ms))
	}
	m := ms[0]
	if m.InitiatedBy != match.InitiatedByDonor || m.Decider() != "alice" || m.Status != match.StatusPending {
		t.Fatalf("unexpected match %+v", m)
	}
}

func TestCreateForRequestGuards(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()

	own, _ := store.CreateRequest(ctx, request.Request{RequestedBy: "donor", FullName: "Me"}, nil)
	in := baseInput()
	in.RequestID = own.ID
	if _, err := svc.Create(ctx, "donor", in, nil); !svcerrors.Is(err, svcerrors.CodeForbidden) {
		t.Fatalf("expected forbidden for own request, got %v", err)
	}

	done, _ := store.CreateRequest(ctx, request.Request{RequestedBy: "alice", FullName: "A", Status: request.StatusFulfilled}, nil)
	in.RequestID = done.ID
	if _, err := svc.Create(ctx, "donor", in, nil); !svcerrors.Is(err, svcerrors.CodeConflict) {
		t.Fatalf("expected conflict for fulfilled request, got %v", err)
	}

	in.RequestID = "missing"
	if _, err := svc.Create(ctx, "donor", in, nil); !svcerrors.Is(err, svcerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	svc, _, _ := newService()
	if _, err := svc.Get(context.Background(), "nope"); !svcerrors.Is(err, svcerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// linkingStore ties the request to another donation right before the insert,
// the way an accept landing after the service's own check would.
type linkingStore struct {
	*memory.Store
	requestID, donationID string
}

func (s linkingStore) CreateDonation(ctx context.Context, d donation.Donation, link *match.Match) (donation.Donation, error) {
	_, err := s.ApplyTransition(ctx, storage.Transition{Requests: []storage.RequestChange{{
		ID: s.requestID, From: request.StatusOpen, To: request.StatusOpen, DonationID: s.donationID,
	}}})
	if err != nil {
		return donation.Donation{}, err
	}
	return s.Store.CreateDonation(ctx, d, link)
}

func TestCreateForRequestLinkedMeanwhileConflicts(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	req, _ := store.CreateRequest(ctx, request.Request{RequestedBy: "alice", FullName: "Alice"}, nil)
	other, _ := store.CreateDonation(ctx, donation.Donation{DonatedBy: "dev", FullName: "Dev"}, nil)

	backend := uploads.NewMemoryBackend("https://cdn.example")
	up := uploads.New(backend, 3, nil).WithBackoff(time.Millisecond)
	svc := New(linkingStore{Store: store, requestID: req.ID, donationID: other.ID}, up, nil)

	in := baseInput()
	in.RequestID = req.ID
	_, err := svc.Create(ctx, "donor", in, []uploads.File{{Name: "front.png", Reader: bytes.NewReader(pngData)}})
	if !svcerrors.Is(err, svcerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if backend.Len() != 0 {
		t.Fatalf("uploaded images should be removed, found %d", backend.Len())
	}
	mine, _ := store.ListDonations(ctx, storage.DonationFilter{DonatedBy: "donor"})
	if len(mine) != 0 {
		t.Fatalf("donation should not be stored: %+v", mine)
	}
	ms, _ := store.ListMatches(ctx, storage.MatchFilter{RequestID: req.ID})
	if len(ms) != 0 {
		t.Fatalf("no match should be stored: %+v", ms)
	}
}
