package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/storage"
	"github.com/clothbridge/clothbridge/internal/app/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, New())
}

func TestListDonationsNewestFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store := New().WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})
	ctx := context.Background()

	first, _ := store.CreateDonation(ctx, donation.Donation{DonatedBy: "a", FullName: "first"}, nil)
	second, _ := store.CreateDonation(ctx, donation.Donation{DonatedBy: "a", FullName: "second"}, nil)

	list, err := store.ListDonations(ctx, storage.DonationFilter{DonatedBy: "a"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("unexpected order: %+v", list)
	}

	limited, _ := store.ListDonations(ctx, storage.DonationFilter{DonatedBy: "a", Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("limit not applied")
	}
}

func TestListMatchesCreatedBefore(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	store := New().WithClock(func() time.Time { return now })
	ctx := context.Background()

	r, err := store.CreateRequest(ctx, request.Request{RequestedBy: "r", FullName: "R"}, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	link := &match.Match{RequestID: r.ID, DonorID: "d", RequesterID: "r", InitiatedBy: match.InitiatedByDonor}
	if _, err := store.CreateDonation(ctx, donation.Donation{DonatedBy: "d", RequestID: r.ID}, link); err != nil {
		t.Fatalf("create: %v", err)
	}

	old, _ := store.ListMatches(ctx, storage.MatchFilter{Status: match.StatusPending, CreatedBefore: base.Add(time.Hour)})
	if len(old) != 1 {
		t.Fatalf("expected 1 stale match, got %d", len(old))
	}
	none, _ := store.ListMatches(ctx, storage.MatchFilter{CreatedBefore: base})
	if len(none) != 0 {
		t.Fatalf("expected none, got %d", len(none))
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	d, _ := store.CreateDonation(ctx, donation.Donation{DonatedBy: "a", Images: []string{"x"}}, nil)
	d.Images[0] = "mutated"

	again, _ := store.GetDonation(ctx, d.ID)
	if again.Images[0] != "x" {
		t.Fatalf("store state leaked through returned slice")
	}
}

func TestCreateLinkToMissingRow(t *testing.T) {
	store := New()
	ctx := context.Background()

	link := &match.Match{RequestID: "missing", DonorID: "d", InitiatedBy: match.InitiatedByDonor}
	if _, err := store.CreateDonation(ctx, donation.Donation{DonatedBy: "d"}, link); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if list, _ := store.ListDonations(ctx, storage.DonationFilter{DonatedBy: "d"}); len(list) != 0 {
		t.Fatalf("donation must not be stored, found %d", len(list))
	}
}
