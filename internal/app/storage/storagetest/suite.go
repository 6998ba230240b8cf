// Package storagetest holds behaviour checks shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/storage"
)

// Run exercises store with fresh user IDs, so it may share a database with
// other rows.
func Run(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()
	donor := uuid.NewString()
	requester := uuid.NewString()
	other := uuid.NewString()

	d, err := store.CreateDonation(ctx, donation.Donation{
		DonatedBy:     donor,
		FullName:      "Donor",
		Condition:     "Good",
		Categories:    []string{"men"},
		ClothingTypes: []string{"shirts"},
	}, nil)
	if err != nil {
		t.Fatalf("create donation: %v", err)
	}
	if d.ID == "" || d.Status != donation.StatusAvailable {
		t.Fatalf("unexpected donation: %+v", d)
	}

	claim := &match.Match{DonorID: donor, RequesterID: requester, DonationID: d.ID, InitiatedBy: match.InitiatedByRequester}
	r, err := store.CreateRequest(ctx, request.Request{
		RequestedBy:   requester,
		FullName:      "Requester",
		Age:           30,
		Gender:        "female",
		Phone:         "1",
		Address:       "a",
		Categories:    []string{"men"},
		ClothingTypes: []string{"shirts"},
		DonationID:    d.ID,
	}, claim)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if claim.ID == "" || claim.RequestID != r.ID || claim.Status != match.StatusPending {
		t.Fatalf("link not filled: %+v", claim)
	}

	rival := &match.Match{DonorID: donor, RequesterID: other, DonationID: d.ID, InitiatedBy: match.InitiatedByRequester}
	if _, err := store.CreateRequest(ctx, request.Request{
		RequestedBy: other, FullName: "Other", Age: 40, Gender: "male", Phone: "2", Address: "b",
		Categories: []string{"men"}, ClothingTypes: []string{"pants"}, DonationID: d.ID,
	}, rival); err != nil {
		t.Fatalf("create rival request: %v", err)
	}

	got, err := store.ListMatches(ctx, storage.MatchFilter{DonationID: d.ID, Status: match.StatusPending})
	if err != nil || len(got) != 2 {
		t.Fatalf("list pending matches: %v %d", err, len(got))
	}

	listed, err := store.ListDonations(ctx, storage.DonationFilter{ListedOnly: true, ExcludeDonor: requester})
	if err != nil {
		t.Fatalf("list donations: %v", err)
	}
	if !containsDonation(listed, d.ID) {
		t.Fatalf("expected donation %s to be listed", d.ID)
	}
	own, err := store.ListDonations(ctx, storage.DonationFilter{ListedOnly: true, ExcludeDonor: donor})
	if err != nil {
		t.Fatalf("list donations: %v", err)
	}
	if containsDonation(own, d.ID) {
		t.Fatalf("donor's own donation must be excluded")
	}

	accept := storage.Transition{
		Matches:   []storage.MatchChange{{ID: claim.ID, From: match.StatusPending, To: match.StatusAccepted}},
		Donations: []storage.DonationChange{{ID: d.ID, From: donation.StatusAvailable, To: donation.StatusTaken, RequestedBy: requester, AcceptedRequestID: r.ID}},
		Requests:  []storage.RequestChange{{ID: r.ID, From: request.StatusOpen, To: request.StatusOpen, DonationID: d.ID}},
		Siblings:  &storage.DeclineSiblings{DonationID: d.ID, RequestID: r.ID, Keep: claim.ID},
	}
	res, err := store.ApplyTransition(ctx, accept)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(res.DeclinedMatchIDs) != 1 || res.DeclinedMatchIDs[0] != rival.ID {
		t.Fatalf("expected rival declined, got %v", res.DeclinedMatchIDs)
	}

	if _, err := store.ApplyTransition(ctx, accept); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second accept: expected conflict, got %v", err)
	}

	taken, err := store.GetDonation(ctx, d.ID)
	if err != nil {
		t.Fatalf("get donation: %v", err)
	}
	if taken.Status != donation.StatusTaken || taken.RequestedBy != requester || taken.AcceptedRequestID != r.ID {
		t.Fatalf("donation not updated: %+v", taken)
	}

	// A conflicting part leaves every other part untouched.
	mixed := storage.Transition{
		Requests:  []storage.RequestChange{{ID: r.ID, From: request.StatusOpen, To: request.StatusFulfilled, FulfilledBy: donor}},
		Donations: []storage.DonationChange{{ID: d.ID, From: donation.StatusAvailable, To: donation.StatusTaken}},
	}
	if _, err := store.ApplyTransition(ctx, mixed); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("mixed: expected conflict, got %v", err)
	}
	still, err := store.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if still.Status != request.StatusOpen {
		t.Fatalf("request must stay open after failed transition, got %s", still.Status)
	}

	if _, err := store.GetDonation(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	missing := storage.Transition{Matches: []storage.MatchChange{{ID: "00000000-0000-0000-0000-000000000000", From: match.StatusPending, To: match.StatusDeclined}}}
	if _, err := store.ApplyTransition(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	skip := storage.Transition{Donations: []storage.DonationChange{{ID: d.ID, From: donation.StatusTaken, To: donation.StatusAvailable}}}
	if _, err := store.ApplyTransition(ctx, skip); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Fatalf("taken->available: expected invalid transition, got %v", err)
	}
	if again, _ := store.GetDonation(ctx, d.ID); again.Status != donation.StatusTaken {
		t.Fatalf("illegal edge must not be written, got %s", again.Status)
	}

	unlisted(t, ctx, store, d.ID, r.ID)
	competingOffers(t, ctx, store)
}

// unlisted checks that a new match cannot point at a donation or a request
// that has left the board.
func unlisted(t *testing.T, ctx context.Context, store storage.Store, takenDonation, linkedRequest string) {
	t.Helper()
	late := uuid.NewString()

	claim := &match.Match{DonationID: takenDonation, RequesterID: late, InitiatedBy: match.InitiatedByRequester}
	_, err := store.CreateRequest(ctx, request.Request{
		RequestedBy: late, FullName: "Late", Age: 20, Gender: "male", Phone: "4", Address: "d",
		Categories: []string{"men"}, ClothingTypes: []string{"shirts"}, DonationID: takenDonation,
	}, claim)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("request for a taken donation: expected conflict, got %v", err)
	}
	if kept, _ := store.ListRequests(ctx, storage.RequestFilter{RequestedBy: late}); len(kept) != 0 {
		t.Fatalf("rejected request must not be stored, found %d", len(kept))
	}

	offer := &match.Match{RequestID: linkedRequest, DonorID: late, InitiatedBy: match.InitiatedByDonor}
	_, err = store.CreateDonation(ctx, donation.Donation{
		DonatedBy: late, FullName: "Late", Condition: "Good",
		Categories: []string{"men"}, ClothingTypes: []string{"shirts"}, RequestID: linkedRequest,
	}, offer)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("offer for a linked request: expected conflict, got %v", err)
	}
	if kept, _ := store.ListDonations(ctx, storage.DonationFilter{DonatedBy: late}); len(kept) != 0 {
		t.Fatalf("rejected donation must not be stored, found %d", len(kept))
	}
}

// competingOffers checks that a request takes at most one donation when
// several donors offer against it.
func competingOffers(t *testing.T, ctx context.Context, store storage.Store) {
	t.Helper()
	requester := uuid.NewString()
	r, err := store.CreateRequest(ctx, request.Request{
		RequestedBy: requester, FullName: "Needs", Age: 9, Gender: "other", Phone: "3", Address: "c",
		Categories: []string{"kids"}, ClothingTypes: []string{"jackets"},
	}, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	var (
		offers    []match.Match
		donations []donation.Donation
	)
	for i := 0; i < 2; i++ {
		donor := uuid.NewString()
		link := &match.Match{RequestID: r.ID, RequesterID: requester, DonorID: donor, InitiatedBy: match.InitiatedByDonor}
		d, err := store.CreateDonation(ctx, donation.Donation{
			DonatedBy: donor, FullName: "Offer", Condition: "Good",
			Categories: []string{"kids"}, ClothingTypes: []string{"jackets"}, RequestID: r.ID,
		}, link)
		if err != nil {
			t.Fatalf("create offer %d: %v", i, err)
		}
		offers = append(offers, *link)
		donations = append(donations, d)
	}

	accept := func(i int) storage.Transition {
		return storage.Transition{
			Matches:   []storage.MatchChange{{ID: offers[i].ID, From: match.StatusPending, To: match.StatusAccepted}},
			Donations: []storage.DonationChange{{ID: donations[i].ID, From: donation.StatusAvailable, To: donation.StatusTaken, RequestedBy: requester, AcceptedRequestID: r.ID}},
			Requests:  []storage.RequestChange{{ID: r.ID, From: request.StatusOpen, To: request.StatusOpen, DonationID: donations[i].ID}},
			Siblings:  &storage.DeclineSiblings{DonationID: donations[i].ID, RequestID: r.ID, Keep: offers[i].ID},
		}
	}

	res, err := store.ApplyTransition(ctx, accept(0))
	if err != nil {
		t.Fatalf("accept first offer: %v", err)
	}
	if len(res.DeclinedMatchIDs) != 1 || res.DeclinedMatchIDs[0] != offers[1].ID {
		t.Fatalf("expected the second offer declined, got %v", res.DeclinedMatchIDs)
	}
	if _, err := store.ApplyTransition(ctx, accept(1)); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("accept second offer: expected conflict, got %v", err)
	}

	relink := storage.Transition{
		Requests: []storage.RequestChange{{ID: r.ID, From: request.StatusOpen, To: request.StatusOpen, DonationID: donations[1].ID}},
	}
	if _, err := store.ApplyTransition(ctx, relink); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("relink to another donation: expected conflict, got %v", err)
	}

	got, err := store.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.DonationID != donations[0].ID {
		t.Fatalf("request must stay linked to the first donation, got %q", got.DonationID)
	}
	second, err := store.GetDonation(ctx, donations[1].ID)
	if err != nil {
		t.Fatalf("get donation: %v", err)
	}
	if second.Status != donation.StatusAvailable {
		t.Fatalf("second donation must not be taken, got %s", second.Status)
	}
}

func containsDonation(list []donation.Donation, id string) bool {
	for _, d := range list {
		if d.ID == id {
			return true
		}
	}
	return false
}
