package matching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/realtime"
	"github.com/clothbridge/clothbridge/internal/app/storage/memory"
	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
)

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Publish(_ context.Context, e realtime.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	store    *memory.Store
	svc      *Service
	events   *recorder
	donation donation.Donation
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	events := &recorder{}
	d, err := store.CreateDonation(context.Background(), donation.Donation{
		DonatedBy: "donor", FullName: "Dana", Condition: "Good",
		Categories: []string{"men"}, ClothingTypes: []string{"shirts"},
	}, nil)
	if err != nil {
		t.Fatalf("create donation: %v", err)
	}
	return fixture{store: store, svc: New(store, nil).WithPublisher(events), events: events, donation: d}
}

func (f fixture) claim(t *testing.T, requester string) (request.Request, match.Match) {
	t.Helper()
	link := &match.Match{DonationID: f.donation.ID, RequesterID: requester, DonorID: "donor", InitiatedBy: match.InitiatedByRequester}
	r, err := f.store.CreateRequest(context.Background(), request.Request{
		RequestedBy: requester, FullName: requester, DonationID: f.donation.ID,
		Categories: []string{"men"}, ClothingTypes: []string{"shirts"},
	}, link)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r, *link
}

func TestAcceptTakesDonationAndDeclinesRivals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, winner := f.claim(t, "alice")
	_, rival := f.claim(t, "bob")

	accepted, err := f.svc.Accept(ctx, "donor", winner.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != match.StatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}

	d, _ := f.store.GetDonation(ctx, f.donation.ID)
	if d.Status != donation.StatusTaken || d.RequestedBy != "alice" || d.AcceptedRequestID != req.ID {
		t.Fatalf("donation not taken by alice: %+v", d)
	}
	r, _ := f.store.GetRequest(ctx, req.ID)
	if r.Status != request.StatusOpen || r.DonationID != f.donation.ID {
		t.Fatalf("request not linked: %+v", r)
	}
	lost, _ := f.store.GetMatch(ctx, rival.ID)
	if lost.Status != match.StatusDeclined {
		t.Fatalf("rival should be declined, got %s", lost.Status)
	}

	got := f.events.types()
	if len(got) != 2 || got[0] != realtime.EventMatchAccepted || got[1] != realtime.EventMatchDeclined {
		t.Fatalf("unexpected events %v", got)
	}

	if _, err := f.svc.Accept(ctx, "donor", rival.ID); !svcerrors.Is(err, svcerrors.CodeConflict) {
		t.Fatalf("expected conflict on declined rival, got %v", err)
	}
}

func TestOnlyDeciderMayDecide(t *testing.T) {
	f := newFixture(t)
	_, m := f.claim(t, "alice")

	if _, err := f.svc.Accept(context.Background(), "alice", m.ID); !svcerrors.Is(err, svcerrors.CodeForbidden) {
		t.Fatalf("requester must not accept own claim, got %v", err)
	}
	if _, err := f.svc.Decline(context.Background(), "mallory", m.ID); !svcerrors.Is(err, svcerrors.CodeForbidden) {
		t.Fatalf("stranger must not decline, got %v", err)
	}
	if _, err := f.svc.Accept(context.Background(), "", m.ID); !svcerrors.Is(err, svcerrors.CodeUnauthorized) {
		t.Fatalf("anonymous must not accept, got %v", err)
	}
	if _, err := f.svc.Accept(context.Background(), "donor", "missing"); !svcerrors.Is(err, svcerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDonorOfferIsDecidedByRequester(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	r, err := store.CreateRequest(ctx, request.Request{RequestedBy: "alice", FullName: "Alice"}, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	link := &match.Match{RequestID: r.ID, RequesterID: "alice", DonorID: "donor", InitiatedBy: match.InitiatedByDonor}
	d, err := store.CreateDonation(ctx, donation.Donation{DonatedBy: "donor", FullName: "Dana", RequestID: r.ID}, link)
	if err != nil {
		t.Fatalf("create donation: %v", err)
	}

	if _, err := svc.Accept(ctx, "donor", link.ID); !svcerrors.Is(err, svcerrors.CodeForbidden) {
		t.Fatalf("donor must not accept own offer, got %v", err)
	}
	if _, err := svc.Accept(ctx, "alice", link.ID); err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	got, _ := store.GetDonation(ctx, d.ID)
	if got.Status != donation.StatusTaken || got.RequestedBy != "alice" {
		t.Fatalf("offer not taken: %+v", got)
	}
}

func TestCompetingOffersOnOneRequest(t *testing.T) {
	store := memory.New()
	events := &recorder{}
	svc := New(store, nil).WithPublisher(events)
	ctx := context.Background()

	r, err := store.CreateRequest(ctx, request.Request{RequestedBy: "alice", FullName: "Alice"}, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	var offers [2]match.Match
	var donations [2]donation.Donation
	for i, donor := range []string{"dana", "dev"} {
		link := &match.Match{RequestID: r.ID, RequesterID: "alice", DonorID: donor, InitiatedBy: match.InitiatedByDonor}
		d, err := store.CreateDonation(ctx, donation.Donation{DonatedBy: donor, FullName: donor, RequestID: r.ID}, link)
		if err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
		offers[i], donations[i] = *link, d
	}

	if _, err := svc.Accept(ctx, "alice", offers[0].ID); err != nil {
		t.Fatalf("accept first offer: %v", err)
	}
	if _, err := svc.Accept(ctx, "alice", offers[1].ID); !svcerrors.Is(err, svcerrors.CodeConflict) {
		t.Fatalf("second offer must conflict, got %v", err)
	}

	lost, _ := store.GetMatch(ctx, offers[1].ID)
	if lost.Status != match.StatusDeclined {
		t.Fatalf("second offer should be declined, got %s", lost.Status)
	}
	spare, _ := store.GetDonation(ctx, donations[1].ID)
	if spare.Status != donation.StatusAvailable || spare.RequestedBy != "" {
		t.Fatalf("second donation must stay available: %+v", spare)
	}
	got, _ := store.GetRequest(ctx, r.ID)
	if got.DonationID != donations[0].ID {
		t.Fatalf("request linked to %q, want %q", got.DonationID, donations[0].ID)
	}

	types := events.types()
	if len(types) != 2 || types[0] != realtime.EventMatchAccepted || types[1] != realtime.EventMatchDeclined {
		t.Fatalf("unexpected events %v", types)
	}

	if _, err := svc.Fulfill(ctx, "alice", donations[0].ID); err != nil {
		t.Fatalf("fulfil: %v", err)
	}
	if _, err := svc.Fulfill(ctx, "dev", donations[1].ID); !svcerrors.Is(err, svcerrors.CodeConflict) {
		t.Fatalf("untaken donation cannot be fulfilled, got %v", err)
	}
}

func TestDeclineTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	_, m := f.claim(t, "alice")

	if _, err := f.svc.Decline(context.Background(), "donor", m.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := f.svc.Decline(context.Background(), "donor", m.ID); !svcerrors.Is(err, svcerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	d, _ := f.store.GetDonation(context.Background(), f.donation.ID)
	if d.Status != donation.StatusAvailable {
		t.Fatalf("decline must not touch the donation, got %s", d.Status)
	}
}

func TestFulfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, m := f.claim(t, "alice")

	if _, err := f.svc.Fulfill(ctx, "donor", f.donation.ID); !svcerrors.Is(err, svcerrors.CodeConflict) {
		t.Fatalf("available donation cannot be fulfilled, got %v", err)
	}
	if _, err := f.svc.Accept(ctx, "donor", m.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Fulfill(ctx, "mallory", f.donation.ID); !svcerrors.Is(err, svcerrors.CodeForbidden) {
		t.Fatalf("stranger cannot fulfil, got %v", err)
	}

	d, err := f.svc.Fulfill(ctx, "alice", f.donation.ID)
	if err != nil {
		t.Fatalf("fulfil: %v", err)
	}
	if d.Status != donation.StatusFulfilled {
		t.Fatalf("expected fulfilled, got %s", d.Status)
	}
	r, _ := f.store.GetRequest(ctx, req.ID)
	if r.Status != request.StatusFulfilled || r.FulfilledBy != "donor" {
		t.Fatalf("request not fulfilled: %+v", r)
	}
	if _, err := f.svc.Fulfill(ctx, "donor", f.donation.ID); !svcerrors.Is(err, svcerrors.CodeConflict) {
		t.Fatalf("second fulfil should conflict, got %v", err)
	}
}

func TestExpirePending(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	store := memory.New().WithClock(func() time.Time { return clock })
	events := &recorder{}
	svc := New(store, nil).WithPublisher(events)
	ctx := context.Background()

	d, _ := store.CreateDonation(ctx, donation.Donation{DonatedBy: "donor", FullName: "Dana"}, nil)
	old := &match.Match{DonationID: d.ID, RequesterID: "alice", DonorID: "donor", InitiatedBy: match.InitiatedByRequester}
	if _, err := store.CreateRequest(ctx, request.Request{RequestedBy: "alice", FullName: "A", DonationID: d.ID}, old); err != nil {
		t.Fatalf("create: %v", err)
	}
	clock = base.Add(47 * time.Hour)
	fresh := &match.Match{DonationID: d.ID, RequesterID: "bob", DonorID: "donor", InitiatedBy: match.InitiatedByRequester}
	if _, err := store.CreateRequest(ctx, request.Request{RequestedBy: "bob", FullName: "B", DonationID: d.ID}, fresh); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := svc.ExpirePending(ctx, 24*time.Hour, base.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	if m, _ := store.GetMatch(ctx, old.ID); m.Status != match.StatusDeclined {
		t.Fatalf("old match should be declined, got %s", m.Status)
	}
	if m, _ := store.GetMatch(ctx, fresh.ID); m.Status != match.StatusPending {
		t.Fatalf("fresh match should stay pending, got %s", m.Status)
	}
	if got := events.types(); len(got) != 1 || got[0] != realtime.EventMatchExpired {
		t.Fatalf("unexpected events %v", got)
	}

	if n, _ := svc.ExpirePending(ctx, 0, base.Add(1000*time.Hour)); n != 0 {
		t.Fatalf("zero ttl must not expire anything")
	}
}
