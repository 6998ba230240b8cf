package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clothbridge/clothbridge/internal/app/domain/donation"
	"github.com/clothbridge/clothbridge/internal/app/domain/match"
	"github.com/clothbridge/clothbridge/internal/app/domain/request"
	"github.com/clothbridge/clothbridge/internal/app/storage"
	"github.com/clothbridge/clothbridge/pkg/logger"
	"github.com/clothbridge/clothbridge/supabase/client"
)

const (
	donationID = "5a0d6a9e-1b4f-4a59-9c39-0b1f7a1e2c11"
	requestID  = "7f3c2b1a-9d8e-4c6b-a5f4-3e2d1c0b9a88"
	matchID    = "0c9b8a7f-6e5d-4c3b-8a19-f0e1d2c3b4a5"
)

type call struct {
	method string
	path   string
	query  string
	body   string
}

func newStore(t *testing.T, h func(w http.ResponseWriter, r *http.Request, body string)) (*Store, *[]call) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []call
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, r.URL.RawQuery, string(raw)})
		mu.Unlock()
		h(w, r, string(raw))
	}))
	t.Cleanup(srv.Close)

	c, err := client.New(client.Config{URL: srv.URL, APIKey: "service"})
	require.NoError(t, err)
	return New(c, logger.Discard()), &calls
}

func TestGetDonationNotFound(t *testing.T) {
	store, _ := newStore(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusNotAcceptable)
		_, _ = w.Write([]byte(`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`))
	})

	_, err := store.GetDonation(context.Background(), donationID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListDonationsListedOnly(t *testing.T) {
	store, _ := newStore(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		q := r.URL.Query()
		assert.Equal(t, "/rest/v1/donations", r.URL.Path)
		assert.Equal(t, "eq.available", q.Get("status"))
		assert.Equal(t, "is.null", q.Get("request_id"))
		assert.Equal(t, "neq.viewer", q.Get("donated_by"))
		assert.Equal(t, "timestamp.desc", q.Get("order"))
		_, _ = w.Write([]byte(`[{"id":"` + donationID + `","status":"available","request_id":null,"clothing_type":["shirts"],"timestamp":"2024-03-01T10:00:00+00:00"}]`))
	})

	list, err := store.ListDonations(context.Background(), storage.DonationFilter{ListedOnly: true, ExcludeDonor: "viewer"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, donation.StatusAvailable, list[0].Status)
	assert.Empty(t, list[0].RequestID)
	assert.Equal(t, []string{"shirts"}, list[0].ClothingTypes)
}

func TestCreateDonationOmitsEmptyLinks(t *testing.T) {
	store, calls := newStore(t, func(w http.ResponseWriter, r *http.Request, body string) {
		if r.Method == http.MethodGet {
			assert.Equal(t, "status,donation_id", r.URL.Query().Get("select"))
			_, _ = w.Write([]byte(`{"status":"open","donation_id":null}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[` + body + `]`))
	})

	link := &match.Match{RequestID: requestID, DonorID: "d", RequesterID: "r", InitiatedBy: match.InitiatedByDonor}
	d, err := store.CreateDonation(context.Background(), donation.Donation{DonatedBy: "d", FullName: "x", Condition: "Good", RequestID: requestID}, link)
	require.NoError(t, err)
	require.Len(t, *calls, 3)

	var inserted map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte((*calls)[0].body), &inserted))
	assert.NotContains(t, inserted, "requested_by")
	assert.Equal(t, requestID, inserted["request_id"])
	assert.Equal(t, "/rest/v1/donation_requests", (*calls)[1].path)
	assert.Equal(t, "/rest/v1/requests", (*calls)[2].path)
	assert.Equal(t, d.ID, link.DonationID)
}

func TestCreateDonationRemovesRowWhenLinkFails(t *testing.T) {
	store, calls := newStore(t, func(w http.ResponseWriter, r *http.Request, body string) {
		if r.URL.Path == "/rest/v1/donation_requests" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"bad"}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := store.CreateDonation(context.Background(), donation.Donation{DonatedBy: "d"}, &match.Match{})
	require.Error(t, err)
	require.Len(t, *calls, 3)
	assert.Equal(t, http.MethodDelete, (*calls)[2].method)
}

func TestCreateRequestUndoneWhenDonationTakenMeanwhile(t *testing.T) {
	store, calls := newStore(t, func(w http.ResponseWriter, r *http.Request, body string) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "/rest/v1/donations", r.URL.Path)
			assert.Equal(t, "status,request_id", r.URL.Query().Get("select"))
			_, _ = w.Write([]byte(`{"status":"taken","request_id":null}`))
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[` + body + `]`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	link := &match.Match{DonationID: donationID, DonorID: "d", RequesterID: "r", InitiatedBy: match.InitiatedByRequester}
	_, err := store.CreateRequest(context.Background(), request.Request{RequestedBy: "r", DonationID: donationID}, link)
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.Len(t, *calls, 5)
	assert.Equal(t, http.MethodDelete, (*calls)[3].method)
	assert.Equal(t, "/rest/v1/donation_requests", (*calls)[3].path)
	assert.Equal(t, http.MethodDelete, (*calls)[4].method)
	assert.Equal(t, "/rest/v1/requests", (*calls)[4].path)
}

func TestApplyTransitionConflictRevertsEarlierPatches(t *testing.T) {
	const before = "2024-03-01T10:00:00Z"
	store, calls := newStore(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		q := r.URL.Query()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/donation_requests":
			assert.Equal(t, "status,updated_at", q.Get("select"))
			_, _ = w.Write([]byte(`{"status":"pending","updated_at":"` + before + `"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/donations":
			assert.Equal(t, "accepted_request_id,requested_by,status,updated_at", q.Get("select"))
			_, _ = w.Write([]byte(`{"status":"available","requested_by":null,"accepted_request_id":null,"updated_at":"` + before + `"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/requests":
			_, _ = w.Write([]byte(`{"status":"open","donation_id":null,"updated_at":"` + before + `"}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/rest/v1/requests":
			assert.Equal(t, "(donation_id.is.null,donation_id.eq."+donationID+")", q.Get("or"))
			_, _ = w.Write([]byte(`[]`))
		case r.Method == http.MethodPatch:
			_, _ = w.Write([]byte(`[{"id":"x"}]`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	_, err := store.ApplyTransition(context.Background(), storage.Transition{
		Matches: []storage.MatchChange{{ID: matchID, From: match.StatusPending, To: match.StatusAccepted}},
		Donations: []storage.DonationChange{{
			ID: donationID, From: donation.StatusAvailable, To: donation.StatusTaken,
			RequestedBy: "r", AcceptedRequestID: requestID,
		}},
		Requests: []storage.RequestChange{{ID: requestID, From: request.StatusOpen, To: request.StatusOpen, DonationID: donationID}},
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	var undo []call
	for _, c := range *calls {
		if c.method == http.MethodPatch && !strings.Contains(c.query, "status=") {
			undo = append(undo, c)
		}
	}
	require.Len(t, undo, 2)
	assert.Equal(t, "/rest/v1/donations", undo[0].path)
	assert.JSONEq(t, `{"status":"available","requested_by":null,"accepted_request_id":null,"updated_at":"`+before+`"}`, undo[0].body)
	assert.Equal(t, "/rest/v1/donation_requests", undo[1].path)
	assert.JSONEq(t, `{"status":"pending","updated_at":"`+before+`"}`, undo[1].body)
}

func TestApplyTransitionRejectsIllegalEdge(t *testing.T) {
	store, calls := newStore(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
	})

	_, err := store.ApplyTransition(context.Background(), storage.Transition{
		Donations: []storage.DonationChange{{ID: donationID, From: donation.StatusTaken, To: donation.StatusAvailable}},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)
	assert.Empty(t, *calls)
}

func TestApplyTransitionReturnsDeclinedSiblings(t *testing.T) {
	store, _ := newStore(t, func(w http.ResponseWriter, r *http.Request, body string) {
		q := r.URL.Query()
		switch {
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"status":"pending","updated_at":null}`))
		case q.Get("donation_id") != "":
			assert.Equal(t, "neq."+matchID, q.Get("id"))
			assert.Equal(t, "eq.pending", q.Get("status"))
			_, _ = w.Write([]byte(`[{"id":"m3"},{"id":"m2"}]`))
		case q.Get("request_id") != "":
			assert.Equal(t, "eq."+requestID, q.Get("request_id"))
			assert.Equal(t, "neq."+matchID, q.Get("id"))
			_, _ = w.Write([]byte(`[{"id":"m2"},{"id":"m4"}]`))
		default:
			_, _ = w.Write([]byte(`[{"id":"` + matchID + `"}]`))
		}
	})

	res, err := store.ApplyTransition(context.Background(), storage.Transition{
		Matches:  []storage.MatchChange{{ID: matchID, From: match.StatusPending, To: match.StatusAccepted}},
		Siblings: &storage.DeclineSiblings{DonationID: donationID, RequestID: requestID, Keep: matchID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m4"}, res.DeclinedMatchIDs)
}
