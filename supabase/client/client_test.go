package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	c, err := New(Config{URL: server.URL + "/", APIKey: "service-key"})
	require.NoError(t, err)
	return c
}

func TestNewRequiresURLAndKey(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://x"})
	assert.Error(t, err)
}

func TestQueryBuilder_ExecuteEncodesFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/donations", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "eq.available", q.Get("status"))
		assert.Equal(t, "is.null", q.Get("request_id"))
		assert.Equal(t, "neq.user-1", q.Get("donated_by"))
		assert.Equal(t, "timestamp.desc", q.Get("order"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":"d1"}]`))
	})

	resp, err := c.From("donations").
		Select("*").
		Eq("status", "available").
		Is("request_id", "null").
		Neq("donated_by", "user-1").
		Order("timestamp", false).
		Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, resp.Error())

	var rows []map[string]string
	require.NoError(t, resp.JSON(&rows))
	assert.Equal(t, "d1", rows[0]["id"])
}

func TestQueryBuilder_InQuotesValues(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `in.("a","b")`, r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.From("requests").In("id", []string{"a", "b"}).Execute(context.Background())
	require.NoError(t, err)
}

func TestQueryBuilder_OrGroupsFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "(donation_id.is.null,donation_id.eq.d1)", r.URL.Query().Get("or"))
		assert.Equal(t, "eq.open", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.From("requests").
		Eq("status", "open").
		Or("donation_id.is.null", "donation_id.eq.d1").
		ExecuteUpdate(context.Background(), map[string]string{"donation_id": "d1"})
	require.NoError(t, err)
}

func TestQueryBuilder_SingleAndCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		w.Header().Set("Content-Range", "0-0/17")
		_, _ = w.Write([]byte(`{"id":"r1"}`))
	})

	resp, err := c.From("requests").Eq("id", "r1").Single().Count("exact").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 17, resp.Total())
}

func TestQueryBuilder_ConditionalUpdate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.pending", r.URL.Query().Get("status"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"status":"accepted"}`, string(body))
		_, _ = w.Write([]byte(`[]`))
	})

	resp, err := c.From("donation_requests").
		Eq("id", "m1").
		Eq("status", "pending").
		ExecuteUpdate(context.Background(), map[string]string{"status": "accepted"})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(resp.Body))
}

func TestResponseError_ParsesShapes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantCode string
		notFound bool
	}{
		{"postgrest", 406, `{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`, "JSON object requested, multiple (or no) rows returned", "PGRST116", true},
		{"gotrue", 400, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`, "Invalid login credentials", "", false},
		{"gotrue v2", 422, `{"code":422,"error_code":"weak_password","msg":"Password should be at least 6 characters"}`, "Password should be at least 6 characters", "422", false},
		{"storage", 404, `{"statusCode":"404","error":"not_found","message":"Object not found"}`, "Object not found", "404", true},
		{"not json", 502, `<html>bad gateway</html>`, "Bad Gateway", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Response{StatusCode: tt.status, Body: []byte(tt.body)}).Error()
			se, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantMsg, se.Message)
			assert.Equal(t, tt.wantCode, se.Code)
			assert.Equal(t, tt.notFound, IsNotFound(err))
		})
	}
}

func TestAuth_SignInAndRefresh(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Query().Get("grant_type") {
		case "password":
			assert.Equal(t, "a@b.c", body["email"])
		case "refresh_token":
			assert.Equal(t, "rt-1", body["refresh_token"])
		default:
			t.Errorf("unexpected grant %q", r.URL.Query().Get("grant_type"))
		}
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt-2","expires_in":3600,"user":{"id":"u1","email":"a@b.c"}}`))
	})

	resp, err := c.Auth().SignIn(context.Background(), "a@b.c", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.User.ID)

	resp, err = c.Auth().Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "rt-2", resp.RefreshToken)
}

func TestAuth_SignUpUnconfirmedReturnsUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"u9","email":"new@b.c","role":"authenticated"}`))
	})

	resp, err := c.Auth().SignUp(context.Background(), "new@b.c", "secret1")
	require.NoError(t, err)
	require.NotNil(t, resp.User)
	assert.Equal(t, "u9", resp.User.ID)
	assert.Empty(t, resp.AccessToken)
}

func TestAuth_UserScopedCallsUseCallerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		switch r.URL.Path {
		case "/auth/v1/user":
			_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.c"}`))
		case "/auth/v1/logout":
			w.WriteHeader(http.StatusNoContent)
		}
	})

	user, err := c.Auth().UpdatePassword(context.Background(), "user-token", "newpass")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	require.NoError(t, c.Auth().SignOut(context.Background(), "user-token"))
}

func TestAuth_RecoverAndAuthorizeURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/recover", r.URL.Path)
		assert.Equal(t, "https://app.example/reset-password", r.URL.Query().Get("redirect_to"))
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Auth().ResetPasswordForEmail(context.Background(), "a@b.c", "https://app.example/reset-password"))

	u := c.Auth().AuthorizeURL("google", "https://app.example")
	assert.Contains(t, u, "/auth/v1/authorize?")
	assert.Contains(t, u, "provider=google")
	assert.Contains(t, u, "redirect_to=https%3A%2F%2Fapp.example")
}

func TestStorage_UploadHeadersAndPublicURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/sample/u1/donations/shirt%20front.png", r.URL.EscapedPath())
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		assert.Equal(t, "max-age=3600", r.Header.Get("Cache-Control"))
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		_, _ = w.Write([]byte(`{"Key":"sample/u1/donations/shirt front.png"}`))
	})

	bucket := c.Storage().From("sample")
	err := bucket.Upload(context.Background(), "u1/donations/shirt front.png", []byte("png"), UploadOptions{
		ContentType:  "image/png",
		CacheControl: "3600",
		Upsert:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, c.BaseURL()+"/storage/v1/object/public/sample/u1/donations/shirt%20front.png",
		bucket.GetPublicURL("u1/donations/shirt front.png"))
}

func TestFunctions_Invoke(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/v1/send-email", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "admin@example.com", body["to"])
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.Functions().Invoke(context.Background(), "send-email", map[string]string{"to": "admin@example.com"}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
}
