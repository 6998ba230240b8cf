package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clothbridge/clothbridge/internal/logging"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(1, 2, logging.New("test", "error", "json"))
	handler := rl.Handler(okHandler())

	call := func(remote, user string) int {
		req := httptest.NewRequest(http.MethodGet, "/listings/donations", nil)
		req.RemoteAddr = remote
		if user != "" {
			req = req.WithContext(logging.WithUserID(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := call("10.0.0.1:1234", ""); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := call("10.0.0.1:9999", ""); code != http.StatusTooManyRequests {
		t.Fatalf("burst exhausted for ip, got %d", code)
	}
	if code := call("10.0.0.2:1234", ""); code != http.StatusOK {
		t.Fatalf("other ip should pass, got %d", code)
	}
	if code := call("10.0.0.1:1234", "u-1"); code != http.StatusOK {
		t.Fatalf("signed-in user has own bucket, got %d", code)
	}
}

func TestRateLimiterPrune(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10, 10, logging.New("test", "error", "json"))
	rl.now = func() time.Time { return now }

	rl.allow("old")
	now = now.Add(20 * time.Minute)
	rl.allow("fresh")

	if n := rl.Prune(10 * time.Minute); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if rl.Len() != 1 {
		t.Fatalf("expected 1 key left, got %d", rl.Len())
	}
}
