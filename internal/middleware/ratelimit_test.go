package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	log, hook := test.NewNullLogger()
	rl := NewRateLimiter(1, 2, log)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/addons/health", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Data["client"] != "10.0.0.1" {
		t.Fatalf("expected rate limit warning for client, got %+v", hook.LastEntry())
	}

	req := httptest.NewRequest(http.MethodPost, "/addons/health", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("other clients have their own bucket, got %d", resp.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0, nil)
	for i := 0; i < 100; i++ {
		if !rl.Allow("client") {
			t.Fatalf("request %d rejected with limiting disabled", i)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(5, 5, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(DefaultIdleTTL + time.Second)
	rl.Allow("fresh")

	if removed := rl.Cleanup(); removed != 1 {
		t.Fatalf("expected 1 idle limiter removed, got %d", removed)
	}
	if rl.Len() != 1 {
		t.Fatalf("expected 1 tracked client, got %d", rl.Len())
	}
}
