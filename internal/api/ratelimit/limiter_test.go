package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestLimiter_AllowsBurstThenRejects(t *testing.T) {
	l := NewLimiter(1, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow("10.0.0.1"); !ok {
			t.Fatalf("request %d rejected within burst", i+1)
		}
	}

	ok, wait := l.Allow("10.0.0.1")
	if ok {
		t.Fatal("request beyond burst allowed")
	}
	if wait <= 0 || wait > time.Second {
		t.Errorf("wait = %v, want (0, 1s]", wait)
	}

	// other clients have their own bucket
	if ok, _ := l.Allow("10.0.0.2"); !ok {
		t.Error("second client rejected")
	}

	now = now.Add(time.Second)
	if ok, _ := l.Allow("10.0.0.1"); !ok {
		t.Error("request rejected after refill")
	}
}

func TestLimiter_RejectedRequestDoesNotConsumeToken(t *testing.T) {
	l := NewLimiter(1, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("ip")
	for i := 0; i < 5; i++ {
		l.Allow("ip")
	}

	now = now.Add(time.Second)
	if ok, _ := l.Allow("ip"); !ok {
		t.Error("rejected requests should not delay refill")
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	l := NewLimiter(1, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(idleTTL + time.Minute)
	l.Allow("fresh")

	l.Cleanup()

	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestLimiter_Defaults(t *testing.T) {
	l := NewLimiter(0, 0)
	if l.burst != DefaultBurst {
		t.Errorf("burst = %d, want %d", l.burst, DefaultBurst)
	}
}

func TestLimiter_Middleware(t *testing.T) {
	l := NewLimiter(0.01, 1)
	e := echo.New()
	e.POST("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, l.Middleware())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "198.51.100.7:5555"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusNoContent {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	l.StopCleanup()
	l.StopCleanup()
}
