package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowEnforcesWindow(t *testing.T) {
	l := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d denied inside the window", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("request allowed past the window limit")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("unrelated IP shares a bucket")
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	l := New(1, 10*time.Millisecond)

	if !l.Allow("10.0.0.1") {
		t.Fatal("first request denied")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("second request allowed inside the window")
	}
	time.Sleep(20 * time.Millisecond)
	if !l.Allow("10.0.0.1") {
		t.Error("request denied after the window elapsed")
	}
}

func TestMiddlewareRejectsWithTooManyRequests(t *testing.T) {
	l := New(1, time.Minute)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", nil)
	req.RemoteAddr = "10.0.0.9:51234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
}
