package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const remoteCatalog = `{
  "version": "2025.2",
  "lastUpdated": "2025-02-01",
  "cards": [
    {"id": "test", "cardType": "Test Card", "issuer": "Test Bank", "network": "Visa", "variant": "Basic",
     "category": "Other", "annualFee": 0,
     "credits": [{"id": "c1", "name": "Coffee", "amount": 5, "currency": "USD", "category": "Dining", "frequency": "Monthly"}]}
  ]
}`

func TestFetch_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/cards.json" {
			t.Fatalf("path = %s, want /cards.json", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(remoteCatalog))
	}))
	defer ts.Close()

	client := NewClient(ts.URL + "/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	db, retry, err := client.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if retry != 0 {
		t.Fatalf("retryAfter = %v, want 0", retry)
	}
	if db.Version != "2025.2" || len(db.Cards) != 1 {
		t.Fatalf("unexpected catalog: %+v", db)
	}
}

func TestFetch_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	db, retry, err := client.Fetch(context.Background())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if db != nil {
		t.Fatalf("expected nil catalog for 429, got %+v", db)
	}
	if retry < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", retry)
	}
}

func TestFetch_InvalidBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cards": []}`))
	}))
	defer ts.Close()

	_, _, err := NewClient(ts.URL).Fetch(context.Background())
	if !errors.Is(err, ErrInvalidCatalog) {
		t.Fatalf("err = %v, want ErrInvalidCatalog", err)
	}
}

func TestFetch_NotConfigured(t *testing.T) {
	var client *Client
	if _, _, err := client.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestRefresh_RetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(remoteCatalog))
	}))
	defer ts.Close()

	c := newTestCatalog(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Refresh(ctx, NewClient(ts.URL)); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
	if got := c.Info().Version; got != "2025.2" {
		t.Fatalf("version = %q, want 2025.2", got)
	}
}

func TestRefresh_KeepsCatalogOnFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newTestCatalog(t)
	before := c.Info()

	if err := c.Refresh(context.Background(), NewClient(ts.URL)); err == nil {
		t.Fatal("expected refresh error")
	}
	if c.Info() != before {
		t.Fatalf("catalog changed after failed refresh: %+v", c.Info())
	}
}
