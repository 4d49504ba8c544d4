package xposts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLatestSearchWindow(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var queries []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "key" {
			t.Errorf("X-API-Key = %q", got)
		}
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("query"))
		mu.Unlock()
		w.Write([]byte(`{"tweets":[]}`))
	}))
	t.Cleanup(srv.Close)

	a := New(Config{BaseURL: srv.URL, APIKey: "key"})
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	now := base
	a.now = func() time.Time { return now }

	if item, err := a.Latest(context.Background(), "SomeUser"); err != nil || item != nil {
		t.Fatalf("Latest = %v, %v", item, err)
	}

	mu.Lock()
	q := queries[0]
	mu.Unlock()
	if !strings.HasPrefix(q, "from:someuser ") {
		t.Fatalf("query = %q, want lowercase from: prefix", q)
	}
	// First poll looks back the default hour.
	if !strings.Contains(q, "since:2026-08-29_11:00:00_UTC") {
		t.Fatalf("query = %q, want one-hour lookback", q)
	}
	if !strings.Contains(q, "until:2026-08-29_12:00:00_UTC") {
		t.Fatalf("query = %q, want until now", q)
	}
	if !strings.Contains(q, "include:nativeretweets") {
		t.Fatalf("query = %q, want retweets included", q)
	}

	// Next poll resumes from the last successful fetch.
	now = base.Add(10 * time.Minute)
	if _, err := a.Latest(context.Background(), "SomeUser"); err != nil {
		t.Fatalf("Latest: %v", err)
	}
	mu.Lock()
	q = queries[1]
	mu.Unlock()
	if !strings.Contains(q, "since:2026-08-29_12:00:00_UTC") {
		t.Fatalf("query = %q, want window resumed from previous until", q)
	}
}

func TestLatestWindowNotAdvancedOnFailure(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var fail bool
	var queries []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("query"))
		shouldFail := fail
		mu.Unlock()
		if shouldFail {
			http.Error(w, "upstream sad", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"tweets":[]}`))
	}))
	t.Cleanup(srv.Close)

	a := New(Config{BaseURL: srv.URL, APIKey: "key"})
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	now := base
	a.now = func() time.Time { return now }

	if _, err := a.Latest(context.Background(), "someuser"); err != nil {
		t.Fatalf("Latest: %v", err)
	}

	mu.Lock()
	fail = true
	mu.Unlock()
	now = base.Add(10 * time.Minute)
	if _, err := a.Latest(context.Background(), "someuser"); err == nil {
		t.Fatal("expected error from failing upstream")
	}

	// The failed window must be re-covered by the next attempt.
	mu.Lock()
	fail = false
	mu.Unlock()
	now = base.Add(20 * time.Minute)
	if _, err := a.Latest(context.Background(), "someuser"); err != nil {
		t.Fatalf("Latest: %v", err)
	}
	mu.Lock()
	last := queries[len(queries)-1]
	mu.Unlock()
	if !strings.Contains(last, "since:2026-08-29_12:00:00_UTC") {
		t.Fatalf("query = %q, want since unchanged after failure", last)
	}
}

func TestLatestReturnsNewestPost(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"tweets":[
			{"id":"200","text":"newest","author":{"userName":"someuser","name":"Some User"}},
			{"id":"100","text":"older","author":{"userName":"someuser"}}
		]}`))
	}))
	t.Cleanup(srv.Close)

	a := New(Config{BaseURL: srv.URL, APIKey: "key"})
	item, err := a.Latest(context.Background(), "someuser")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if item == nil || item.ID != "200" {
		t.Fatalf("item = %+v, want id 200", item)
	}
	if item.Text != "newest" || item.Author != "Some User" {
		t.Fatalf("item = %+v", item)
	}
}
