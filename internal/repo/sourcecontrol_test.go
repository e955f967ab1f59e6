package repo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/deploywatch/deploywatch/internal/cache"
	"github.com/deploywatch/deploywatch/internal/models"
)

// memoryCache is a map-backed cache.Provider for tests. TTLs are ignored.
type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.items[key]; ok {
		return data, nil
	}
	return nil, cache.ErrCacheMiss
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), value...)
	return nil
}

func (m *memoryCache) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryCache) Close() error { return nil }

func newSCMClient(baseURL string, provider cache.Provider) *SourceControlClient {
	return NewSourceControlClient(baseURL, "/api/commits", "/api/diff", "/api/head", "token-1", 5*time.Second, provider, time.Minute)
}

func TestListCommits(t *testing.T) {
	var gotAuth, gotSince, gotUntil string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/commits" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotSince = r.URL.Query().Get("since")
		gotUntil = r.URL.Query().Get("until")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"commits":[
			{"hash":"aaa111","message":"Fix session refresh","author":"alice","timestamp":"2025-03-11T10:00:00Z"},
			{"hash":"bbb222","message":"Bump retry budget","author":"bob","timestamp":"2025-03-11T11:00:00Z"}
		]}`))
	}))
	defer server.Close()

	client := newSCMClient(server.URL, nil)
	start := time.Date(2025, time.March, 11, 9, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.March, 11, 12, 0, 0, 0, time.UTC)

	commits, err := client.ListCommits(context.Background(), start, end)
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}

	want := []models.Commit{
		{Hash: "aaa111", Message: "Fix session refresh", Author: "alice", Timestamp: time.Date(2025, time.March, 11, 10, 0, 0, 0, time.UTC)},
		{Hash: "bbb222", Message: "Bump retry budget", Author: "bob", Timestamp: time.Date(2025, time.March, 11, 11, 0, 0, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, commits); diff != "" {
		t.Fatalf("commits mismatch (-want +got):\n%s", diff)
	}
	if gotAuth != "Bearer token-1" {
		t.Fatalf("auth header = %q, want bearer token", gotAuth)
	}
	if gotSince != start.Format(time.RFC3339) || gotUntil != end.Format(time.RFC3339) {
		t.Fatalf("window query = %q..%q, want RFC3339 bounds", gotSince, gotUntil)
	}
}

func TestHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/head" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"commit":{"hash":"head99","message":"Release 1.4","author":"carol","timestamp":"2025-03-11T12:00:00Z"}}`))
	}))
	defer server.Close()

	client := newSCMClient(server.URL, nil)
	head, err := client.Head(context.Background())
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Hash != "head99" || head.Author != "carol" {
		t.Fatalf("head = %+v, want head99 by carol", head)
	}
}

func TestDiffStatCacheAside(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/diff" {
			http.NotFound(w, r)
			return
		}
		requests++
		if got := r.URL.Query().Get("hash"); got != "aaa111" {
			t.Errorf("hash query = %q, want aaa111", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"files":["config/app.yml"],"insertions":40,"deletions":5}`))
	}))
	defer server.Close()

	client := newSCMClient(server.URL, newMemoryCache())

	first, err := client.DiffStat(context.Background(), "aaa111")
	if err != nil {
		t.Fatalf("DiffStat: %v", err)
	}
	second, err := client.DiffStat(context.Background(), "aaa111")
	if err != nil {
		t.Fatalf("DiffStat (cached): %v", err)
	}

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("cached stat differs (-first +second):\n%s", diff)
	}
	if requests != 1 {
		t.Fatalf("backend requests = %d, want 1 (second hit served from cache)", requests)
	}
	if first.TotalLines() != 45 {
		t.Fatalf("total lines = %d, want 45", first.TotalLines())
	}
}

func TestDiffStatEmptyHash(t *testing.T) {
	client := newSCMClient("http://localhost:1", nil)
	if _, err := client.DiffStat(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty hash")
	}
}

func TestSourceControlErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer server.Close()

	client := newSCMClient(server.URL, nil)
	if _, err := client.Head(context.Background()); err == nil {
		t.Fatal("expected error on non-200 response")
	}
	if _, err := client.ListCommits(context.Background(), time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestSourceControlMissingBaseURL(t *testing.T) {
	client := newSCMClient("", nil)
	if _, err := client.Head(context.Background()); err == nil {
		t.Fatal("expected error without a base URL")
	}
}
