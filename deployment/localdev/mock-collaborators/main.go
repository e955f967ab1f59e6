package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

type commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

type diffStat struct {
	Files      []string `json:"files"`
	Insertions int      `json:"insertions"`
	Deletions  int      `json:"deletions"`
}

type alert struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Severity  string    `json:"severity"`
	Services  []string  `json:"services"`
	Timestamp time.Time `json:"timestamp"`
}

// headRotation simulates a deployment landing every few minutes so the
// tracker has something to pick up during local development.
type headRotation struct {
	mu      sync.Mutex
	counter int
	current commit
	since   time.Time
}

func (h *headRotation) head() commit {
	h.mu.Lock()
	defer h.mu.Unlock()
	if time.Since(h.since) > 3*time.Minute || h.current.Hash == "" {
		h.counter++
		h.current = commit{
			Hash:      fmt.Sprintf("mock%04d", h.counter),
			Message:   "urgent config change for checkout timeouts",
			Author:    "dev@localhost",
			Timestamp: time.Now().UTC(),
		}
		h.since = time.Now()
	}
	return h.current
}

func main() {
	rotation := &headRotation{}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/head", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"commit": rotation.head()})
	})

	mux.HandleFunc("/api/v1/commits", func(w http.ResponseWriter, _ *http.Request) {
		now := time.Now().UTC()
		writeJSON(w, map[string]any{
			"commits": []commit{
				{Hash: "mockaaa1", Message: "Tune cache TTLs for product pages", Author: "alice@localhost", Timestamp: now.Add(-6 * time.Hour)},
				{Hash: "mockbbb2", Message: "urgent fix", Author: "bob@localhost", Timestamp: now.Add(-3 * time.Hour)},
				{Hash: "mockccc3", Message: "Add audit fields to payment records", Author: "carol@localhost", Timestamp: now.Add(-1 * time.Hour)},
			},
		})
	})

	mux.HandleFunc("/api/v1/diff", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("hash") {
		case "mockbbb2":
			writeJSON(w, diffStat{Files: []string{"config/production.yml", "internal/checkout/retry.go"}, Insertions: 480, Deletions: 160})
		case "mockccc3":
			writeJSON(w, diffStat{Files: []string{"migrations/0091_audit.sql", "internal/payments/record.go"}, Insertions: 75, Deletions: 4})
		default:
			writeJSON(w, diffStat{Files: []string{"internal/cache/ttl.go"}, Insertions: 12, Deletions: 3})
		}
	})

	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"alerts": []alert{
				{ID: "mock-al-1", Summary: "checkout 5xx rate above burn budget", Severity: "high", Services: []string{"checkout"}, Timestamp: time.Now().UTC().Add(-2 * time.Minute)},
			},
		})
	})

	mux.HandleFunc("/api/v1/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"error_rate":       1.2,
			"response_time_ms": 280.0,
			"cpu_percent":      48.0,
			"memory_percent":   63.0,
			"collected_at":     time.Now().UTC(),
		})
	})

	logger := log.New(log.Writer(), "collaborator-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9000",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9000")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
