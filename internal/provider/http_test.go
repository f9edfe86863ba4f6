package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/genqueue/internal/core/domain"
)

func TestHTTPClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/generations" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}

		var req domain.GenerationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "a quiet harbor at dawn" {
			t.Errorf("prompt = %q", req.Prompt)
		}

		json.NewEncoder(w).Encode(domain.GenerationResult{
			ID:        "gen-1",
			ResultURL: "https://cdn.example/gen-1.png",
			Cost:      0.04,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient("test", srv.URL, "test-key", 5*time.Second)
	result, err := c.Generate(context.Background(), &domain.GenerationRequest{
		Kind:   domain.KindImage,
		Prompt: "a quiet harbor at dawn",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.ID != "gen-1" || result.ResultURL != "https://cdn.example/gen-1.png" {
		t.Errorf("unexpected result: %+v", result)
	}
	if c.Monitor.Status() != StatusHealthy {
		t.Errorf("monitor status = %v after success, want healthy", c.Monitor.Status())
	}
}

func TestHTTPClientRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"message": "rate limit exceeded"})
	}))
	defer srv.Close()

	c := NewHTTPClient("test", srv.URL, "key", 5*time.Second)
	_, err := c.Generate(context.Background(), &domain.GenerationRequest{Kind: domain.KindImage})
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if !strings.Contains(err.Error(), "rate limited (429)") {
		t.Errorf("error %q should name the 429", err)
	}

	if c.Monitor.Status() != StatusThrottled {
		t.Errorf("monitor status = %v, want throttled", c.Monitor.Status())
	}
	if ra := c.Monitor.RetryAfter(); ra <= 25*time.Second || ra > 30*time.Second {
		t.Errorf("RetryAfter = %v, want near 30s from header", ra)
	}

	// Next call is refused locally before hitting the wire.
	_, err = c.Generate(context.Background(), &domain.GenerationRequest{Kind: domain.KindImage})
	if err == nil || !strings.Contains(err.Error(), "rate limit in effect") {
		t.Errorf("expected pre-call throttle refusal, got %v", err)
	}
}

func TestHTTPClientForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "key suspended"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient("test", srv.URL, "key", 5*time.Second)
	_, err := c.Generate(context.Background(), &domain.GenerationRequest{Kind: domain.KindImage})
	if err == nil {
		t.Fatal("expected error on 403")
	}
	if !strings.Contains(err.Error(), "forbidden (403)") || !strings.Contains(err.Error(), "key suspended") {
		t.Errorf("error %q should carry status and api message", err)
	}
	if c.Monitor.Status() != StatusBlocked {
		t.Errorf("monitor status = %v, want blocked", c.Monitor.Status())
	}
}

func TestHTTPClientThrottlePatternInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"message": "monthly quota exceeded"})
	}))
	defer srv.Close()

	c := NewHTTPClient("test", srv.URL, "key", 5*time.Second)
	_, err := c.Generate(context.Background(), &domain.GenerationRequest{Kind: domain.KindImage})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "rate limit detected") {
		t.Errorf("error %q should flag the throttle pattern", err)
	}
	if c.Monitor.Status() != StatusThrottled {
		t.Errorf("monitor status = %v, want throttled", c.Monitor.Status())
	}
}

func TestHTTPClientCancel(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient("test", srv.URL, "key", 5*time.Second)
	if err := c.Cancel(context.Background(), "gen-7"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1/generations/gen-7" {
		t.Errorf("got %s %s", gotMethod, gotPath)
	}
}

func TestHTTPClientCancelNotFoundIsOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewHTTPClient("test", srv.URL, "key", 5*time.Second)
	if err := c.Cancel(context.Background(), "gone"); err != nil {
		t.Errorf("Cancel on 404 should succeed, got %v", err)
	}
}

func TestHTTPClientGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "running"})
	}))
	defer srv.Close()

	c := NewHTTPClient("test", srv.URL, "key", 5*time.Second)
	status, err := c.GetStatus(context.Background(), "gen-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != domain.ProviderStatusRunning {
		t.Errorf("status = %v, want running", status)
	}
}

func TestMuxRouting(t *testing.T) {
	a := NewHTTPClient("alpha", "http://a.example", "k", time.Second)
	b := NewHTTPClient("beta", "http://b.example", "k", time.Second)

	mux := NewMux()
	mux.Register("alpha", a)
	mux.Register("beta", b)

	got, err := mux.ClientFor("beta")
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if got != Client(b) {
		t.Error("ClientFor returned wrong client")
	}

	if _, err := mux.ClientFor("gamma"); err == nil {
		t.Error("unknown provider key should error")
	}

	keys := mux.Keys()
	if len(keys) != 2 {
		t.Errorf("Keys() = %v, want 2 entries", keys)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"30", 30 * time.Second},
		{"0", 0},
		{"", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.header); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
