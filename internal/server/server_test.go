package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"solana-custody-bot/internal/health"
	"solana-custody-bot/internal/metrics"
	"solana-custody-bot/internal/transfer"
)

type stubHealth struct {
	statuses []health.Status
}

func (s stubHealth) GetStatuses() []health.Status { return s.statuses }

func (s stubHealth) Healthy() bool {
	for _, st := range s.statuses {
		if !st.Healthy {
			return false
		}
	}
	return true
}

type stubAttempts struct {
	attempts map[string][]transfer.Attempt
	err      error
}

func (s stubAttempts) Attempts(ctx context.Context, key string) ([]transfer.Attempt, error) {
	return s.attempts[key], s.err
}

func get(t *testing.T, s *Server, path string) (int, string) {
	t.Helper()
	req, _ := http.NewRequest("GET", path, nil)
	resp, err := s.app.Test(req, 1000)
	if err != nil {
		t.Fatalf("request %s failed: %v", path, err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	s := New(Options{Health: stubHealth{statuses: []health.Status{{Name: "RPC", Healthy: true}}}})
	code, body := get(t, s, "/health")
	if code != 200 || !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"RPC"`) {
		t.Errorf("unexpected health response %d %s", code, body)
	}

	s = New(Options{Health: stubHealth{statuses: []health.Status{{Name: "RPC", Healthy: false, Error: "down"}}}})
	code, body = get(t, s, "/health")
	if code != 503 || !strings.Contains(body, "degraded") {
		t.Errorf("expected degraded 503, got %d %s", code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Finished("delivered", time.Second)

	s := New(Options{Metrics: m.Handler()})
	code, body := get(t, s, "/metrics")
	if code != 200 || !strings.Contains(body, `custodybot_transfers_total{result="delivered"} 1`) {
		t.Errorf("unexpected metrics response %d %s", code, body)
	}
}

func TestTransferAttemptsEndpoint(t *testing.T) {
	s := New(Options{Attempts: stubAttempts{attempts: map[string][]transfer.Attempt{
		"k1": {{Signature: "sig1", Asset: "SOL", Amount: 5, Status: transfer.StatusConfirmed, CreatedAt: time.Unix(100, 0)}},
	}}})

	code, body := get(t, s, "/transfers/k1")
	if code != 200 {
		t.Fatalf("expected 200, got %d %s", code, body)
	}
	var out struct {
		Key      string        `json:"key"`
		Attempts []attemptView `json:"attempts"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatal(err)
	}
	if out.Key != "k1" || len(out.Attempts) != 1 || out.Attempts[0].Signature != "sig1" || out.Attempts[0].CreatedAt != 100 {
		t.Errorf("unexpected body %+v", out)
	}

	if code, _ := get(t, s, "/transfers/missing"); code != 404 {
		t.Errorf("expected 404 for unknown key, got %d", code)
	}

	failing := New(Options{Attempts: stubAttempts{err: errors.New("db closed")}})
	if code, _ := get(t, failing, "/transfers/k1"); code != 500 {
		t.Errorf("expected 500 on lookup failure, got %d", code)
	}
}

func TestRateLimit(t *testing.T) {
	s := New(Options{RateLimitPerMin: 5})

	limitHit := false
	for i := 0; i < 20; i++ {
		code, _ := get(t, s, "/health")
		if code == 429 {
			limitHit = true
			if i < 5 {
				t.Errorf("limited too early at request %d", i)
			}
			break
		}
	}
	if !limitHit {
		t.Error("rate limit was not hit after 20 requests")
	}
}
