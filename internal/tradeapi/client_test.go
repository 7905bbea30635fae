package tradeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBuyForwardsRequest(t *testing.T) {
	var keys []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/buy" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		keys = append(keys, r.Header.Get("x-api-key"))

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.PrivateKey != "secret" || req.Account != "acct" || req.Mint != "mint" ||
			req.Amount != 1_000_000 || req.SlippageBps != 500 || req.PriorityFee != 10 || req.JitoTip != 20 {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","signature":"5sig","amountOut":4200}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", 5*time.Second, []string{"k1", "k2"})
	req := Request{PrivateKey: "secret", Account: "acct", Mint: "mint", Amount: 1_000_000, SlippageBps: 500, PriorityFee: 10, JitoTip: 20}
	for i := 0; i < 2; i++ {
		resp, err := c.Buy(context.Background(), req)
		if err != nil {
			t.Fatalf("Buy failed: %v", err)
		}
		if resp.Signature != "5sig" || resp.AmountOut != 4200 || resp.Simulated {
			t.Errorf("unexpected response: %+v", resp)
		}
	}
	if len(keys) != 2 || keys[0] == keys[1] {
		t.Errorf("expected rotating API keys, got %v", keys)
	}
}

func TestSellFailureStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sell" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"failed","error":"slippage exceeded"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second, nil)
	resp, err := c.Sell(context.Background(), Request{Mint: "mint", Amount: 5})
	if !errors.Is(err, ErrTradeFailed) {
		t.Fatalf("expected ErrTradeFailed, got %v", err)
	}
	if resp == nil || !strings.Contains(err.Error(), "slippage exceeded") {
		t.Errorf("expected the API message, got %v", err)
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 5*time.Second, nil)
	if _, err := c.Buy(context.Background(), Request{Amount: 1}); err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected status error, got %v", err)
	}
	if err := c.Health(context.Background()); err == nil {
		t.Error("expected unhealthy API")
	}
}

func TestSimulationMode(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second, nil)
	c.SetSimulation(true)

	resp, err := c.Buy(context.Background(), Request{Mint: "mint", Amount: 77})
	if err != nil {
		t.Fatalf("simulated Buy failed: %v", err)
	}
	if !resp.Simulated || resp.AmountOut != 77 || !strings.HasPrefix(resp.Signature, "SIM-") {
		t.Errorf("unexpected simulated response: %+v", resp)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("simulation should report healthy: %v", err)
	}
}

func TestZeroAmountRejectedLocally(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second, nil)
	if _, err := c.Sell(context.Background(), Request{Mint: "mint"}); err == nil {
		t.Error("expected zero amount error")
	}
}
