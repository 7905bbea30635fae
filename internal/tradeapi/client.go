// Package tradeapi forwards buy and sell requests to the remote execution API.
package tradeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
)

// Sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// ErrTradeFailed is returned when the API answers with a non-success status
var ErrTradeFailed = errors.New("trade failed")

// HTTPClientPool provides HTTP/2 connection pooling
type HTTPClientPool struct {
	clients []*http.Client
	mu      sync.Mutex
	idx     uint32
}

// NewHTTPClientPool creates an HTTP/2 optimized client pool
func NewHTTPClientPool(size int, timeout time.Duration) *HTTPClientPool {
	if size < 1 {
		size = 1
	}
	pool := &HTTPClientPool{
		clients: make([]*http.Client, size),
	}

	for i := 0; i < size; i++ {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}

		if err := http2.ConfigureTransport(transport); err != nil {
			log.Warn().Err(err).Msg("http2 not configured, using HTTP/1.1")
		}

		pool.clients[i] = &http.Client{
			Transport: transport,
			Timeout:   timeout,
		}
	}

	log.Debug().Int("poolSize", size).Msg("HTTP/2 client pool initialized")
	return pool
}

// Get returns the next client round-robin
func (p *HTTPClientPool) Get() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	client := p.clients[p.idx%uint32(len(p.clients))]
	p.idx++
	return client
}

// Request is the body of POST /buy and POST /sell
type Request struct {
	PrivateKey  string `json:"privateKey"`
	Account     string `json:"account"`
	Mint        string `json:"mint"`
	Amount      uint64 `json:"amount"`
	SlippageBps int    `json:"slippageBps"`
	PriorityFee uint64 `json:"priorityFee"`
	JitoTip     uint64 `json:"jitoTip"`
}

// Response is the API's answer
type Response struct {
	Status    string `json:"status"`
	Signature string `json:"signature"`
	AmountOut uint64 `json:"amountOut"`
	Error     string `json:"error,omitempty"`
	Simulated bool   `json:"-"`
}

// Client calls the trade execution API with HTTP/2 pooling and API key rotation
type Client struct {
	baseURL string
	pool    *HTTPClientPool
	apiKeys []string
	keyIdx  atomic.Uint32
	simMode atomic.Bool
}

// NewClient creates a trade API client
func NewClient(baseURL string, timeout time.Duration, apiKeys []string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		pool:    NewHTTPClientPool(4, timeout),
		apiKeys: apiKeys,
	}
}

// SetSimulation makes Buy and Sell answer locally without calling the API
func (c *Client) SetSimulation(enabled bool) {
	c.simMode.Store(enabled)
	log.Info().Bool("enabled", enabled).Msg("trade API simulation mode configured")
}

// BaseURL returns the API root (for health probes)
func (c *Client) BaseURL() string {
	return c.baseURL
}

// getAPIKey returns next API key (round-robin), empty when none configured
func (c *Client) getAPIKey() string {
	if len(c.apiKeys) == 0 {
		return ""
	}
	idx := c.keyIdx.Add(1) % uint32(len(c.apiKeys))
	return c.apiKeys[idx]
}

// Buy spends Amount lamports on Mint
func (c *Client) Buy(ctx context.Context, req Request) (*Response, error) {
	return c.execute(ctx, SideBuy, req)
}

// Sell sells Amount base units of Mint
func (c *Client) Sell(ctx context.Context, req Request) (*Response, error) {
	return c.execute(ctx, SideSell, req)
}

func (c *Client) execute(ctx context.Context, side string, req Request) (*Response, error) {
	if req.Amount == 0 {
		return nil, fmt.Errorf("%s: zero amount", side)
	}

	if c.simMode.Load() {
		log.Info().Str("side", side).Str("mint", req.Mint).Uint64("amount", req.Amount).Msg("simulated trade")
		return &Response{
			Status:    "success",
			Signature: "SIM-" + uuid.NewString(),
			AmountOut: req.Amount,
			Simulated: true,
		}, nil
	}

	start := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/"+side, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if key := c.getAPIKey(); key != "" {
		httpReq.Header.Set("x-api-key", key)
	}

	resp, err := c.pool.Get().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s failed (%d): %s", side, resp.StatusCode, string(respBody))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", side, err)
	}

	log.Info().
		Str("side", side).
		Str("mint", req.Mint).
		Str("status", out.Status).
		Str("signature", out.Signature).
		Dur("latency", time.Since(start)).
		Msg("trade API response")

	if !strings.EqualFold(out.Status, "success") {
		msg := out.Error
		if msg == "" {
			msg = out.Status
		}
		return &out, fmt.Errorf("%w: %s", ErrTradeFailed, msg)
	}
	return &out, nil
}

// Health checks that the API answers at all
func (c *Client) Health(ctx context.Context) error {
	if c.simMode.Load() {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.pool.Get().Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("trade API status %d", resp.StatusCode)
	}
	return nil
}
