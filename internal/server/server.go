// Package server exposes health, metrics and transfer attempt lookups over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/rs/zerolog/log"

	"solana-custody-bot/internal/health"
	"solana-custody-bot/internal/transfer"
)

// StatusSource reports dependency health; *health.Checker satisfies it
type StatusSource interface {
	GetStatuses() []health.Status
	Healthy() bool
}

// AttemptSource looks up transfer submissions; transfer.AttemptLog satisfies it
type AttemptSource interface {
	Attempts(ctx context.Context, key string) ([]transfer.Attempt, error)
}

// Options configures the HTTP server
type Options struct {
	Host            string
	Port            int
	RateLimitPerMin int
	Health          StatusSource
	Metrics         http.Handler
	Attempts        AttemptSource
}

// Server runs the operator HTTP endpoints
type Server struct {
	app  *fiber.App
	opts Options
}

// New creates the server and registers routes
func New(opts Options) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 120
	}
	app.Use(limiter.New(limiter.Config{
		Max:        opts.RateLimitPerMin,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limited"})
		},
	}))

	s := &Server{app: app, opts: opts}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	if s.opts.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.opts.Metrics))
	}
	if s.opts.Attempts != nil {
		s.app.Get("/transfers/:key", s.handleAttempts)
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	body := fiber.Map{
		"status": "ok",
		"time":   time.Now().Unix(),
	}
	if s.opts.Health == nil {
		return c.JSON(body)
	}

	body["components"] = s.opts.Health.GetStatuses()
	if !s.opts.Health.Healthy() {
		body["status"] = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
	return c.JSON(body)
}

type attemptView struct {
	Signature            string `json:"signature"`
	Asset                string `json:"asset"`
	Amount               uint64 `json:"amount"`
	Destination          string `json:"destination"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	Status               string `json:"status"`
	CreatedAt            int64  `json:"createdAt"`
}

func (s *Server) handleAttempts(c *fiber.Ctx) error {
	key := c.Params("key")
	attempts, err := s.opts.Attempts.Attempts(c.UserContext(), key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to load transfer attempts")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}
	if len(attempts) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown key"})
	}

	views := make([]attemptView, len(attempts))
	for i, a := range attempts {
		views[i] = attemptView{
			Signature:            a.Signature,
			Asset:                a.Asset,
			Amount:               a.Amount,
			Destination:          a.Destination,
			LastValidBlockHeight: a.LastValidBlockHeight,
			Status:               a.Status,
			CreatedAt:            a.CreatedAt.Unix(),
		}
	}
	return c.JSON(fiber.Map{"key": key, "attempts": views})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
