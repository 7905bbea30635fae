package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Status represents the health status of a component
type Status struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Probe checks one dependency
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Checker periodically checks health of system components
type Checker struct {
	mu       sync.RWMutex
	statuses []Status
	probes   []Probe
	interval time.Duration
	timeout  time.Duration
}

// NewChecker creates a health checker running probes every interval
func NewChecker(interval time.Duration, probes ...Probe) *Checker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Checker{
		probes:   probes,
		interval: interval,
		timeout:  5 * time.Second,
	}
}

// Start begins periodic health checks
func (c *Checker) Start(ctx context.Context) {
	// Initial check
	c.Check(ctx)

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Check(ctx)
			}
		}
	}()
}

// Check runs every probe once and stores the results
func (c *Checker) Check(ctx context.Context) []Status {
	statuses := make([]Status, 0, len(c.probes))
	for _, p := range c.probes {
		statuses = append(statuses, c.run(ctx, p))
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
	return statuses
}

func (c *Checker) run(ctx context.Context, p Probe) Status {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := p.Check(ctx)
	status := Status{
		Name:    p.Name,
		Latency: time.Since(start),
		Healthy: err == nil,
	}
	if err != nil {
		status.Error = err.Error()
		log.Warn().Err(err).Str("component", p.Name).Msg("health check failed")
	}
	return status
}

// GetStatuses returns current health statuses
func (c *Checker) GetStatuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Status, len(c.statuses))
	copy(out, c.statuses)
	return out
}

// Healthy reports whether every probe passed on the last check
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
