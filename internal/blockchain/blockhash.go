package blockchain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
)

// Blockhash is a recent blockhash with the height after which transactions using it expire
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
	FetchedAt            time.Time
}

// BlockhashSource is satisfied by *RPCClient
type BlockhashSource interface {
	GetLatestBlockhash(ctx context.Context) (*BlockhashResult, error)
}

// FetchBlockhash queries src once and decodes the result
func FetchBlockhash(ctx context.Context, src BlockhashSource) (Blockhash, error) {
	result, err := src.GetLatestBlockhash(ctx)
	if err != nil {
		return Blockhash{}, err
	}
	hash, err := solana.HashFromBase58(result.Value.Blockhash)
	if err != nil {
		return Blockhash{}, fmt.Errorf("decode blockhash %q: %w", result.Value.Blockhash, err)
	}
	return Blockhash{
		Hash:                 hash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
		FetchedAt:            time.Now(),
	}, nil
}

// BlockhashCache keeps a recent blockhash warm in the background so
// withdrawals do not pay a round trip before signing.
type BlockhashCache struct {
	// Double buffer: current is served, previous covers a failed refresh
	current  atomic.Pointer[Blockhash]
	previous atomic.Pointer[Blockhash]

	src      BlockhashSource
	ttl      time.Duration
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	hits   atomic.Int64
	misses atomic.Int64
}

// NewBlockhashCache creates a cache refreshing every refreshInterval.
// Entries older than ttl are never served.
func NewBlockhashCache(src BlockhashSource, refreshInterval, ttl time.Duration) *BlockhashCache {
	return &BlockhashCache{
		src:      src,
		interval: refreshInterval,
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
}

// Start performs the first fetch and begins background refresh
func (c *BlockhashCache) Start(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.prefetchLoop()

	log.Info().
		Dur("interval", c.interval).
		Dur("ttl", c.ttl).
		Msg("blockhash cache started")

	return nil
}

// Stop stops the background refresh
func (c *BlockhashCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Latest returns a cached blockhash, fetching synchronously when both buffers are stale
func (c *BlockhashCache) Latest(ctx context.Context) (Blockhash, error) {
	if bh := c.current.Load(); bh != nil && time.Since(bh.FetchedAt) < c.ttl {
		c.hits.Add(1)
		return *bh, nil
	}
	if bh := c.previous.Load(); bh != nil && time.Since(bh.FetchedAt) < c.ttl {
		c.hits.Add(1)
		return *bh, nil
	}

	c.misses.Add(1)
	log.Warn().Msg("blockhash cache miss, forcing sync refresh")

	if err := c.refresh(ctx); err != nil {
		return Blockhash{}, err
	}
	return *c.current.Load(), nil
}

// HitRate returns the cache hit rate percentage
func (c *BlockhashCache) HitRate() float64 {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 100.0
	}
	return float64(hits) / float64(total) * 100
}

func (c *BlockhashCache) prefetchLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := c.refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("blockhash prefetch failed")
			}
			cancel()
		}
	}
}

func (c *BlockhashCache) refresh(ctx context.Context) error {
	bh, err := FetchBlockhash(ctx, c.src)
	if err != nil {
		return err
	}

	c.previous.Store(c.current.Load())
	c.current.Store(&bh)

	log.Debug().
		Str("hash", bh.Hash.String()).
		Uint64("lastValid", bh.LastValidBlockHeight).
		Float64("hitRate", c.HitRate()).
		Msg("blockhash refreshed")

	return nil
}
