package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"solana-custody-bot/internal/blockchain"
	"solana-custody-bot/internal/config"
)

// Any funded account works; balances are only read
const probeAccount = "vines1vzrYbzLMRdu58ou5XTby4qAqVRLmqo36NKPTg"

func main() {
	fmt.Println("🔬 Transfer RPC Benchmark")
	fmt.Printf("Time: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	cfg, err := config.NewManager("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Each endpoint is measured alone so fallback cannot mask a slow primary
	endpoints := map[string]*blockchain.RPCClient{
		"primary":  blockchain.NewRPCClient(cfg.GetPrimaryRPCURL(), cfg.GetPrimaryRPCURL(), cfg.GetPrimaryAPIKey()),
		"fallback": blockchain.NewRPCClient(cfg.GetFallbackRPCURL(), cfg.GetFallbackRPCURL(), ""),
	}

	// The calls a withdrawal makes, in order
	methods := []struct {
		name string
		call func(ctx context.Context, c *blockchain.RPCClient) error
	}{
		{"getBalance", func(ctx context.Context, c *blockchain.RPCClient) error {
			_, err := c.GetBalance(ctx, probeAccount)
			return err
		}},
		{"getAccountInfo", func(ctx context.Context, c *blockchain.RPCClient) error {
			_, err := c.AccountExists(ctx, probeAccount)
			return err
		}},
		{"getLatestBlockhash", func(ctx context.Context, c *blockchain.RPCClient) error {
			_, err := c.GetLatestBlockhash(ctx)
			return err
		}},
		{"getBlockHeight", func(ctx context.Context, c *blockchain.RPCClient) error {
			_, err := c.GetBlockHeight(ctx)
			return err
		}},
		{"getSignatureStatuses", func(ctx context.Context, c *blockchain.RPCClient) error {
			_, err := c.GetSignatureStatuses(ctx, []string{"1111111111111111111111111111111111111111111111111111111111111111"})
			return err
		}},
	}

	iterations := 20
	fmt.Printf("Iterations per method: %d\n", iterations)

	for _, name := range []string{"primary", "fallback"} {
		client := endpoints[name]
		fmt.Printf("\n🔗 %s\n", name)

		var all []int64
		for _, m := range methods {
			latencies := benchmark(client, m.call, iterations)
			if len(latencies) == 0 {
				fmt.Printf("   %-24s ❌ FAILED\n", m.name)
				continue
			}
			all = append(all, latencies...)
			p50, p95, p99, avg := calcStats(latencies)
			fmt.Printf("   %-24s p50: %4dms  p95: %4dms  p99: %4dms  avg: %4dms\n", m.name, p50, p95, p99, avg)
		}
		if len(all) > 0 {
			p50, p95, p99, avg := calcStats(all)
			fmt.Printf("\n   %-24s p50: %4dms  p95: %4dms  p99: %4dms  avg: %4dms\n", "📈 OVERALL", p50, p95, p99, avg)
		}
	}

	fmt.Println("\n✅ Benchmark complete")
}

func benchmark(c *blockchain.RPCClient, call func(context.Context, *blockchain.RPCClient) error, iterations int) []int64 {
	latencies := make([]int64, 0, iterations)
	for i := 0; i < iterations; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		start := time.Now()
		err := call(ctx, c)
		cancel()
		if err == nil {
			latencies = append(latencies, time.Since(start).Milliseconds())
		}
		time.Sleep(50 * time.Millisecond)
	}
	return latencies
}

func calcStats(latencies []int64) (p50, p95, p99, avg int64) {
	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	p50 = sorted[n*50/100]
	p95 = sorted[min(n*95/100, n-1)]
	p99 = sorted[min(n*99/100, n-1)]

	var sum int64
	for _, l := range sorted {
		sum += l
	}
	avg = sum / int64(n)
	return
}
