package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"solana-custody-bot/internal/asset"
	"solana-custody-bot/internal/blockchain"
	"solana-custody-bot/internal/bot"
	"solana-custody-bot/internal/config"
	"solana-custody-bot/internal/confirm"
	"solana-custody-bot/internal/health"
	"solana-custody-bot/internal/metrics"
	"solana-custody-bot/internal/server"
	"solana-custody-bot/internal/session"
	"solana-custody-bot/internal/storage"
	"solana-custody-bot/internal/tradeapi"
	"solana-custody-bot/internal/transfer"
)

var knownAssets = map[string]string{
	"USDC": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"USDT": "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
}

func main() {
	setupLogger()
	log.Info().Msg("🚀 custody bot starting...")

	// Secrets may come from a local .env file
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.NewManager(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}
	c := cfg.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewDB(c.Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	m := metrics.New()

	rpc := blockchain.NewRPCClient(cfg.GetPrimaryRPCURL(), cfg.GetFallbackRPCURL(), cfg.GetPrimaryAPIKey())

	blockhashes := blockchain.NewBlockhashCache(
		rpc,
		cfg.GetBlockhashRefresh(),
		time.Duration(c.Blockchain.BlockhashTTLSeconds)*time.Second,
	)
	if err := blockhashes.Start(ctx); err != nil {
		// Transfers fall back to fetching a blockhash per submission
		log.Error().Err(err).Msg("failed to start blockhash cache")
	}
	defer blockhashes.Stop()

	transferer := transfer.NewTransferer(rpc, cfg.GetTransfer,
		transfer.WithAttemptLog(db.Attempts()),
		transfer.WithBlockhashes(blockhashes),
		transfer.WithObserver(m),
	)

	trader := tradeapi.NewClient(c.TradeAPI.BaseURL, time.Duration(c.TradeAPI.TimeoutSeconds)*time.Second, cfg.GetTradeAPIKeys())
	trader.SetSimulation(c.TradeAPI.SimulationMode)
	cfg.SetOnChange(func(nc *config.Config) {
		trader.SetSimulation(nc.TradeAPI.SimulationMode)
	})

	sessions := session.NewManager(cfg.GetSessionTTL(), db, storage.Settings{
		SlippageBps:         c.TradeAPI.DefaultSlipBps,
		PriorityFeeLamports: c.Transfer.PriorityFeeLamports,
		JitoTipLamports:     c.Transfer.RelayTipLamports,
	})
	sessions.OnSize = m.SetActiveSessions
	sessions.Start(ctx, time.Duration(c.Session.SweepIntervalSeconds)*time.Second)

	tc := cfg.GetTransfer()
	poller := confirm.NewPoller(tc.PollBaseInterval(), tc.PollAttempts)
	poller.MaxInterval = tc.PollMaxInterval()
	poller.Target = tc.Commitment
	poller.Observe = m.PollOutcome

	deps := bot.Deps{
		Store:     db,
		Sessions:  sessions,
		Transfers: transferer,
		Trader:    trader,
		Balances:  rpc,
		Assets:    asset.NewResolver(knownAssets),
		Metrics:   m,
		Poller:    poller,
		Lookup:    blockchain.StatusLookup(rpc),
	}
	if url := cfg.GetDiscordWebhook(); url != "" {
		discord, err := bot.NewDiscord(url)
		if err != nil {
			log.Warn().Err(err).Msg("discord notifications disabled")
		} else {
			deps.Notifier = discord
		}
	}

	b, err := bot.New(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid bot setup")
	}

	checker := health.NewChecker(
		time.Duration(c.Server.HealthIntervalSec)*time.Second,
		health.Probe{Name: "RPC", Check: rpc.GetHealth},
		health.Probe{Name: "TradeAPI", Check: trader.Health},
		health.Probe{Name: "SQLite", Check: func(context.Context) error { return db.Ping() }},
	)
	checker.Start(ctx)

	srv := server.New(server.Options{
		Host:            c.Server.ListenHost,
		Port:            c.Server.ListenPort,
		RateLimitPerMin: c.Server.RateLimitPerMin,
		Health:          checker,
		Metrics:         m.Handler(),
		Attempts:        db.Attempts(),
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	token := cfg.GetTelegramToken()
	if token == "" {
		log.Fatal().Str("env", c.Telegram.BotTokenEnv).Msg("telegram bot token not set")
	}
	tg, err := bot.NewTelegram(token, c.Telegram.Debug, b)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start telegram bot")
	}

	done := make(chan struct{})
	go func() {
		tg.Run(ctx)
		close(done)
	}()

	log.Info().
		Str("trade_api", trader.BaseURL()).
		Bool("simulation", c.TradeAPI.SimulationMode).
		Int("actions", len(b.Registry().Actions())).
		Msg("bot ready")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")
	cancel()
	<-done
	if err := srv.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	log.Info().Msg("goodbye 👋")
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
