package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"solana-custody-bot/internal/asset"
	"solana-custody-bot/internal/blockchain"
	"solana-custody-bot/internal/confirm"
	"solana-custody-bot/internal/session"
	"solana-custody-bot/internal/storage"
	"solana-custody-bot/internal/tradeapi"
	"solana-custody-bot/internal/transfer"
)

// Store is the persistence the handlers use; *storage.DB satisfies it
type Store interface {
	CheckWallet(userID int64) (*storage.WalletRecord, bool, error)
	SaveWallet(w *storage.WalletRecord) error
	InsertTrade(t *storage.Trade) error
	GetRecentTrades(userID int64, limit int) ([]*storage.Trade, error)
	GetTradingStats(userID int64) (total int, succeeded int, err error)
	SaveSettings(s *storage.Settings) error
}

// Transfers runs withdrawals; *transfer.Transferer satisfies it
type Transfers interface {
	TransferWithKey(ctx context.Context, key, credential, destination string, id asset.ID) (*transfer.Receipt, error)
}

// Trader executes swaps; *tradeapi.Client satisfies it
type Trader interface {
	Buy(ctx context.Context, req tradeapi.Request) (*tradeapi.Response, error)
	Sell(ctx context.Context, req tradeapi.Request) (*tradeapi.Response, error)
}

// Balances reads on-chain holdings; *blockchain.RPCClient satisfies it
type Balances interface {
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]blockchain.TokenAccountInfo, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (uint64, uint8, error)
}

// Metrics counts actions and trades; *metrics.Registry satisfies it
type Metrics interface {
	IncTrade(side, status string)
	IncAction(action, result string)
}

// Deps wires the bot to the rest of the system. Notifier, Metrics, Poller and
// Lookup are optional.
type Deps struct {
	Store     Store
	Sessions  *session.Manager
	Transfers Transfers
	Trader    Trader
	Balances  Balances
	Assets    *asset.Resolver
	Notifier  Notifier
	Metrics   Metrics

	// Poller and Lookup confirm trade signatures returned by the trade API
	Poller *confirm.Poller
	Lookup confirm.StatusFunc
}

// Bot turns requests into replies
type Bot struct {
	deps     Deps
	registry *Registry
}

const genericFailure = "❌ Something went wrong. Please try again later."

// New builds the bot and validates its action table
func New(deps Deps) (*Bot, error) {
	if deps.Store == nil || deps.Sessions == nil {
		return nil, errors.New("bot: store and sessions are required")
	}
	if deps.Assets == nil {
		deps.Assets = asset.NewResolver(nil)
	}
	b := &Bot{deps: deps}
	b.registry = b.routes()
	if err := b.registry.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bot) routes() *Registry {
	r := NewRegistry()
	r.Register("start", b.handleStart)
	r.Register("wallet", b.handleWallet)
	r.Register("wallet_create", b.handleWalletCreate)
	r.Register("wallet_import", b.handleWalletImport)
	r.Register("balance", b.handleBalance)
	r.Register("buy", b.handleBuy)
	r.Register("sell", b.handleSell)
	r.Register("withdraw", b.handleWithdraw)
	r.Register("withdraw_confirm", b.handleWithdrawConfirm)
	r.Register("settings", b.handleSettings)
	r.Register("set_slippage:", b.handleSetSlippage)
	r.Register("set_priority:", b.handleSetPriority)
	r.Register("set_tip:", b.handleSetTip)
	r.Register("history", b.handleHistory)
	return r
}

// Registry exposes the action table
func (b *Bot) Registry() *Registry { return b.registry }

// Handle routes one request. Free text goes to the action awaiting input,
// or to the menu when nothing is pending. Handlers for one user never overlap.
func (b *Bot) Handle(ctx context.Context, req Request) *Reply {
	s := b.deps.Sessions.Get(req.UserID)
	s.Lock()
	defer s.Unlock()

	if req.Action == "" {
		req.Action = s.Pending
		if req.Action == "" {
			req.Action = "start"
		}
	}
	// Handlers that still need input set Pending again; an explicit action
	// abandons whatever was awaited
	s.Pending = ""

	// Only registered ids become metric labels; the action string is user input
	label := "unknown"
	if _, id, _, ok := b.registry.Lookup(req.Action); ok {
		label = id
	}

	reply, err := b.registry.Dispatch(ctx, s, req)
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, ErrUnknownAction) {
			result = "unknown"
			reply = &Reply{Text: "Unknown command. Use /start for the menu."}
		} else {
			log.Error().Err(err).Int64("user", req.UserID).Str("action", req.Action).Msg("handler failed")
			reply = &Reply{Text: genericFailure}
		}
	}
	if b.deps.Metrics != nil {
		b.deps.Metrics.IncAction(label, result)
	}
	return reply
}

func (b *Bot) recordTrade(ctx context.Context, t *storage.Trade) {
	if err := b.deps.Store.InsertTrade(t); err != nil {
		log.Error().Err(err).Int64("user", t.UserID).Str("side", t.Side).Msg("failed to record trade")
	}
	if b.deps.Metrics != nil {
		b.deps.Metrics.IncTrade(strings.ToLower(t.Side), t.Status)
	}
	if b.deps.Notifier != nil && t.Status == statusSuccess {
		ev := Event{Side: t.Side, UserID: t.UserID, Mint: t.Mint, Amount: t.Amount, AmountOut: t.AmountOut, Signature: t.Signature}
		if err := b.deps.Notifier.Notify(ctx, ev); err != nil {
			log.Warn().Err(err).Msg("notification failed")
		}
	}
}

// Trade statuses as stored
const (
	statusSuccess = "success"
	statusFailed  = "failed"
	statusPending = "pending"
)

// settle waits for a trade signature to confirm when a poller is wired
func (b *Bot) settle(ctx context.Context, resp *tradeapi.Response) string {
	if resp.Simulated || resp.Signature == "" || b.deps.Poller == nil || b.deps.Lookup == nil {
		return statusSuccess
	}
	res, err := b.deps.Poller.Poll(ctx, resp.Signature, b.deps.Lookup)
	switch {
	case err == nil && res.Outcome == confirm.Confirmed:
		return statusSuccess
	case errors.Is(err, confirm.ErrRejected):
		return statusFailed
	default:
		log.Warn().Err(err).Str("sig", resp.Signature).Msg("trade not confirmed in time")
		return statusPending
	}
}
