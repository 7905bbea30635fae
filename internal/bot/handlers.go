package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"solana-custody-bot/internal/asset"
	"solana-custody-bot/internal/blockchain"
	"solana-custody-bot/internal/session"
	"solana-custody-bot/internal/storage"
	"solana-custody-bot/internal/tradeapi"
	"solana-custody-bot/internal/transfer"
)

const lamportsPerSOL = 1_000_000_000

var mainMenu = [][]Button{
	{{Label: "💰 Balance", Action: "balance"}, {Label: "👛 Wallet", Action: "wallet"}},
	{{Label: "🟢 Buy", Action: "buy"}, {Label: "🔴 Sell", Action: "sell"}},
	{{Label: "📤 Withdraw", Action: "withdraw"}, {Label: "📜 History", Action: "history"}},
	{{Label: "⚙️ Settings", Action: "settings"}},
}

func formatSOL(lamports uint64) string {
	return strconv.FormatFloat(float64(lamports)/lamportsPerSOL, 'f', 4, 64)
}

// parseSOL converts a decimal SOL amount to lamports
func parseSOL(s string) (uint64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) || f > math.MaxUint64/lamportsPerSOL {
		return 0, fmt.Errorf("invalid SOL amount %q", s)
	}
	return uint64(math.Round(f * lamportsPerSOL)), nil
}

func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}

// wallet loads the user's wallet; a nil wallet with nil error means none exists
func (b *Bot) wallet(userID int64) (*storage.WalletRecord, error) {
	w, found, err := b.deps.Store.CheckWallet(userID)
	if err != nil || !found {
		return nil, err
	}
	return w, nil
}

var noWallet = &Reply{
	Text:    "⚠️ No wallet yet. Create or import one first.",
	Buttons: [][]Button{{{Label: "✨ Create", Action: "wallet_create"}, {Label: "📥 Import", Action: "wallet_import"}}},
}

func (b *Bot) handleStart(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	s.Reset()
	return &Reply{Text: "👋 *Custody Bot*\n\nManage your Solana wallet, trade tokens and withdraw funds.", Buttons: mainMenu}, nil
}

func (b *Bot) handleWallet(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	w, err := b.wallet(req.UserID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return noWallet, nil
	}
	return &Reply{
		Text:    fmt.Sprintf("👛 *Your wallet*\n\n`%s`\n\nSend SOL to this address to fund it.", w.PublicKey),
		Buttons: [][]Button{{{Label: "💰 Balance", Action: "balance"}, {Label: "📤 Withdraw", Action: "withdraw"}}},
	}, nil
}

func (b *Bot) handleWalletCreate(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	existing, err := b.wallet(req.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Reply{Text: fmt.Sprintf("You already have a wallet:\n`%s`\n\nWithdraw its funds before replacing it.", existing.PublicKey)}, nil
	}

	w, err := blockchain.GenerateWallet()
	if err != nil {
		return nil, fmt.Errorf("generate wallet: %w", err)
	}
	if err := b.deps.Store.SaveWallet(&storage.WalletRecord{UserID: req.UserID, PublicKey: w.Address(), PrivateKey: w.Secret()}); err != nil {
		return nil, fmt.Errorf("save wallet: %w", err)
	}
	log.Info().Int64("user", req.UserID).Str("address", w.Address()).Msg("wallet created")
	return &Reply{Text: fmt.Sprintf("✅ Wallet created\n\n`%s`", w.Address()), Buttons: mainMenu}, nil
}

func (b *Bot) handleWalletImport(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		s.Pending = "wallet_import"
		return &Reply{Text: "📥 Paste your private key (base58 or JSON array). The message will be deleted."}, nil
	}

	existing, err := b.wallet(req.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Reply{Text: "You already have a wallet. Withdraw its funds before replacing it.", DeleteInput: true}, nil
	}

	w, err := blockchain.NewWallet(text)
	if err != nil {
		s.Pending = "wallet_import"
		return &Reply{Text: "❌ That key could not be read. Paste it again or /start to cancel.", DeleteInput: true}, nil
	}
	if err := b.deps.Store.SaveWallet(&storage.WalletRecord{UserID: req.UserID, PublicKey: w.Address(), PrivateKey: w.Secret()}); err != nil {
		return nil, fmt.Errorf("save wallet: %w", err)
	}
	log.Info().Int64("user", req.UserID).Str("address", w.Address()).Msg("wallet imported")
	return &Reply{Text: fmt.Sprintf("✅ Wallet imported\n\n`%s`", w.Address()), Buttons: mainMenu, DeleteInput: true}, nil
}

func (b *Bot) handleBalance(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	w, err := b.wallet(req.UserID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return noWallet, nil
	}
	if b.deps.Balances == nil {
		return nil, errors.New("no balance source configured")
	}

	lamports, err := b.deps.Balances.GetBalance(ctx, w.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "💰 *Balance*\n\n%s SOL\n", formatSOL(lamports))

	accounts, err := b.deps.Balances.GetTokenAccountsByOwner(ctx, w.PublicKey, "")
	if err != nil {
		log.Warn().Err(err).Str("owner", w.PublicKey).Msg("token accounts unavailable")
		sb.WriteString("\n_Token balances unavailable_")
	}
	for _, a := range accounts {
		if a.Amount == 0 {
			continue
		}
		fmt.Fprintf(&sb, "`%s`: %s\n", short(a.Mint), formatUnits(a.Amount, a.Decimals))
	}
	return &Reply{Text: sb.String(), Buttons: mainMenu}, nil
}

func formatUnits(amount uint64, decimals uint8) string {
	return strconv.FormatFloat(float64(amount)/math.Pow10(int(decimals)), 'f', -1, 64)
}

// buy: "<mint> <sol amount>"
func (b *Bot) handleBuy(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	w, err := b.wallet(req.UserID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return noWallet, nil
	}

	fields := strings.Fields(req.Text)
	if len(fields) == 0 {
		s.Pending = "buy"
		return &Reply{Text: "🟢 *Buy*\n\nSend `<token mint> <SOL amount>`, e.g.\n`So1...mint 0.5`"}, nil
	}
	if len(fields) != 2 || !asset.ValidAddress(fields[0]) {
		s.Pending = "buy"
		return &Reply{Text: "❌ Expected `<token mint> <SOL amount>`. Try again or /start to cancel."}, nil
	}
	lamports, err := parseSOL(fields[1])
	if err != nil {
		s.Pending = "buy"
		return &Reply{Text: "❌ Invalid SOL amount. Try again or /start to cancel."}, nil
	}
	s.Draft = session.Draft{Mint: fields[0], Amount: lamports}

	return b.trade(ctx, s, w, storage.SideBuy)
}

// sell: "<mint> [amount]", the whole balance when the amount is omitted
func (b *Bot) handleSell(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	w, err := b.wallet(req.UserID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return noWallet, nil
	}

	fields := strings.Fields(req.Text)
	if len(fields) == 0 {
		s.Pending = "sell"
		return &Reply{Text: "🔴 *Sell*\n\nSend `<token mint> [amount]`. Without an amount the whole balance is sold."}, nil
	}
	if len(fields) > 2 || !asset.ValidAddress(fields[0]) {
		s.Pending = "sell"
		return &Reply{Text: "❌ Expected `<token mint> [amount]`. Try again or /start to cancel."}, nil
	}

	var amount uint64
	if len(fields) == 2 {
		amount, err = strconv.ParseUint(fields[1], 10, 64)
		if err != nil || amount == 0 {
			s.Pending = "sell"
			return &Reply{Text: "❌ Amount must be a whole number of base units."}, nil
		}
	} else {
		if b.deps.Balances == nil {
			return nil, errors.New("no balance source configured")
		}
		amount, _, err = b.deps.Balances.GetTokenBalance(ctx, w.PublicKey, fields[0])
		if err != nil {
			return nil, fmt.Errorf("token balance: %w", err)
		}
		if amount == 0 {
			return &Reply{Text: "You hold none of that token.", Buttons: mainMenu}, nil
		}
	}
	s.Draft = session.Draft{Mint: fields[0], Amount: amount}

	return b.trade(ctx, s, w, storage.SideSell)
}

func (b *Bot) trade(ctx context.Context, s *session.Session, w *storage.WalletRecord, side string) (*Reply, error) {
	if b.deps.Trader == nil {
		return nil, errors.New("no trader configured")
	}
	draft := s.Draft
	s.Reset()

	req := tradeapi.Request{
		PrivateKey:  w.PrivateKey,
		Account:     w.PublicKey,
		Mint:        draft.Mint,
		Amount:      draft.Amount,
		SlippageBps: s.Settings.SlippageBps,
		PriorityFee: s.Settings.PriorityFeeLamports,
		JitoTip:     s.Settings.JitoTipLamports,
	}

	start := time.Now()
	var resp *tradeapi.Response
	var err error
	if side == storage.SideBuy {
		resp, err = b.deps.Trader.Buy(ctx, req)
	} else {
		resp, err = b.deps.Trader.Sell(ctx, req)
	}

	t := &storage.Trade{UserID: s.UserID, Side: side, Mint: draft.Mint, Amount: draft.Amount}
	if err != nil {
		t.Status = statusFailed
		if resp != nil {
			t.Signature = resp.Signature
		}
		b.recordTrade(ctx, t)
		log.Warn().Err(err).Int64("user", s.UserID).Str("side", side).Str("mint", draft.Mint).Msg("trade failed")
		return &Reply{Text: "❌ Trade failed: " + blockchain.HumanError(err), Buttons: mainMenu}, nil
	}

	t.Signature = resp.Signature
	t.AmountOut = resp.AmountOut
	t.Status = b.settle(ctx, resp)
	b.recordTrade(ctx, t)

	log.Info().
		Int64("user", s.UserID).
		Str("side", side).
		Str("mint", draft.Mint).
		Str("status", t.Status).
		Dur("elapsed", time.Since(start)).
		Msg("trade finished")

	verb := "Bought"
	if side == storage.SideSell {
		verb = "Sold"
	}
	switch t.Status {
	case statusSuccess:
		return &Reply{Text: fmt.Sprintf("✅ %s `%s`\nSignature: `%s`", verb, short(draft.Mint), resp.Signature), Buttons: mainMenu}, nil
	case statusPending:
		return &Reply{Text: fmt.Sprintf("⏳ Submitted but not yet confirmed.\nSignature: `%s`", resp.Signature), Buttons: mainMenu}, nil
	default:
		return &Reply{Text: "❌ Trade was rejected on-chain.", Buttons: mainMenu}, nil
	}
}

// withdraw: "<destination> [asset]" prepares a draft; nothing moves until withdraw_confirm
func (b *Bot) handleWithdraw(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	w, err := b.wallet(req.UserID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return noWallet, nil
	}

	fields := strings.Fields(req.Text)
	if len(fields) == 0 {
		s.Pending = "withdraw"
		return &Reply{Text: "📤 *Withdraw*\n\nSend `<destination address> [SOL | token mint]`.\nThe entire balance of that asset is sent."}, nil
	}
	if len(fields) > 2 || !asset.ValidAddress(fields[0]) || fields[0] == w.PublicKey {
		s.Pending = "withdraw"
		return &Reply{Text: "❌ That is not a valid destination. Try again or /start to cancel."}, nil
	}
	assetInput := ""
	if len(fields) == 2 {
		assetInput = fields[1]
	}
	id, err := b.deps.Assets.Resolve(assetInput)
	if err != nil {
		s.Pending = "withdraw"
		return &Reply{Text: "❌ Unknown asset. Use SOL or a token mint address."}, nil
	}

	label := id.String()
	if id.Mint == asset.WrappedSOLMint {
		label += " (wrapped SOL token accounts)"
	}

	s.Draft = session.Draft{Mint: id.Mint, Destination: fields[0], IdempotencyKey: uuid.NewString()}
	return &Reply{
		Text: fmt.Sprintf("⚠️ *Confirm withdrawal*\n\nAsset: %s\nTo: `%s`\n\nYour entire balance of this asset will be sent, less network fees.", label, fields[0]),
		Buttons: [][]Button{{
			{Label: "✅ Confirm", Action: "withdraw_confirm"},
			{Label: "✖️ Cancel", Action: "start"},
		}},
	}, nil
}

func (b *Bot) handleWithdrawConfirm(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	draft := s.Draft
	if draft.IdempotencyKey == "" || draft.Destination == "" {
		return &Reply{Text: "Nothing to confirm. Start a withdrawal first.", Buttons: mainMenu}, nil
	}
	if b.deps.Transfers == nil {
		return nil, errors.New("no transferer configured")
	}
	w, err := b.wallet(req.UserID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		s.Reset()
		return noWallet, nil
	}

	id := asset.ID{Mint: draft.Mint}
	receipt, err := b.deps.Transfers.TransferWithKey(ctx, draft.IdempotencyKey, w.PrivateKey, draft.Destination, id)
	if err != nil {
		return b.withdrawFailed(ctx, s, id, err), nil
	}
	s.Reset()

	if receipt.NoOp {
		return &Reply{Text: fmt.Sprintf("Nothing to withdraw: your %s balance is empty.", id), Buttons: mainMenu}, nil
	}

	b.recordTrade(ctx, &storage.Trade{
		UserID:    req.UserID,
		Side:      storage.SideWithdraw,
		Mint:      id.String(),
		Amount:    receipt.Amount,
		Signature: receipt.Signature,
		Status:    statusSuccess,
	})
	return &Reply{
		Text:    fmt.Sprintf("✅ Withdrawal delivered\n\nAmount: %d base units of %s\nSignature: `%s`", receipt.Amount, id, receipt.Signature),
		Buttons: mainMenu,
	}, nil
}

// withdrawFailed renders a failure. It never retries: a timed out withdrawal
// keeps its key so confirming again only checks the earlier submission.
func (b *Bot) withdrawFailed(ctx context.Context, s *session.Session, id asset.ID, err error) *Reply {
	log.Error().Err(err).Int64("user", s.UserID).Str("key", s.Draft.IdempotencyKey).Msg("withdrawal failed")

	var terr *transfer.Error
	sig := ""
	if errors.As(err, &terr) && terr.Receipt != nil {
		sig = terr.Receipt.Signature
	}

	switch {
	case errors.Is(err, transfer.ErrInsufficientReserve):
		s.Reset()
		return &Reply{Text: "❌ Balance too small to cover network fees.", Buttons: mainMenu}
	case errors.Is(err, transfer.ErrBelowRentMinimum):
		s.Reset()
		return &Reply{Text: "❌ The destination is a new account and this amount is below the minimum it must hold.", Buttons: mainMenu}
	case errors.Is(err, transfer.ErrTransferTimeout), errors.Is(err, transfer.ErrAlreadySubmitted):
		if errors.Is(err, transfer.ErrTransferTimeout) {
			b.recordTrade(ctx, &storage.Trade{UserID: s.UserID, Side: storage.SideWithdraw, Mint: id.String(), Signature: sig, Status: statusPending})
		}
		return &Reply{
			Text:    "⏳ Withdrawal status unknown. It may still land. Tap Check in a minute; it will not send again.",
			Buttons: [][]Button{{{Label: "🔄 Check", Action: "withdraw_confirm"}, {Label: "🏠 Menu", Action: "start"}}},
		}
	default:
		s.Reset()
		b.recordTrade(ctx, &storage.Trade{UserID: s.UserID, Side: storage.SideWithdraw, Mint: id.String(), Signature: sig, Status: statusFailed})
		return &Reply{Text: genericFailure + " Check your balance before withdrawing again.", Buttons: mainMenu}
	}
}

func (b *Bot) handleSettings(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	st := s.Settings
	return &Reply{
		Text: fmt.Sprintf("⚙️ *Settings*\n\nSlippage: %.1f%%\nPriority fee: %s SOL\nJito tip: %s SOL",
			float64(st.SlippageBps)/100, formatSOL(st.PriorityFeeLamports), formatSOL(st.JitoTipLamports)),
		Buttons: [][]Button{
			{{Label: "Slip 1%", Action: "set_slippage:100"}, {Label: "Slip 5%", Action: "set_slippage:500"}, {Label: "Slip 10%", Action: "set_slippage:1000"}},
			{{Label: "Fee low", Action: "set_priority:10000"}, {Label: "Fee mid", Action: "set_priority:100000"}, {Label: "Fee high", Action: "set_priority:1000000"}},
			{{Label: "Tip off", Action: "set_tip:0"}, {Label: "Tip 0.0001", Action: "set_tip:100000"}, {Label: "Tip 0.001", Action: "set_tip:1000000"}},
		},
	}, nil
}

const (
	maxSlippageBps = 5000
	maxFeeLamports = lamportsPerSOL / 10
)

func (b *Bot) handleSetSlippage(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	bps, err := strconv.Atoi(req.Arg)
	if err != nil || bps <= 0 || bps > maxSlippageBps {
		return &Reply{Text: "❌ Slippage must be between 1 and 5000 bps."}, nil
	}
	s.Settings.SlippageBps = bps
	return b.saveSettings(ctx, s, req)
}

func (b *Bot) handleSetPriority(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	v, err := strconv.ParseUint(req.Arg, 10, 64)
	if err != nil || v > maxFeeLamports {
		return &Reply{Text: "❌ Priority fee must be at most 0.1 SOL."}, nil
	}
	s.Settings.PriorityFeeLamports = v
	return b.saveSettings(ctx, s, req)
}

func (b *Bot) handleSetTip(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	v, err := strconv.ParseUint(req.Arg, 10, 64)
	if err != nil || v > maxFeeLamports {
		return &Reply{Text: "❌ Tip must be at most 0.1 SOL."}, nil
	}
	s.Settings.JitoTipLamports = v
	return b.saveSettings(ctx, s, req)
}

func (b *Bot) saveSettings(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	s.Settings.UserID = req.UserID
	if err := b.deps.Store.SaveSettings(&s.Settings); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return b.handleSettings(ctx, s, req)
}

func (b *Bot) handleHistory(ctx context.Context, s *session.Session, req Request) (*Reply, error) {
	trades, err := b.deps.Store.GetRecentTrades(req.UserID, 10)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	total, succeeded, err := b.deps.Store.GetTradingStats(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("trading stats: %w", err)
	}
	if len(trades) == 0 {
		return &Reply{Text: "📜 No trades yet.", Buttons: mainMenu}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📜 *History* (%d/%d succeeded)\n\n", succeeded, total)
	for _, t := range trades {
		fmt.Fprintf(&sb, "%s %s %s %d · %s\n",
			time.Unix(t.Timestamp, 0).UTC().Format("01-02 15:04"), t.Side, short(t.Mint), t.Amount, t.Status)
	}
	return &Reply{Text: sb.String(), Buttons: mainMenu}, nil
}
