// Package transfer moves a wallet's full balance of one asset to a destination
// and only reports success once the destination is seen to hold the funds.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"solana-custody-bot/internal/asset"
	"solana-custody-bot/internal/blockchain"
	"solana-custody-bot/internal/config"
	"solana-custody-bot/internal/confirm"
)

// Ledger is the subset of the RPC client the transfer needs
type Ledger interface {
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]blockchain.TokenAccountInfo, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (uint64, uint8, error)
	AccountExists(ctx context.Context, address string) (bool, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataLen int) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (*blockchain.BlockhashResult, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, signedTx string, skipPreflight bool) (string, error)
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*blockchain.SignatureStatus, error)
}

// Blockhashes hands out recent blockhashes; *blockchain.BlockhashCache satisfies it
type Blockhashes interface {
	Latest(ctx context.Context) (blockchain.Blockhash, error)
}

// Observer receives transfer events for metrics
type Observer interface {
	Submitted()
	PollOutcome(outcome confirm.Outcome)
	Finished(result string, elapsed time.Duration)
}

// Receipt describes a transfer whose delivery was verified, or a no-op
type Receipt struct {
	Signature      string
	Amount         uint64
	Asset          asset.ID
	Slot           uint64
	Attempts       int
	IdempotencyKey string
	// NoOp is set when the source held nothing and nothing was sent
	NoOp bool
}

// intent is the resolved transfer; the key never leaves this package
type intent struct {
	key         solana.PrivateKey
	source      solana.PublicKey
	destination solana.PublicKey
	asset       asset.ID
	mint        solana.PublicKey

	amount    uint64
	decimals  uint8
	sources   []blockchain.TokenSource
	destATA   solana.PublicKey
	createATA bool
	destPre   uint64
}

// Transferer runs confirmed-delivery transfers
type Transferer struct {
	ledger      Ledger
	settings    func() config.TransferConfig
	attempts    AttemptLog
	blockhashes Blockhashes
	observer    Observer
	sleep       func(ctx context.Context, d time.Duration) error

	inflight sync.Map // idempotency key -> struct{}
}

// Option configures a Transferer
type Option func(*Transferer)

// WithAttemptLog persists submissions, e.g. to SQLite
func WithAttemptLog(l AttemptLog) Option {
	return func(t *Transferer) { t.attempts = l }
}

// WithBlockhashes serves the first submission's blockhash from a cache
func WithBlockhashes(b Blockhashes) Option {
	return func(t *Transferer) { t.blockhashes = b }
}

// WithObserver reports events to metrics
func WithObserver(o Observer) Option {
	return func(t *Transferer) { t.observer = o }
}

// WithSleep replaces the poller's wait, for tests
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Transferer) { t.sleep = fn }
}

// NewTransferer creates a transferer reading settings on every call
func NewTransferer(ledger Ledger, settings func() config.TransferConfig, opts ...Option) *Transferer {
	t := &Transferer{
		ledger:   ledger,
		settings: settings,
		attempts: NewMemoryAttemptLog(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transfer moves the full available balance of id from the credential's
// account to destination under a fresh idempotency key.
func (t *Transferer) Transfer(ctx context.Context, credential, destination string, id asset.ID) (*Receipt, error) {
	return t.TransferWithKey(ctx, uuid.NewString(), credential, destination, id)
}

// TransferWithKey is Transfer under a caller-chosen idempotency key. Reusing a
// key whose earlier submission landed returns that receipt; reusing one whose
// submissions are unresolved returns ErrAlreadySubmitted.
func (t *Transferer) TransferWithKey(ctx context.Context, key, credential, destination string, id asset.ID) (*Receipt, error) {
	if _, busy := t.inflight.LoadOrStore(key, struct{}{}); busy {
		return nil, fail(ErrAlreadySubmitted, nil, errors.New("in flight"))
	}
	defer t.inflight.Delete(key)

	start := time.Now()
	receipt, err := t.run(ctx, key, credential, destination, id)
	if t.observer != nil {
		t.observer.Finished(resultLabel(receipt, err), time.Since(start))
	}
	return receipt, err
}

func (t *Transferer) run(ctx context.Context, key, credential, destination string, id asset.ID) (*Receipt, error) {
	cfg := t.settings()

	in, err := t.validate(credential, destination, id)
	if err != nil {
		return nil, err
	}

	prior, err := t.attempts.Attempts(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load attempts: %w", err)
	}
	if len(prior) > 0 {
		if r, landed, err := t.recheck(ctx, cfg, prior); err != nil {
			return nil, fail(ErrAlreadySubmitted, nil, err)
		} else if landed {
			return r, nil
		}
		return nil, fail(ErrAlreadySubmitted, receiptFor(prior[len(prior)-1], id, key, len(prior)), nil)
	}

	builder := blockchain.NewTransferBuilder(cfg.PriorityFeeLamports, cfg.RelayTipLamports, cfg.ComputeUnitLimit)
	if err := t.resolve(ctx, cfg, builder, in); err != nil {
		return nil, err
	}
	if in.amount == 0 {
		log.Info().Str("source", in.source.String()).Str("asset", id.String()).Msg("nothing to transfer")
		return &Receipt{Asset: id, IdempotencyKey: key, NoOp: true}, nil
	}

	log.Info().
		Str("key", key).
		Str("asset", id.String()).
		Uint64("amount", in.amount).
		Str("destination", in.destination.String()).
		Msg("starting transfer")

	return t.submitLoop(ctx, cfg, builder, key, in)
}

func (t *Transferer) validate(credential, destination string, id asset.ID) (*intent, error) {
	key, err := blockchain.ParseCredential(credential)
	if err != nil {
		return nil, fail(ErrInvalidCredential, nil, err)
	}

	if !asset.ValidAddress(destination) {
		return nil, fail(ErrInvalidDestination, nil, asset.ErrInvalidAddress)
	}
	dest, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return nil, fail(ErrInvalidDestination, nil, err)
	}
	if dest.Equals(key.PublicKey()) {
		return nil, fail(ErrInvalidDestination, nil, errors.New("destination is the source"))
	}

	in := &intent{
		key:         key,
		source:      key.PublicKey(),
		destination: dest,
		asset:       id,
	}
	if !id.IsNative() {
		mint, err := solana.PublicKeyFromBase58(id.Mint)
		if err != nil {
			return nil, fail(ErrInvalidAsset, nil, err)
		}
		in.mint = mint
	}
	return in, nil
}

// resolve fills the amount and the destination's starting balance.
// A zero amount means there is nothing to move.
func (t *Transferer) resolve(ctx context.Context, cfg config.TransferConfig, builder *blockchain.TransferBuilder, in *intent) error {
	if in.asset.IsNative() {
		balance, err := t.ledger.GetBalance(ctx, in.source.String())
		if err != nil {
			return fmt.Errorf("get balance: %w", err)
		}
		if balance == 0 {
			return nil
		}
		reserve := builder.FeeBudget() + cfg.RetainedMinimumLamports
		if balance <= reserve {
			return fail(ErrInsufficientReserve, nil,
				fmt.Errorf("balance %d does not exceed fees and retained minimum %d", balance, reserve))
		}
		in.amount = balance - reserve

		pre, err := t.ledger.GetBalance(ctx, in.destination.String())
		if err != nil {
			return fmt.Errorf("get destination balance: %w", err)
		}
		in.destPre = pre
		if pre == 0 {
			if err := t.checkRentMinimum(ctx, in); err != nil {
				return err
			}
		}
		return nil
	}

	accounts, err := t.ledger.GetTokenAccountsByOwner(ctx, in.source.String(), in.asset.Mint)
	if err != nil {
		return fmt.Errorf("get token accounts: %w", err)
	}
	for _, acc := range accounts {
		if acc.Program == blockchain.Token2022ProgramID {
			log.Warn().Str("account", acc.Address).Msg("skipping Token-2022 account")
			continue
		}
		if acc.Amount == 0 {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(acc.Address)
		if err != nil {
			return fmt.Errorf("token account %q: %w", acc.Address, err)
		}
		in.sources = append(in.sources, blockchain.TokenSource{Account: pk, Amount: acc.Amount})
		in.amount += acc.Amount
		in.decimals = acc.Decimals
	}
	if in.amount == 0 {
		return nil
	}

	destATA, _, err := solana.FindAssociatedTokenAddress(in.destination, in.mint)
	if err != nil {
		return fail(ErrInvalidDestination, nil, err)
	}
	in.destATA = destATA
	if err := t.refreshDestinationAccount(ctx, in); err != nil {
		return err
	}

	need := builder.FeeBudget() + cfg.RetainedMinimumLamports
	if in.createATA {
		rent, err := t.ledger.GetMinimumBalanceForRentExemption(ctx, blockchain.TokenAccountSize)
		if err != nil {
			return fmt.Errorf("get rent: %w", err)
		}
		need += rent
	}
	sol, err := t.ledger.GetBalance(ctx, in.source.String())
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	if sol < need {
		return fail(ErrInsufficientReserve, nil, fmt.Errorf("SOL balance %d below required %d for fees", sol, need))
	}

	pre, _, err := t.ledger.GetTokenBalance(ctx, in.destination.String(), in.asset.Mint)
	if err != nil {
		return fmt.Errorf("get destination token balance: %w", err)
	}
	in.destPre = pre
	return nil
}

// checkRentMinimum fails a native transfer that would leave a new destination
// account below the rent-exempt minimum, which the cluster refuses.
func (t *Transferer) checkRentMinimum(ctx context.Context, in *intent) error {
	exists, err := t.ledger.AccountExists(ctx, in.destination.String())
	if err != nil {
		return fmt.Errorf("check destination account: %w", err)
	}
	if exists {
		return nil
	}
	rent, err := t.ledger.GetMinimumBalanceForRentExemption(ctx, 0)
	if err != nil {
		return fmt.Errorf("get rent: %w", err)
	}
	if in.amount < rent {
		return fail(ErrBelowRentMinimum, nil,
			fmt.Errorf("amount %d below the %d lamports a new account needs", in.amount, rent))
	}
	return nil
}

// refreshDestinationAccount decides whether the transaction must create the
// destination's token account. It can appear between submissions.
func (t *Transferer) refreshDestinationAccount(ctx context.Context, in *intent) error {
	exists, err := t.ledger.AccountExists(ctx, in.destATA.String())
	if err != nil {
		return fmt.Errorf("check destination token account: %w", err)
	}
	in.createATA = !exists
	return nil
}

func (t *Transferer) submitLoop(ctx context.Context, cfg config.TransferConfig, builder *blockchain.TransferBuilder, key string, in *intent) (*Receipt, error) {
	poller := &confirm.Poller{
		Base:        cfg.PollBaseInterval(),
		MaxAttempts: cfg.PollAttempts,
		MaxInterval: cfg.PollMaxInterval(),
		Target:      cfg.Commitment,
		Sleep:       t.sleep,
	}
	if t.observer != nil {
		poller.Observe = t.observer.PollOutcome
	}
	lookup := blockchain.StatusLookup(t.ledger)

	var prior []Attempt
	var last *Receipt
	for n := 1; n <= cfg.MaxSubmissions; n++ {
		if n > 1 {
			r, landed, err := t.recheck(ctx, cfg, prior)
			if err != nil {
				return nil, fail(ErrTransferTimeout, last, fmt.Errorf("re-check before resubmitting: %w", err))
			}
			if landed {
				return r, nil
			}
			if !in.asset.IsNative() && in.createATA {
				if err := t.refreshDestinationAccount(ctx, in); err != nil {
					return nil, fail(ErrTransferTimeout, last, err)
				}
			}
		}

		bh, err := t.blockhash(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fail(ErrTransferTimeout, last, ctx.Err())
			}
			return nil, fmt.Errorf("get blockhash: %w", err)
		}

		signed, err := builder.Build(blockchain.TransferParams{
			Owner:                in.key,
			Destination:          in.destination,
			Mint:                 in.mint,
			Decimals:             in.decimals,
			Sources:              in.sources,
			CreateDestinationATA: in.createATA,
			Amount:               in.amount,
			Blockhash:            bh,
		})
		if err != nil {
			return nil, fmt.Errorf("build transfer: %w", err)
		}

		sig := signed.Signature.String()
		att := Attempt{
			IdempotencyKey:        key,
			Signature:             sig,
			Source:                in.source.String(),
			Destination:           in.destination.String(),
			Asset:                 in.asset.String(),
			Amount:                in.amount,
			DestinationPreBalance: in.destPre,
			LastValidBlockHeight:  signed.LastValidBlockHeight,
			Status:                StatusSubmitted,
			CreatedAt:             time.Now(),
		}
		// Recorded before sending so a crash cannot hide a broadcast
		if err := t.attempts.Record(ctx, att); err != nil {
			return nil, fmt.Errorf("record attempt: %w", err)
		}
		prior = append(prior, att)
		last = &Receipt{Signature: sig, Amount: in.amount, Asset: in.asset, Attempts: n, IdempotencyKey: key}

		if _, err := t.ledger.SendTransaction(ctx, signed.Base64, false); err != nil {
			if blockchain.IsRPCError(err) {
				t.setStatus(ctx, key, sig, StatusRejected)
				return nil, fail(ErrSubmissionRejected, last, err)
			}
			if ctx.Err() != nil {
				return nil, fail(ErrTransferTimeout, last, ctx.Err())
			}
			// The node may still have it; the signature is known locally so poll anyway
			log.Warn().Err(err).Str("signature", sig).Msg("send failed, polling for the signature")
		}
		if t.observer != nil {
			t.observer.Submitted()
		}

		res, err := poller.Poll(ctx, sig, lookup)
		switch {
		case err == nil:
			last.Slot = res.Slot
			ok, verr := t.delivered(ctx, att)
			if verr != nil {
				log.Warn().Err(verr).Str("signature", sig).Msg("destination balance check failed")
			}
			if ok {
				t.setStatus(ctx, key, sig, StatusConfirmed)
				log.Info().Str("signature", sig).Int("submissions", n).Uint64("slot", res.Slot).Msg("transfer delivered")
				return last, nil
			}
			t.setStatus(ctx, key, sig, StatusUnverified)
			log.Warn().Str("signature", sig).Int("submission", n).Msg("confirmed but destination balance did not grow, resubmitting")

		case errors.Is(err, confirm.ErrRejected):
			t.setStatus(ctx, key, sig, StatusRejected)
			return nil, fail(ErrRejected, last, err)

		case errors.Is(err, confirm.ErrConfirmationExhausted):
			height, herr := t.ledger.GetBlockHeight(ctx)
			if herr != nil || height <= signed.LastValidBlockHeight {
				// The submission can still land; sending another could pay twice
				t.setStatus(ctx, key, sig, StatusTimedOut)
				return nil, fail(ErrTransferTimeout, last, err)
			}
			t.setStatus(ctx, key, sig, StatusExpired)
			log.Warn().Str("signature", sig).Uint64("height", height).Msg("submission expired unseen, resubmitting")

		default:
			return nil, fail(ErrTransferTimeout, last, err)
		}
	}

	return nil, fail(ErrTransferTimeout, last, fmt.Errorf("%d submissions without verified delivery", cfg.MaxSubmissions))
}

// recheck looks up every prior submission once and returns the first that
// landed and is reflected in the destination balance.
func (t *Transferer) recheck(ctx context.Context, cfg config.TransferConfig, prior []Attempt) (*Receipt, bool, error) {
	sigs := make([]string, len(prior))
	for i, a := range prior {
		sigs[i] = a.Signature
	}
	statuses, err := t.ledger.GetSignatureStatuses(ctx, sigs)
	if err != nil {
		return nil, false, err
	}

	for i, a := range prior {
		if i >= len(statuses) {
			break
		}
		st := blockchain.ToConfirmStatus(statuses[i])
		if confirm.Classify(st, cfg.Commitment) != confirm.Confirmed {
			continue
		}
		ok, err := t.delivered(ctx, a)
		if err != nil {
			return nil, false, err
		}
		if ok {
			t.setStatus(ctx, a.IdempotencyKey, a.Signature, StatusConfirmed)
			log.Info().Str("signature", a.Signature).Msg("earlier submission landed, not resubmitting")
			r := receiptFor(a, assetFromString(a.Asset), a.IdempotencyKey, len(prior))
			r.Slot = st.Slot
			return r, true, nil
		}
	}
	return nil, false, nil
}

func (t *Transferer) delivered(ctx context.Context, a Attempt) (bool, error) {
	var post uint64
	var err error
	if a.Asset == asset.NativeSymbol {
		post, err = t.ledger.GetBalance(ctx, a.Destination)
	} else {
		post, _, err = t.ledger.GetTokenBalance(ctx, a.Destination, a.Asset)
	}
	if err != nil {
		return false, err
	}
	return post >= a.DestinationPreBalance+a.Amount, nil
}

// blockhash uses the cache for the first submission only; a resubmission
// follows an expiry, so it must not reuse a hash the cache still holds.
func (t *Transferer) blockhash(ctx context.Context, submission int) (blockchain.Blockhash, error) {
	if submission == 1 && t.blockhashes != nil {
		return t.blockhashes.Latest(ctx)
	}
	return blockchain.FetchBlockhash(ctx, t.ledger)
}

func (t *Transferer) setStatus(ctx context.Context, key, sig, status string) {
	if err := t.attempts.SetStatus(ctx, key, sig, status); err != nil {
		log.Warn().Err(err).Str("signature", sig).Str("status", status).Msg("failed to update attempt")
	}
}

func receiptFor(a Attempt, id asset.ID, key string, attempts int) *Receipt {
	return &Receipt{
		Signature:      a.Signature,
		Amount:         a.Amount,
		Asset:          id,
		Attempts:       attempts,
		IdempotencyKey: key,
	}
}

func assetFromString(s string) asset.ID {
	if s == asset.NativeSymbol {
		return asset.Native()
	}
	return asset.ID{Mint: s}
}

func resultLabel(r *Receipt, err error) string {
	switch {
	case err == nil && r != nil && r.NoOp:
		return "noop"
	case err == nil:
		return "delivered"
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrInvalidDestination), errors.Is(err, ErrInvalidAsset):
		return "invalid"
	case errors.Is(err, ErrInsufficientReserve):
		return "insufficient_reserve"
	case errors.Is(err, ErrBelowRentMinimum):
		return "below_rent_minimum"
	case errors.Is(err, ErrSubmissionRejected):
		return "submission_rejected"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrAlreadySubmitted):
		return "duplicate"
	case errors.Is(err, ErrTransferTimeout):
		return "timeout"
	default:
		return "error"
	}
}
