package blockchain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// BaseSignatureFee is the fixed per-signature fee in lamports
const BaseSignatureFee uint64 = 5000

// TokenAccountSize is the data length of an SPL token account, used for rent
const TokenAccountSize = 165

// Jito tip accounts; one is picked round-robin per transaction
var jitoTipAccounts = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
	solana.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe"),
	solana.MustPublicKeyFromBase58("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solana.MustPublicKeyFromBase58("ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49"),
	solana.MustPublicKeyFromBase58("DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh"),
	solana.MustPublicKeyFromBase58("ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt"),
	solana.MustPublicKeyFromBase58("DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL"),
	solana.MustPublicKeyFromBase58("3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT"),
}

// IsTipAccount reports whether pk is one of the relay tip accounts
func IsTipAccount(pk solana.PublicKey) bool {
	for _, acc := range jitoTipAccounts {
		if acc.Equals(pk) {
			return true
		}
	}
	return false
}

// TokenSource is one token account to drain in an SPL transfer
type TokenSource struct {
	Account solana.PublicKey
	Amount  uint64
}

// TransferParams describes one full-balance transfer
type TransferParams struct {
	Owner       solana.PrivateKey
	Destination solana.PublicKey

	// Native SOL when Mint is zero
	Mint     solana.PublicKey
	Decimals uint8
	// SPL only; empty means the owner's associated token account holding Amount
	Sources []TokenSource
	// SPL only; prepend creation of the destination ATA
	CreateDestinationATA bool

	Amount    uint64
	Blockhash Blockhash
}

// SignedTransfer is a serialized, signed transaction ready to broadcast
type SignedTransfer struct {
	Signature            solana.Signature
	Base64               string
	LastValidBlockHeight uint64
	TipAccount           solana.PublicKey
}

// TransferBuilder builds signed transfer transactions carrying a flat
// priority fee and a flat relay tip.
type TransferBuilder struct {
	priorityFeeLamports uint64
	tipLamports         uint64
	computeUnitLimit    uint32
	nextTip             atomic.Uint64
}

// NewTransferBuilder creates a new transfer builder
func NewTransferBuilder(priorityFeeLamports, tipLamports uint64, computeUnitLimit uint32) *TransferBuilder {
	if computeUnitLimit == 0 {
		computeUnitLimit = 200_000
	}
	return &TransferBuilder{
		priorityFeeLamports: priorityFeeLamports,
		tipLamports:         tipLamports,
		computeUnitLimit:    computeUnitLimit,
	}
}

// FeeBudget is what one submission costs the payer on top of the amount
func (b *TransferBuilder) FeeBudget() uint64 {
	return BaseSignatureFee + b.PriorityFee() + b.tipLamports
}

// PriorityFee is the lamports actually charged for the unit price at the unit limit.
// It never exceeds the configured flat fee.
func (b *TransferBuilder) PriorityFee() uint64 {
	return (b.UnitPrice()*uint64(b.computeUnitLimit) + 999_999) / 1_000_000
}

// UnitPrice converts the flat priority fee to micro-lamports per compute unit
func (b *TransferBuilder) UnitPrice() uint64 {
	return (b.priorityFeeLamports * 1_000_000) / uint64(b.computeUnitLimit)
}

// Build assembles and signs the transfer
func (b *TransferBuilder) Build(p TransferParams) (*SignedTransfer, error) {
	if len(p.Owner) != 64 {
		return nil, errors.New("owner key not set")
	}
	if p.Amount == 0 {
		return nil, errors.New("zero amount")
	}
	owner := p.Owner.PublicKey()

	ixs := []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(b.computeUnitLimit).Build(),
	}
	if price := b.UnitPrice(); price > 0 {
		ixs = append(ixs, computebudget.NewSetComputeUnitPriceInstruction(price).Build())
	}

	if p.Mint.IsZero() {
		ixs = append(ixs, system.NewTransferInstruction(p.Amount, owner, p.Destination).Build())
	} else {
		tokenIxs, err := b.tokenInstructions(owner, p)
		if err != nil {
			return nil, err
		}
		ixs = append(ixs, tokenIxs...)
	}

	var tipAccount solana.PublicKey
	if b.tipLamports > 0 {
		tipAccount = jitoTipAccounts[b.nextTip.Add(1)%uint64(len(jitoTipAccounts))]
		ixs = append(ixs, system.NewTransferInstruction(b.tipLamports, owner, tipAccount).Build())
	}

	tx, err := solana.NewTransaction(ixs, p.Blockhash.Hash, solana.TransactionPayer(owner))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	key := p.Owner
	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(owner) {
			return &key
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	return &SignedTransfer{
		Signature:            tx.Signatures[0],
		Base64:               base64.StdEncoding.EncodeToString(raw),
		LastValidBlockHeight: p.Blockhash.LastValidBlockHeight,
		TipAccount:           tipAccount,
	}, nil
}

func (b *TransferBuilder) tokenInstructions(owner solana.PublicKey, p TransferParams) ([]solana.Instruction, error) {
	destATA, _, err := solana.FindAssociatedTokenAddress(p.Destination, p.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive destination ATA: %w", err)
	}

	sources := p.Sources
	if len(sources) == 0 {
		srcATA, _, err := solana.FindAssociatedTokenAddress(owner, p.Mint)
		if err != nil {
			return nil, fmt.Errorf("derive source ATA: %w", err)
		}
		sources = []TokenSource{{Account: srcATA, Amount: p.Amount}}
	}

	var total uint64
	for _, s := range sources {
		total += s.Amount
	}
	if total != p.Amount {
		return nil, fmt.Errorf("token sources hold %d, want %d", total, p.Amount)
	}

	var ixs []solana.Instruction
	if p.CreateDestinationATA {
		ixs = append(ixs, associatedtokenaccount.NewCreateInstruction(owner, p.Destination, p.Mint).Build())
	}
	for _, s := range sources {
		if s.Amount == 0 {
			continue
		}
		ixs = append(ixs, token.NewTransferCheckedInstruction(
			s.Amount,
			p.Decimals,
			s.Account,
			p.Mint,
			destATA,
			owner,
			[]solana.PublicKey{},
		).Build())
	}
	return ixs, nil
}
