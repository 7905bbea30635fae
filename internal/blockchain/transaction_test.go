package blockchain

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var testHash = solana.MustHashFromBase58("EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N")

var computeBudgetProgram = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

func decodeTx(t *testing.T, signed *SignedTransfer) *solana.Transaction {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(signed.Base64)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	return tx
}

func programIDs(tx *solana.Transaction) []solana.PublicKey {
	var ids []solana.PublicKey
	for _, ix := range tx.Message.Instructions {
		ids = append(ids, tx.Message.AccountKeys[ix.ProgramIDIndex])
	}
	return ids
}

func TestBuildNativeTransfer(t *testing.T) {
	owner := solana.NewWallet().PrivateKey
	dest := solana.NewWallet().PublicKey()

	b := NewTransferBuilder(100_000, 50_000, 200_000)
	signed, err := b.Build(TransferParams{
		Owner:       owner,
		Destination: dest,
		Amount:      1_000_000,
		Blockhash:   Blockhash{Hash: testHash, LastValidBlockHeight: 999},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if signed.LastValidBlockHeight != 999 {
		t.Errorf("expected last valid height 999, got %d", signed.LastValidBlockHeight)
	}
	if !IsTipAccount(signed.TipAccount) {
		t.Errorf("tip account %s not in relay list", signed.TipAccount)
	}

	tx := decodeTx(t, signed)
	if err := tx.VerifySignatures(); err != nil {
		t.Errorf("signature invalid: %v", err)
	}
	if tx.Signatures[0] != signed.Signature {
		t.Error("returned signature does not match the transaction")
	}
	if !tx.Message.AccountKeys[0].Equals(owner.PublicKey()) {
		t.Error("owner must be the fee payer")
	}

	ids := programIDs(tx)
	want := []solana.PublicKey{
		computeBudgetProgram,
		computeBudgetProgram,
		solana.SystemProgramID,
		solana.SystemProgramID,
	}
	if len(ids) != len(want) {
		t.Fatalf("expected %d instructions, got %d", len(want), len(ids))
	}
	for i := range want {
		if !ids[i].Equals(want[i]) {
			t.Errorf("instruction %d program = %s, want %s", i, ids[i], want[i])
		}
	}

	// System transfer data: u32 index 2, u64 lamports
	data := tx.Message.Instructions[2].Data
	if binary.LittleEndian.Uint32(data[:4]) != 2 || binary.LittleEndian.Uint64(data[4:12]) != 1_000_000 {
		t.Errorf("unexpected transfer data %x", []byte(data))
	}
	tip := tx.Message.Instructions[3].Data
	if binary.LittleEndian.Uint64(tip[4:12]) != 50_000 {
		t.Errorf("unexpected tip amount in %x", []byte(tip))
	}
}

func TestBuildWithoutTip(t *testing.T) {
	b := NewTransferBuilder(0, 0, 0)
	signed, err := b.Build(TransferParams{
		Owner:       solana.NewWallet().PrivateKey,
		Destination: solana.NewWallet().PublicKey(),
		Amount:      1,
		Blockhash:   Blockhash{Hash: testHash},
	})
	if err != nil {
		t.Fatal(err)
	}
	tx := decodeTx(t, signed)
	// Unit limit + transfer; no price, no tip
	if len(tx.Message.Instructions) != 2 {
		t.Errorf("expected 2 instructions, got %d", len(tx.Message.Instructions))
	}
	if !signed.TipAccount.IsZero() {
		t.Error("expected no tip account")
	}
}

func TestBuildTokenTransferCreatesATA(t *testing.T) {
	owner := solana.NewWallet().PrivateKey
	dest := solana.NewWallet().PublicKey()
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	b := NewTransferBuilder(10_000, 10_000, 200_000)
	signed, err := b.Build(TransferParams{
		Owner:                owner,
		Destination:          dest,
		Mint:                 mint,
		Decimals:             6,
		Amount:               300,
		CreateDestinationATA: true,
		Sources: []TokenSource{
			{Account: solana.NewWallet().PublicKey(), Amount: 100},
			{Account: solana.NewWallet().PublicKey(), Amount: 200},
		},
		Blockhash: Blockhash{Hash: testHash, LastValidBlockHeight: 10},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ids := programIDs(decodeTx(t, signed))
	want := []solana.PublicKey{
		computeBudgetProgram,
		computeBudgetProgram,
		solana.SPLAssociatedTokenAccountProgramID,
		solana.TokenProgramID,
		solana.TokenProgramID,
		solana.SystemProgramID,
	}
	if len(ids) != len(want) {
		t.Fatalf("expected %d instructions, got %d", len(want), len(ids))
	}
	for i := range want {
		if !ids[i].Equals(want[i]) {
			t.Errorf("instruction %d program = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestBuildTokenSourcesMustCoverAmount(t *testing.T) {
	b := NewTransferBuilder(0, 0, 0)
	_, err := b.Build(TransferParams{
		Owner:       solana.NewWallet().PrivateKey,
		Destination: solana.NewWallet().PublicKey(),
		Mint:        solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		Amount:      500,
		Sources:     []TokenSource{{Account: solana.NewWallet().PublicKey(), Amount: 100}},
		Blockhash:   Blockhash{Hash: testHash},
	})
	if err == nil {
		t.Error("expected mismatch error")
	}
}

func TestFeeBudgetAndUnitPrice(t *testing.T) {
	b := NewTransferBuilder(100_000, 200_000, 200_000)
	if got := b.FeeBudget(); got != 305_000 {
		t.Errorf("FeeBudget() = %d, want 305000", got)
	}
	// 100k lamports over 200k CU = 500k micro-lamports per CU
	if got := b.UnitPrice(); got != 500_000 {
		t.Errorf("UnitPrice() = %d, want 500000", got)
	}

	// 7 lamports over 3 CU does not divide evenly
	odd := NewTransferBuilder(7, 0, 3)
	if got := odd.PriorityFee(); got > 7 {
		t.Errorf("PriorityFee() = %d exceeds the flat fee", got)
	}
	if got := odd.FeeBudget(); got != BaseSignatureFee+odd.PriorityFee() {
		t.Errorf("FeeBudget() = %d", got)
	}
}

func TestTipAccountsRotate(t *testing.T) {
	b := NewTransferBuilder(0, 1000, 0)
	seen := map[solana.PublicKey]bool{}
	for i := 0; i < len(jitoTipAccounts); i++ {
		signed, err := b.Build(TransferParams{
			Owner:       solana.NewWallet().PrivateKey,
			Destination: solana.NewWallet().PublicKey(),
			Amount:      1,
			Blockhash:   Blockhash{Hash: testHash},
		})
		if err != nil {
			t.Fatal(err)
		}
		seen[signed.TipAccount] = true
	}
	if len(seen) != len(jitoTipAccounts) {
		t.Errorf("expected every tip account once, saw %d distinct", len(seen))
	}
}
