package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"solana-custody-bot/internal/transfer"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "data", "bot.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWallets(t *testing.T) {
	db := newTestDB(t)

	if _, exists, err := db.CheckWallet(42); err != nil || exists {
		t.Fatalf("expected no wallet, got exists=%v err=%v", exists, err)
	}

	if err := db.SaveWallet(&WalletRecord{UserID: 42, PublicKey: "pub", PrivateKey: "secret"}); err != nil {
		t.Fatal(err)
	}
	w, exists, err := db.CheckWallet(42)
	if err != nil || !exists {
		t.Fatalf("expected wallet, got exists=%v err=%v", exists, err)
	}
	if w.PublicKey != "pub" || w.PrivateKey != "secret" || w.Chain != "solana" || w.CreatedAt == 0 {
		t.Errorf("unexpected wallet: %+v", w)
	}

	// Import replaces
	if err := db.SaveWallet(&WalletRecord{UserID: 42, PublicKey: "pub2", PrivateKey: "secret2"}); err != nil {
		t.Fatal(err)
	}
	w, _, _ = db.CheckWallet(42)
	if w.PublicKey != "pub2" {
		t.Errorf("expected replaced wallet, got %s", w.PublicKey)
	}

	if err := db.DeleteWallet(42); err != nil {
		t.Fatal(err)
	}
	if _, exists, _ := db.CheckWallet(42); exists {
		t.Error("wallet should be gone")
	}
}

func TestTradesAndStats(t *testing.T) {
	db := newTestDB(t)

	trades := []*Trade{
		{UserID: 1, Side: SideBuy, Mint: "M1", Amount: 100, AmountOut: 5000, Signature: "s1", Status: "success", Timestamp: 10},
		{UserID: 1, Side: SideSell, Mint: "M1", Amount: 5000, AmountOut: 90, Signature: "s2", Status: "failed", Timestamp: 20},
		{UserID: 1, Side: SideWithdraw, Mint: "SOL", Amount: 7, Signature: "s3", Status: "success", Timestamp: 30},
		{UserID: 2, Side: SideBuy, Mint: "M2", Amount: 1, Status: "success", Timestamp: 40},
	}
	for _, tr := range trades {
		if err := db.InsertTrade(tr); err != nil {
			t.Fatal(err)
		}
		if tr.ID == 0 {
			t.Error("expected insert to set the ID")
		}
	}

	recent, err := db.GetRecentTrades(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Signature != "s3" || recent[1].Signature != "s2" {
		t.Errorf("unexpected recent trades: %+v", recent)
	}

	total, ok, err := db.GetTradingStats(1)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || ok != 2 {
		t.Errorf("stats = %d/%d, want 3/2", total, ok)
	}

	total, ok, err = db.GetTradingStats(99)
	if err != nil || total != 0 || ok != 0 {
		t.Errorf("empty stats = %d/%d err %v", total, ok, err)
	}
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)

	if _, found, err := db.GetSettings(5); err != nil || found {
		t.Fatalf("expected no settings, found=%v err=%v", found, err)
	}
	want := &Settings{UserID: 5, SlippageBps: 300, PriorityFeeLamports: 20_000, JitoTipLamports: 10_000}
	if err := db.SaveSettings(want); err != nil {
		t.Fatal(err)
	}
	got, found, err := db.GetSettings(5)
	if err != nil || !found {
		t.Fatalf("expected settings, found=%v err=%v", found, err)
	}
	if *got != *want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestAttemptLog(t *testing.T) {
	db := newTestDB(t)
	log := db.Attempts()
	ctx := context.Background()

	base := time.Now()
	for i, sig := range []string{"sigA", "sigB"} {
		err := log.Record(ctx, transfer.Attempt{
			IdempotencyKey:        "key-1",
			Signature:             sig,
			Source:                "src",
			Destination:           "dst",
			Asset:                 "SOL",
			Amount:                1_000_000,
			DestinationPreBalance: 50,
			LastValidBlockHeight:  uint64(100 + i),
			Status:                transfer.StatusSubmitted,
			CreatedAt:             base.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := log.SetStatus(ctx, "key-1", "sigA", transfer.StatusExpired); err != nil {
		t.Fatal(err)
	}

	got, err := log.Attempts(ctx, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(got))
	}
	if got[0].Signature != "sigA" || got[0].Status != transfer.StatusExpired || got[0].LastValidBlockHeight != 100 {
		t.Errorf("unexpected first attempt: %+v", got[0])
	}
	if got[1].Status != transfer.StatusSubmitted || got[1].DestinationPreBalance != 50 || got[1].Amount != 1_000_000 {
		t.Errorf("unexpected second attempt: %+v", got[1])
	}

	none, err := log.Attempts(ctx, "other")
	if err != nil || len(none) != 0 {
		t.Errorf("expected no attempts for unknown key, got %v %v", none, err)
	}
	if err := db.Ping(); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
