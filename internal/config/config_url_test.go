package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewManagerFromFile(t *testing.T) {
	tmpConfig := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
rpc:
    primary_url: https://rpc.shyft.to
    fallback_url: https://mainnet.helius-rpc.com
    primary_api_key_env: TEST_PRIMARY_KEY
    fallback_api_key_env: TEST_HELIUS_KEY
transfer:
    priority_fee_lamports: 5000
    relay_tip_lamports: 10000
    poll_attempts: 5
`)
	if err := os.WriteFile(tmpConfig, content, 0644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("TEST_PRIMARY_KEY", "shyft-123")
	os.Setenv("TEST_HELIUS_KEY", "helius-456")
	defer os.Unsetenv("TEST_PRIMARY_KEY")
	defer os.Unsetenv("TEST_HELIUS_KEY")

	m, err := NewManager(tmpConfig)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	got := m.GetPrimaryRPCURL()
	want := "https://rpc.shyft.to?api_key=shyft-123"
	if got != want {
		t.Errorf("GetPrimaryRPCURL() = %q, want %q", got, want)
	}

	got = m.GetFallbackRPCURL()
	want = "https://mainnet.helius-rpc.com?api-key=helius-456"
	if got != want {
		t.Errorf("GetFallbackRPCURL() = %q, want %q", got, want)
	}

	tc := m.GetTransfer()
	if tc.PriorityFeeLamports != 5000 || tc.RelayTipLamports != 10000 {
		t.Errorf("unexpected fees: %+v", tc)
	}
	if tc.PollAttempts != 5 {
		t.Errorf("expected 5 poll attempts, got %d", tc.PollAttempts)
	}
	// Defaults fill the rest
	if tc.MaxSubmissions != 100 {
		t.Errorf("expected default 100 submissions, got %d", tc.MaxSubmissions)
	}
	if m.Get().Storage.SQLitePath != "./data/bot.db" {
		t.Errorf("unexpected sqlite path %q", m.Get().Storage.SQLitePath)
	}
}
