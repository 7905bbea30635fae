package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"solana-custody-bot/internal/confirm"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Submitted()
	m.PollOutcome(confirm.NotYetVisible)
	m.PollOutcome(confirm.Confirmed)
	m.Finished("delivered", 3*time.Second)
	m.IncTrade("buy", "success")
	m.IncAction("withdraw", "ok")
	m.SetActiveSessions(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`custodybot_transfers_total{result="delivered"} 1`,
		`custodybot_transfer_submissions_total 1`,
		`custodybot_confirm_polls_total{outcome="not_yet_visible"} 1`,
		`custodybot_confirm_polls_total{outcome="confirmed"} 1`,
		`custodybot_trades_total{side="buy",status="success"} 1`,
		`custodybot_actions_total{action="withdraw",result="ok"} 1`,
		`custodybot_active_sessions 4`,
		`custodybot_transfer_duration_seconds_count 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestGatherer(t *testing.T) {
	m := New()
	m.Finished("timeout", time.Second)
	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Error("expected registered metric families")
	}
}
