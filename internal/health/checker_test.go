package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckRecordsStatuses(t *testing.T) {
	c := NewChecker(time.Hour,
		Probe{Name: "RPC", Check: func(ctx context.Context) error { return nil }},
		Probe{Name: "TradeAPI", Check: func(ctx context.Context) error { return errors.New("connection refused") }},
	)

	statuses := c.Check(context.Background())
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Healthy || statuses[1].Healthy {
		t.Errorf("unexpected statuses: %+v", statuses)
	}
	if statuses[1].Error != "connection refused" {
		t.Errorf("expected error text, got %q", statuses[1].Error)
	}
	if c.Healthy() {
		t.Error("checker should be unhealthy when a probe fails")
	}
	if got := c.GetStatuses(); len(got) != 2 || got[0].Name != "RPC" {
		t.Errorf("unexpected stored statuses: %+v", got)
	}
}

func TestProbeTimeout(t *testing.T) {
	c := NewChecker(time.Hour, Probe{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	c.timeout = 10 * time.Millisecond

	statuses := c.Check(context.Background())
	if statuses[0].Healthy {
		t.Error("expected timeout to mark the probe unhealthy")
	}
}

func TestStartRunsInitialCheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewChecker(0, Probe{Name: "ok", Check: func(ctx context.Context) error { return nil }})
	c.Start(ctx)
	if !c.Healthy() || len(c.GetStatuses()) != 1 {
		t.Error("expected an initial healthy status")
	}
}
