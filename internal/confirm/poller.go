// Package confirm polls a submitted ledger operation until it is confirmed,
// rejected, or the attempt budget runs out.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrConfirmationExhausted means every attempt saw the operation as not yet visible
	ErrConfirmationExhausted = errors.New("confirmation exhausted")
	// ErrRejected means the ledger recorded the operation as failed
	ErrRejected = errors.New("rejected on ledger")
)

// Outcome of a single status lookup
type Outcome int

const (
	NotYetVisible Outcome = iota
	Confirmed
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	default:
		return "not_yet_visible"
	}
}

// Status is what a lookup reports for one receipt
type Status struct {
	Found      bool
	Err        interface{} // non-nil when the ledger recorded a failure
	Slot       uint64
	Commitment string // "processed", "confirmed", "finalized"
}

// StatusFunc looks up the current status of a receipt
type StatusFunc func(ctx context.Context, receipt string) (Status, error)

// Result is the final state of a Poll
type Result struct {
	Outcome    Outcome
	Receipt    string
	Slot       uint64
	Commitment string
	Reason     string
	Attempts   int
}

var commitmentRank = map[string]int{
	"processed": 1,
	"confirmed": 2,
	"finalized": 3,
}

// Classify maps a status onto an outcome for the given target commitment
func Classify(s Status, target string) Outcome {
	if !s.Found {
		return NotYetVisible
	}
	if s.Err != nil {
		return Rejected
	}
	want, ok := commitmentRank[target]
	if !ok {
		want = commitmentRank["confirmed"]
	}
	if commitmentRank[s.Commitment] >= want {
		return Confirmed
	}
	return NotYetVisible
}

// Poller spaces lookups with exponential backoff: the wait before attempt k
// is Base * 2^(k-1), capped by MaxInterval when it is non-zero.
type Poller struct {
	Base        time.Duration
	MaxAttempts int
	MaxInterval time.Duration
	Target      string

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Observe is called with the outcome of every lookup. Optional.
	Observe func(Outcome)
}

// NewPoller returns a poller targeting "confirmed" commitment
func NewPoller(base time.Duration, attempts int) *Poller {
	return &Poller{Base: base, MaxAttempts: attempts, Target: "confirmed"}
}

// Delay returns the wait before attempt k (1-based)
func (p *Poller) Delay(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	limit := time.Duration(math.MaxInt64)
	if p.MaxInterval > 0 {
		limit = p.MaxInterval
	}
	if p.Base <= 0 {
		return 0
	}
	// Saturate before a shift could push bits past the sign bit
	shift := k - 1
	if shift >= bits.LeadingZeros64(uint64(p.Base)) {
		return limit
	}
	if d := p.Base << shift; d < limit {
		return d
	}
	return limit
}

// Poll looks up receipt at most MaxAttempts times. It returns a Result with
// Outcome Confirmed on success. Rejection returns ErrRejected immediately and
// running out of attempts returns ErrConfirmationExhausted; both come with the
// Result so far.
func (p *Poller) Poll(ctx context.Context, receipt string, lookup StatusFunc) (*Result, error) {
	res := &Result{Outcome: NotYetVisible, Receipt: receipt}

	for k := 1; k <= p.MaxAttempts; k++ {
		if err := p.sleep(ctx, p.Delay(k)); err != nil {
			return res, err
		}

		res.Attempts = k
		st, err := lookup(ctx, receipt)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Warn().Err(err).Str("receipt", short(receipt)).Int("attempt", k).Msg("status lookup failed")
			p.observe(NotYetVisible)
			continue
		}

		outcome := Classify(st, p.Target)
		p.observe(outcome)
		switch outcome {
		case Confirmed:
			res.Outcome = Confirmed
			res.Slot = st.Slot
			res.Commitment = st.Commitment
			log.Debug().Str("receipt", short(receipt)).Int("attempt", k).Uint64("slot", st.Slot).Msg("confirmed")
			return res, nil
		case Rejected:
			res.Outcome = Rejected
			res.Slot = st.Slot
			res.Commitment = st.Commitment
			res.Reason = fmt.Sprintf("%v", st.Err)
			return res, fmt.Errorf("%w: %s", ErrRejected, res.Reason)
		}
	}

	return res, ErrConfirmationExhausted
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Poller) observe(o Outcome) {
	if p.Observe != nil {
		p.Observe(o)
	}
}

func short(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
