package transfer

import (
	"context"
	"sync"
	"time"
)

// Attempt statuses
const (
	StatusSubmitted  = "submitted"
	StatusConfirmed  = "confirmed"
	StatusRejected   = "rejected"
	StatusExpired    = "expired"
	StatusUnverified = "unverified"
	StatusTimedOut   = "timed_out"
)

// Attempt is one signed submission made under an idempotency key
type Attempt struct {
	IdempotencyKey        string
	Signature             string
	Source                string
	Destination           string
	Asset                 string
	Amount                uint64
	DestinationPreBalance uint64
	LastValidBlockHeight  uint64
	Status                string
	CreatedAt             time.Time
}

// AttemptLog remembers submissions so a retry can check them before sending again
type AttemptLog interface {
	Record(ctx context.Context, a Attempt) error
	Attempts(ctx context.Context, key string) ([]Attempt, error)
	SetStatus(ctx context.Context, key, signature, status string) error
}

// MemoryAttemptLog is a process-local AttemptLog
type MemoryAttemptLog struct {
	mu       sync.Mutex
	attempts map[string][]Attempt
}

// NewMemoryAttemptLog creates an empty in-memory log
func NewMemoryAttemptLog() *MemoryAttemptLog {
	return &MemoryAttemptLog{attempts: make(map[string][]Attempt)}
}

func (m *MemoryAttemptLog) Record(ctx context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.attempts[a.IdempotencyKey] = append(m.attempts[a.IdempotencyKey], a)
	return nil
}

func (m *MemoryAttemptLog) Attempts(ctx context.Context, key string) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, len(m.attempts[key]))
	copy(out, m.attempts[key])
	return out, nil
}

func (m *MemoryAttemptLog) SetStatus(ctx context.Context, key, signature, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.attempts[key] {
		if m.attempts[key][i].Signature == signature {
			m.attempts[key][i].Status = status
		}
	}
	return nil
}
