// Package session holds per-user chat state with idle eviction.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-custody-bot/internal/storage"
)

// Draft collects a multi-step buy, sell or withdrawal before it runs
type Draft struct {
	Mint        string
	Amount      uint64
	Destination string
	// IdempotencyKey is fixed when a withdrawal is prepared so a repeated
	// confirmation cannot start a second transfer
	IdempotencyKey string
}

// Session is one user's conversation state
type Session struct {
	mu sync.Mutex

	UserID   int64
	Pending  string // action awaiting free text input, empty when idle
	Draft    Draft
	Settings storage.Settings
	lastSeen time.Time
}

// Lock serializes handlers for the same user
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session
func (s *Session) Unlock() { s.mu.Unlock() }

// Reset clears any pending input and draft
func (s *Session) Reset() {
	s.Pending = ""
	s.Draft = Draft{}
}

// SettingsStore loads saved settings; *storage.DB satisfies it
type SettingsStore interface {
	GetSettings(userID int64) (*storage.Settings, bool, error)
}

// Manager owns all live sessions
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	ttl      time.Duration
	store    SettingsStore
	defaults storage.Settings
	now      func() time.Time

	// OnSize is called with the session count after it changes. Optional.
	OnSize func(n int)
}

// NewManager creates a manager evicting sessions idle for longer than ttl
func NewManager(ttl time.Duration, store SettingsStore, defaults storage.Settings) *Manager {
	return &Manager{
		sessions: make(map[int64]*Session),
		ttl:      ttl,
		store:    store,
		defaults: defaults,
		now:      time.Now,
	}
}

// Get returns the user's session, creating it on first use, and marks it active
func (m *Manager) Get(userID int64) *Session {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		s.lastSeen = m.now()
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()

	// Load outside the lock; a racing Get keeps whichever lands first
	settings := m.defaults
	settings.UserID = userID
	if m.store != nil {
		saved, found, err := m.store.GetSettings(userID)
		if err != nil {
			log.Warn().Err(err).Int64("user", userID).Msg("failed to load settings, using defaults")
		} else if found {
			settings = *saved
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		s.lastSeen = m.now()
		return s
	}
	s = &Session{UserID: userID, Settings: settings, lastSeen: m.now()}
	m.sessions[userID] = s
	m.report()
	return s
}

// Drop removes a user's session immediately
func (m *Manager) Drop(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	m.report()
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Evict removes sessions idle longer than the TTL and returns how many went
func (m *Manager) Evict() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	evicted := 0
	for id, s := range m.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Int("remaining", len(m.sessions)).Msg("sessions evicted")
		m.report()
	}
	return evicted
}

// Start sweeps idle sessions every interval until ctx is done
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Evict()
			}
		}
	}()
}

func (m *Manager) report() {
	if m.OnSize != nil {
		m.OnSize(len(m.sessions))
	}
}
