package reset

import (
	"context"
	"errors"
	"sync"
	"time"

	"MusicFlow/core/clock"
)

// ErrNotFound is returned by a Store when a key is missing or expired.
var ErrNotFound = errors.New("reset entry not found")

// Store keeps reset tokens and hashed codes with a time to live.
type Store interface {
	SaveToken(ctx context.Context, token string, userID int64, ttl time.Duration) error
	// TakeToken returns the user of token and deletes it.
	TakeToken(ctx context.Context, token string) (int64, error)
	DeleteToken(ctx context.Context, token string) error

	SaveCode(ctx context.Context, userID int64, hash string, ttl time.Duration) error
	// Code returns the stored hash and the failed attempts so far.
	Code(ctx context.Context, userID int64) (hash string, attempts int, err error)
	// FailAttempt records a failed attempt and returns the new count.
	FailAttempt(ctx context.Context, userID int64) (int, error)
	DeleteCode(ctx context.Context, userID int64) error
}

type memoryEntry struct {
	userID   int64
	hash     string
	attempts int
	expires  time.Time
}

// MemoryStore is a Store kept in process memory. Expiry is checked against
// the given clock on read.
type MemoryStore struct {
	clock clock.Clock

	mu     sync.Mutex
	tokens map[string]memoryEntry
	codes  map[int64]memoryEntry
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryStore{
		clock:  c,
		tokens: make(map[string]memoryEntry),
		codes:  make(map[int64]memoryEntry),
	}
}

func (m *MemoryStore) SaveToken(_ context.Context, token string, userID int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = memoryEntry{userID: userID, expires: m.clock.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) TakeToken(_ context.Context, token string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tokens[token]
	delete(m.tokens, token)
	if !ok || !m.clock.Now().Before(e.expires) {
		return 0, ErrNotFound
	}
	return e.userID, nil
}

func (m *MemoryStore) DeleteToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *MemoryStore) SaveCode(_ context.Context, userID int64, hash string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[userID] = memoryEntry{userID: userID, hash: hash, expires: m.clock.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Code(_ context.Context, userID int64) (string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(userID)
	if !ok {
		return "", 0, ErrNotFound
	}
	return e.hash, e.attempts, nil
}

func (m *MemoryStore) FailAttempt(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(userID)
	if !ok {
		return 0, ErrNotFound
	}
	e.attempts++
	m.codes[userID] = e
	return e.attempts, nil
}

func (m *MemoryStore) DeleteCode(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, userID)
	return nil
}

// live must be called with m.mu held.
func (m *MemoryStore) live(userID int64) (memoryEntry, bool) {
	e, ok := m.codes[userID]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.clock.Now().Before(e.expires) {
		delete(m.codes, userID)
		return memoryEntry{}, false
	}
	return e, true
}
