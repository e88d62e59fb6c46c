package wallet

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// nonceBytes is the entropy of a nonce value (128 bits).
const nonceBytes = 16

// expiredGrace is how long an expired or consumed nonce record is retained
// so that late logins fail with the precise error instead of UnknownNonce.
const expiredGrace = 5 * time.Minute

// Nonce is a single-use authentication challenge bound to one public key.
type Nonce struct {
	ID          string
	OwnerPubKey string
	Value       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// TTL returns the remaining lifetime of the nonce.
func (n *Nonce) TTL() time.Duration {
	ttl := time.Until(n.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// NonceStore issues and single-use-consumes authentication challenges.
// A nonce is usable at most once, and only before expiry. Consume is atomic:
// under concurrent logins with the same nonce, at most one call succeeds.
type NonceStore interface {
	// Issue creates a fresh nonce for the public key, replacing any
	// previous unconsumed one.
	Issue(ctx context.Context, pubkey string, ttl time.Duration) (*Nonce, error)

	// Peek returns the current nonce state without consuming it.
	// Returns ErrUnknownNonce, ErrNonceExpired, or ErrNonceConsumed when
	// the presented value is not usable.
	Peek(ctx context.Context, pubkey, value string) error

	// Consume atomically marks the nonce consumed. Exactly one concurrent
	// caller wins; the rest get ErrNonceConsumed.
	Consume(ctx context.Context, pubkey, value string) error

	// Close releases store resources.
	Close() error
}

// newNonceValue returns a fresh base58-encoded random nonce value.
func newNonceValue() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base58.Encode(buf), nil
}

// memoryRecord is the in-memory nonce state for one public key.
type memoryRecord struct {
	value     string
	expiresAt time.Time
	consumed  bool
}

// MemoryNonceStore keeps nonces in process memory. One live nonce per
// public key; issuing replaces the previous record.
type MemoryNonceStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewMemoryNonceStore creates an in-memory nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	s := &MemoryNonceStore{
		records:   make(map[string]*memoryRecord),
		stopSweep: make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *MemoryNonceStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *MemoryNonceStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for pubkey, rec := range s.records {
		if now.After(rec.expiresAt.Add(expiredGrace)) {
			delete(s.records, pubkey)
		}
	}
}

// Issue implements NonceStore.
func (s *MemoryNonceStore) Issue(_ context.Context, pubkey string, ttl time.Duration) (*Nonce, error) {
	value, err := newNonceValue()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	nonce := &Nonce{
		ID:          uuid.New().String(),
		OwnerPubKey: pubkey,
		Value:       value,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}

	s.mu.Lock()
	s.records[pubkey] = &memoryRecord{value: value, expiresAt: nonce.ExpiresAt}
	s.mu.Unlock()

	return nonce, nil
}

// Peek implements NonceStore.
func (s *MemoryNonceStore) Peek(_ context.Context, pubkey, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(pubkey, value)
}

// Consume implements NonceStore. The check and the consumed-flag flip happen
// under one lock, so two concurrent logins cannot both pass.
func (s *MemoryNonceStore) Consume(_ context.Context, pubkey, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(pubkey, value); err != nil {
		return err
	}
	s.records[pubkey].consumed = true
	return nil
}

// checkLocked validates the presented nonce. Callers hold s.mu.
func (s *MemoryNonceStore) checkLocked(pubkey, value string) error {
	rec, ok := s.records[pubkey]
	if !ok || rec.value != value {
		return ErrUnknownNonce
	}
	if rec.consumed {
		return ErrNonceConsumed
	}
	if time.Now().After(rec.expiresAt) {
		return ErrNonceExpired
	}
	return nil
}

// Close implements NonceStore.
func (s *MemoryNonceStore) Close() error {
	s.sweepOnce.Do(func() {
		close(s.stopSweep)
	})
	return nil
}
