// Package noncestore tracks consumed replay-prevention tokens. Each
// family's primitive (explicit nonce, blockhash expiry, delegate nonce,
// group id, object version) is normalized by its adapter into a single
// string key, so the store never special-cases families.
//
// Key formats:
//
//	{network}#{payer}#{nonce}    explicit per-payer nonces (EVM, NEAR, Stellar)
//	{network}#group#{hex}        Algorand atomic-group ids
//	{network}#digest#{digest}    Sui transaction digests
//
// The store is optional: its absence degrades to "no dedup", never a crash.
package noncestore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrAlreadyUsed reports a replay attempt.
type ErrAlreadyUsed struct{ Key string }

func (e ErrAlreadyUsed) Error() string {
	return fmt.Sprintf("replay token already used: %s", e.Key)
}

// Store is the replay-token ledger. CheckAndMarkUsed must be atomic:
// two concurrent calls for the same key must not both succeed.
type Store interface {
	// CheckAndMarkUsed marks key as consumed, failing with ErrAlreadyUsed
	// if a live entry exists. ttl bounds how long the entry is retained.
	CheckAndMarkUsed(ctx context.Context, key string, ttl time.Duration) error

	// IsUsed reports whether key has a live entry, without marking.
	IsUsed(ctx context.Context, key string) (bool, error)

	// Healthy reports whether the store can currently serve reads and
	// writes. Readiness probes call it; adapters do not.
	Healthy(ctx context.Context) error
}

// Key builds the per-payer nonce key.
func Key(network, payer, nonce string) string {
	return fmt.Sprintf("%s#%s#%s", network, payer, nonce)
}

// GroupKey builds the atomic-group key.
func GroupKey(network, groupHex string) string {
	return fmt.Sprintf("%s#group#%s", network, groupHex)
}

// DigestKey builds the transaction-digest key.
func DigestKey(network, digest string) string {
	return fmt.Sprintf("%s#digest#%s", network, digest)
}

// MemoryStore is the in-process implementation. Entries do not survive a
// restart, so replay protection after restart relies on the authorization
// validity window alone.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]time.Time // key -> expiry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (m *MemoryStore) CheckAndMarkUsed(_ context.Context, key string, ttl time.Duration) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.data[key]; ok {
		if exp.After(now) {
			return ErrAlreadyUsed{Key: key}
		}
		delete(m.data, key)
	}
	m.data[key] = now.Add(ttl)
	return nil
}

func (m *MemoryStore) IsUsed(_ context.Context, key string) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.data[key]
	return ok && exp.After(now), nil
}

func (m *MemoryStore) Healthy(context.Context) error { return nil }
