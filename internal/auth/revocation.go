package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// RevocationRegistry holds tokens invalidated before their natural expiry.
// It is consulted by the request gate before signature validation.
type RevocationRegistry interface {
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// TokenDigest returns the stable key under which a token is revoked.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var _ RevocationRegistry = (*MemoryRegistry)(nil)

// MemoryRegistry is a process-local revocation set. It starts empty on every
// process start.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	onSize  func(int)
}

// NewMemoryRegistry returns an empty registry. onSize, when non-nil, observes the
// entry count after every change.
func NewMemoryRegistry(onSize func(int)) *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[string]time.Time),
		onSize:  onSize,
	}
}

// Revoke adds the token digest. A zero expiresAt keeps the entry until restart.
func (r *MemoryRegistry) Revoke(_ context.Context, token string, expiresAt time.Time) error {
	key := TokenDigest(token)
	r.mu.Lock()
	if prev, ok := r.entries[key]; !ok || expiresAt.After(prev) || expiresAt.IsZero() {
		r.entries[key] = expiresAt
	}
	n := len(r.entries)
	r.mu.Unlock()
	r.observe(n)
	return nil
}

// IsRevoked reports set membership.
func (r *MemoryRegistry) IsRevoked(_ context.Context, token string) (bool, error) {
	key := TokenDigest(token)
	r.mu.RLock()
	_, ok := r.entries[key]
	r.mu.RUnlock()
	return ok, nil
}

// Len returns the number of held entries.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Compact drops entries whose token expiry has passed; those tokens already fail
// validation on their own. It returns the number of removed entries.
func (r *MemoryRegistry) Compact(now time.Time) int {
	r.mu.Lock()
	removed := 0
	for key, exp := range r.entries {
		if !exp.IsZero() && !exp.After(now) {
			delete(r.entries, key)
			removed++
		}
	}
	n := len(r.entries)
	r.mu.Unlock()
	if removed > 0 {
		r.observe(n)
	}
	return removed
}

func (r *MemoryRegistry) observe(n int) {
	if r.onSize != nil {
		r.onSize(n)
	}
}
