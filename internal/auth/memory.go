package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"shoplist.app/internal/ids"
)

var _ CredentialStore = (*MemoryStore)(nil)

// MemoryStore implements CredentialStore with in-process concurrency safety.
// It backs tests and local runs without a database.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Identity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Identity)}
}

func (m *MemoryStore) CreateIdentity(_ context.Context, username, passwordHash string, isAdmin bool) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.byID {
		if id.Username == username {
			return Identity{}, ErrConflict
		}
	}
	id := Identity{
		ID:           ids.NewIdentity(),
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	m.byID[id.ID] = id
	return id, nil
}

func (m *MemoryStore) FindByUsername(_ context.Context, username string) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.byID {
		if id.Username == username {
			return id, nil
		}
	}
	return Identity{}, ErrNotFound
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found, ok := m.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return found, nil
}

func (m *MemoryStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	found.PasswordHash = passwordHash
	m.byID[id] = found
	return nil
}

func (m *MemoryStore) ListIdentities(context.Context) ([]IdentitySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]IdentitySummary, 0, len(m.byID))
	for _, id := range m.byID {
		id.PasswordHash = ""
		out = append(out, IdentitySummary{Identity: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ToggleAdmin(_ context.Context, id string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found, ok := m.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	found.IsAdmin = !found.IsAdmin
	m.byID[id] = found
	return found, nil
}

func (m *MemoryStore) DeleteIdentity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	return nil
}
