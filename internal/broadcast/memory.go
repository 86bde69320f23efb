package broadcast

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. It backs tests
// and single-process development runs.
type InMemory struct {
	mu        sync.RWMutex
	seq       int64
	items     map[int64]Broadcast
	confirms  map[int64]map[string]time.Time // broadcast -> user -> confirmed_at
	userCount int64
	now       func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		items:    make(map[int64]Broadcast),
		confirms: make(map[int64]map[string]time.Time),
		now:      time.Now,
	}
}

// SetUserCount sets the total reported in summaries.
func (s *InMemory) SetUserCount(n int64) {
	s.mu.Lock()
	s.userCount = n
	s.mu.Unlock()
}

func (s *InMemory) CreateBroadcast(_ context.Context, d Draft) (Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	b := Broadcast{
		ID:                   s.seq,
		Title:                d.Title,
		Message:              d.Message,
		Severity:             d.Severity,
		RequiresConfirmation: d.RequiresConfirmation,
		Permanent:            d.Permanent,
		Active:               true,
		ExpiresAt:            d.ExpiresAt,
		CreatedAt:            s.now().UTC(),
	}
	s.items[b.ID] = b
	return b, nil
}

func (s *InMemory) ActiveForUser(_ context.Context, userID string) ([]UserBroadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UserBroadcast, 0, len(s.items))
	for id, b := range s.items {
		if !b.Active {
			continue
		}
		ub := UserBroadcast{Broadcast: b}
		if at, ok := s.confirms[id][userID]; ok {
			at := at
			ub.Confirmed = true
			ub.ConfirmedAt = &at
		}
		out = append(out, ub)
	}
	return out, nil
}

func (s *InMemory) Confirm(_ context.Context, broadcastID int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[broadcastID]; !ok {
		return ErrNotFound
	}
	users := s.confirms[broadcastID]
	if users == nil {
		users = make(map[string]time.Time)
		s.confirms[broadcastID] = users
	}
	if _, ok := users[userID]; !ok {
		users[userID] = s.now().UTC()
	}
	return nil
}

// ConfirmationCount returns the number of confirmations for id.
func (s *InMemory) ConfirmationCount(id int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.confirms[id])
}

func (s *InMemory) ToggleActive(_ context.Context, id int64) (Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.items[id]
	if !ok {
		return Broadcast{}, ErrNotFound
	}
	b.Active = !b.Active
	s.items[id] = b
	return b, nil
}

func (s *InMemory) DeleteBroadcast(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	delete(s.confirms, id)
	return nil
}

func (s *InMemory) ListBroadcasts(context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.items))
	for id, b := range s.items {
		out = append(out, Summary{
			Broadcast:         b,
			ConfirmationCount: int64(len(s.confirms[id])),
			TotalUsers:        s.userCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
