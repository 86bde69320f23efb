package broadcast

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Store persists broadcasts and confirmations.
type Store interface {
	CreateBroadcast(ctx context.Context, d Draft) (Broadcast, error)
	// ActiveForUser returns active broadcasts annotated with userID's
	// confirmation. Expiry and confirmation filtering happen in the engine.
	ActiveForUser(ctx context.Context, userID string) ([]UserBroadcast, error)
	// Confirm inserts the confirmation if absent. Unknown broadcasts yield
	// ErrNotFound.
	Confirm(ctx context.Context, broadcastID int64, userID string) error
	ToggleActive(ctx context.Context, id int64) (Broadcast, error)
	DeleteBroadcast(ctx context.Context, id int64) error
	ListBroadcasts(ctx context.Context) ([]Summary, error)
}

// IsVisible decides whether b belongs in a user's visible set at now. A
// permanent broadcast stays visible after confirmation; a broadcast that does
// not require confirmation is never hidden by one.
func IsVisible(b Broadcast, confirmed bool, now time.Time) bool {
	if !b.Active || b.Expired(now) {
		return false
	}
	return !b.RequiresConfirmation || !confirmed || b.Permanent
}

// ChangeKind names an administrator mutation.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeToggled ChangeKind = "toggled"
	ChangeDeleted ChangeKind = "deleted"
)

// Notifier is told about successful administrator mutations so connected
// clients can refresh their visible set.
type Notifier interface {
	BroadcastChanged(kind ChangeKind, id int64)
}

// Engine computes visible sets and applies administrator mutations.
type Engine struct {
	store    Store
	now      func() time.Time
	notifier Notifier
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Visible returns userID's visible broadcasts, newest first. It is evaluated on
// every call.
func (e *Engine) Visible(ctx context.Context, userID string) ([]UserBroadcast, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	items, err := e.store.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]UserBroadcast, 0, len(items))
	for _, it := range items {
		if IsVisible(it.Broadcast, it.Confirmed, now) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Confirm records userID's acknowledgement. Repeating it is a no-op.
func (e *Engine) Confirm(ctx context.Context, broadcastID int64, userID string) error {
	if broadcastID <= 0 {
		return fmt.Errorf("%w: broadcast id must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return e.store.Confirm(ctx, broadcastID, userID)
}

// Create validates and stores a new active broadcast.
func (e *Engine) Create(ctx context.Context, d Draft) (Broadcast, error) {
	d.Title = strings.TrimSpace(d.Title)
	d.Message = strings.TrimSpace(d.Message)
	if d.Title == "" || d.Message == "" {
		return Broadcast{}, fmt.Errorf("%w: title and message are required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(d.Title) > MaxTitleLen {
		return Broadcast{}, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, MaxTitleLen)
	}
	if utf8.RuneCountInString(d.Message) > MaxMessageLen {
		return Broadcast{}, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, MaxMessageLen)
	}
	if d.Severity == "" {
		d.Severity = SeverityInfo
	}
	if !d.Severity.Valid() {
		return Broadcast{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, d.Severity)
	}
	if d.ExpiresAt != nil {
		if !d.ExpiresAt.After(e.now()) {
			return Broadcast{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
		}
		exp := d.ExpiresAt.UTC()
		d.ExpiresAt = &exp
	}
	b, err := e.store.CreateBroadcast(ctx, d)
	if err != nil {
		return Broadcast{}, err
	}
	e.notify(ChangeCreated, b.ID)
	return b, nil
}

func (e *Engine) ToggleActive(ctx context.Context, id int64) (Broadcast, error) {
	if id <= 0 {
		return Broadcast{}, fmt.Errorf("%w: broadcast id must be positive", ErrInvalidInput)
	}
	b, err := e.store.ToggleActive(ctx, id)
	if err != nil {
		return Broadcast{}, err
	}
	e.notify(ChangeToggled, b.ID)
	return b, nil
}

func (e *Engine) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: broadcast id must be positive", ErrInvalidInput)
	}
	if err := e.store.DeleteBroadcast(ctx, id); err != nil {
		return err
	}
	e.notify(ChangeDeleted, id)
	return nil
}

// List returns every broadcast with confirmation counts, newest first.
func (e *Engine) List(ctx context.Context) ([]Summary, error) {
	return e.store.ListBroadcasts(ctx)
}

func (e *Engine) notify(kind ChangeKind, id int64) {
	if e.notifier != nil {
		e.notifier.BroadcastChanged(kind, id)
	}
}
