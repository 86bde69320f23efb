package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier. Audit records use it so that
// ordering by id matches insertion order within one process.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a sortable identifier whose time component is t.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewIdentity returns a random identifier for user accounts.
func NewIdentity() string {
	return uuid.NewString()
}

// ValidIdentity reports whether s is a well-formed identity identifier.
func ValidIdentity(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
