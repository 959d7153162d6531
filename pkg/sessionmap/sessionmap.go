// Package sessionmap holds the in-memory booking→chat-session
// correlation cache. Entries are valid for a bounded window; negative
// outcomes (permission denied, not found) are remembered for the same
// window so identical failing lookups are not re-issued back to back.
package sessionmap

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long an association is trusted before the
// caller must re-resolve from the network.
const DefaultTTL = 60 * time.Second

// Result classifies a Lookup outcome.
type Result int

const (
	// Miss: nothing usable cached; resolve from the network.
	Miss Result = iota
	// Hit: a fresh chat id was returned.
	Hit
	// DeniedRecently: a permission-denied marker is still fresh; the
	// caller should fail fast instead of re-probing.
	DeniedRecently
	// NotFoundRecently: a not-found marker is still fresh.
	NotFoundRecently
)

// Flags qualifies a recorded association with negative outcomes.
type Flags struct {
	PermissionDenied bool
	NotFound         bool
}

type entry struct {
	chatID    string
	createdAt time.Time
	flags     Flags
}

// Map correlates booking ids to chat session ids. Construct with New
// and pass to consumers; there is no package-level instance.
type Map struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
	// reverse is append-only for the process lifetime; it recovers a
	// booking id when an operation only has the chat id.
	reverse map[string]string
}

func New(ttl time.Duration) *Map {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Map{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
		reverse: make(map[string]string),
	}
}

// SetClock overrides the time source. Tests only.
func (m *Map) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Lookup returns the cached chat id for a booking. Expired entries and
// entries carrying a negative flag never yield a Hit; fresh negative
// entries report their marker so the caller can short-circuit.
func (m *Map) Lookup(bookingID string) (string, Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[bookingID]
	if !ok {
		return "", Miss
	}
	if m.now().Sub(e.createdAt) > m.ttl {
		delete(m.entries, bookingID)
		return "", Miss
	}
	if e.flags.PermissionDenied {
		return "", DeniedRecently
	}
	if e.flags.NotFound {
		return "", NotFoundRecently
	}
	if e.chatID == "" {
		return "", Miss
	}
	return e.chatID, Hit
}

// Record stores an association (or a negative outcome) for a booking,
// overwriting any prior entry. A non-empty chat id also feeds the
// reverse index.
func (m *Map) Record(bookingID, chatID string, flags Flags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[bookingID] = entry{chatID: chatID, createdAt: m.now(), flags: flags}
	if chatID != "" {
		m.reverse[chatID] = bookingID
	}
}

// ReverseLookup recovers the booking id for a chat session id.
func (m *Map) ReverseLookup(chatID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.reverse[chatID]
	return b, ok
}

// Len reports the number of forward entries, fresh or not.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
