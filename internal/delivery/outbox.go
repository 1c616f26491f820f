// ABOUTME: Per-conversation visible message sequence with optimistic entries
// ABOUTME: Entries are a tagged union: Pending(tempID) or Confirmed(durableID)

package delivery

import (
	"errors"
	"sync"
	"time"

	"github.com/relaydesk/inbox-core/internal/store"
)

// ErrEntryNotFound is returned when a confirm or rollback targets a temp ID
// that is not staged.
var ErrEntryNotFound = errors.New("staged entry not found")

// Entry is one item in a conversation's visible message sequence. Exactly
// one of the two constructors applies; the tag makes reconcile and rollback
// exhaustive operations instead of array searches.
type Entry interface {
	isEntry()
}

// Pending is an optimistic entry awaiting gateway confirmation. PreviewURL
// carries the locally-rendered media preview until the durable URL is
// confirmed.
type Pending struct {
	TempID     string
	Content    string
	Type       string
	PreviewURL string
	MimeType   string
	Filename   string
	Duration   int
	StagedAt   time.Time
}

func (Pending) isEntry() {}

// Confirmed wraps a persisted message with its durable identity.
type Confirmed struct {
	Message *store.Message
}

func (Confirmed) isEntry() {}

// Outbox is the client-visible message sequence for one conversation.
// Staged entries appear immediately after the current last entry; the
// staged-to-confirmed swap keeps the entry's position, so confirmation
// never reorders the sequence.
type Outbox struct {
	mu      sync.Mutex
	entries []Entry
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Seed initializes the sequence from persisted history. Used when a session
// opens a conversation.
func (o *Outbox) Seed(messages []*store.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.entries = make([]Entry, 0, len(messages))
	for _, m := range messages {
		o.entries = append(o.entries, Confirmed{Message: m})
	}
}

// Stage appends a pending entry after the current last entry.
func (o *Outbox) Stage(p Pending) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, p)
}

// Confirm replaces the pending entry with the persisted message, in place.
// The sequence length is unchanged: never zero entries for the send, never
// two.
func (o *Outbox) Confirm(tempID string, msg *store.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, entry := range o.entries {
		if p, ok := entry.(Pending); ok && p.TempID == tempID {
			o.entries[i] = Confirmed{Message: msg}
			return nil
		}
	}
	return ErrEntryNotFound
}

// Rollback removes the pending entry and returns it so the operator can
// recover the draft. After rollback the sequence is identical to its state
// before the send was staged.
func (o *Outbox) Rollback(tempID string) (Pending, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, entry := range o.entries {
		if p, ok := entry.(Pending); ok && p.TempID == tempID {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			return p, nil
		}
	}
	return Pending{}, ErrEntryNotFound
}

// Snapshot returns a copy of the current sequence.
func (o *Outbox) Snapshot() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Entry, len(o.entries))
	copy(out, o.entries)
	return out
}

// Len returns the current entry count.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
