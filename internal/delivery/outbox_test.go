// ABOUTME: Tests for the tagged optimistic entry sequence
// ABOUTME: Confirms positional stability of the staged-to-confirmed swap

package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/inbox-core/internal/store"
)

func TestOutbox_ConfirmSwapsInPlace(t *testing.T) {
	ob := NewOutbox()
	ob.Seed([]*store.Message{
		{ID: "m1", Content: "earlier"},
	})

	pending := Pending{TempID: "tmp-1", Content: "hello", Type: store.MessageTypeText, StagedAt: time.Now()}
	ob.Stage(pending)
	require.Equal(t, 2, ob.Len())

	msg := &store.Message{ID: "m2", Content: "hello"}
	require.NoError(t, ob.Confirm("tmp-1", msg))

	entries := ob.Snapshot()
	require.Len(t, entries, 2, "entry count unchanged across the swap")

	confirmed, ok := entries[1].(Confirmed)
	require.True(t, ok, "staged entry must become Confirmed at the same position")
	assert.Equal(t, "m2", confirmed.Message.ID)
}

func TestOutbox_RollbackRestoresSequence(t *testing.T) {
	ob := NewOutbox()
	ob.Seed([]*store.Message{{ID: "m1"}, {ID: "m2"}})
	before := ob.Snapshot()

	ob.Stage(Pending{TempID: "tmp-1", Content: "draft text"})

	draft, err := ob.Rollback("tmp-1")
	require.NoError(t, err)
	assert.Equal(t, "draft text", draft.Content)

	after := ob.Snapshot()
	assert.Equal(t, before, after, "sequence must be identical to pre-stage state")
}

func TestOutbox_UnknownTempID(t *testing.T) {
	ob := NewOutbox()

	assert.ErrorIs(t, ob.Confirm("missing", &store.Message{}), ErrEntryNotFound)
	_, err := ob.Rollback("missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}
