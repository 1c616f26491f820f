// ABOUTME: Tests for the agent registry
// ABOUTME: Presence events and capacity headroom against a real sqlite store

package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/inbox-core/internal/notify"
	"github.com/relaydesk/inbox-core/internal/store"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (c *capturedEvents) Publish(e *notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func newTestRegistry(t *testing.T) (*Registry, *store.SQLiteStore, *capturedEvents) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	events := &capturedEvents{}
	return New(s, events, nil), s, events
}

func TestRegister_GeneratesID(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	a := &store.Agent{UserRef: "u1", DisplayName: "Alice", MaxConcurrentChats: 3, IsActive: true}
	require.NoError(t, r.Register(ctx, a))
	require.NotEmpty(t, a.ID)

	got, err := r.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
}

func TestSetOnline_PublishesPresence(t *testing.T) {
	r, _, events := newTestRegistry(t)
	ctx := context.Background()

	a := &store.Agent{ID: "alice", UserRef: "u1", DisplayName: "Alice", IsActive: true}
	require.NoError(t, r.Register(ctx, a))

	require.NoError(t, r.SetOnline(ctx, "alice", true))
	require.NoError(t, r.SetOnline(ctx, "alice", false))

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.events, 2)
	assert.Equal(t, notify.EventAgentPresence, events.events[0].Type)
	assert.Equal(t, "online", events.events[0].Status)
	assert.Equal(t, "offline", events.events[1].Status)
}

func TestHeadroom(t *testing.T) {
	r, s, _ := newTestRegistry(t)
	ctx := context.Background()

	a := &store.Agent{ID: "alice", UserRef: "u1", DisplayName: "Alice", MaxConcurrentChats: 2, IsActive: true}
	require.NoError(t, r.Register(ctx, a))

	headroom, err := r.Headroom(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, headroom)

	// Give alice one conversation
	c := &store.Conversation{ID: uuid.New().String(), ExternalRef: "+551100001", DisplayName: "X", CreatedAt: time.Now()}
	require.NoError(t, s.CreateConversation(ctx, c))
	agentID := "alice"
	require.NoError(t, s.OpenAssignment(ctx, &store.Assignment{
		ID: uuid.New().String(), ConversationID: c.ID, AgentID: &agentID,
		Status: store.StatusActive, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	headroom, err = r.Headroom(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, headroom)
}

func TestHeadroom_UnlimitedWhenZeroCap(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	a := &store.Agent{ID: "bob", UserRef: "u2", DisplayName: "Bob", MaxConcurrentChats: 0, IsActive: true}
	require.NoError(t, r.Register(ctx, a))

	headroom, err := r.Headroom(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, -1, headroom)
}
