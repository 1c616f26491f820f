// ABOUTME: Tests for the routing engine against a real sqlite ledger
// ABOUTME: Covers capacity enforcement, distribution policy, and event publishing

package routing

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

// recordingPublisher captures published events for assertions
type recordingPublisher struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (p *recordingPublisher) Publish(event *notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) byType(t notify.EventType) []*notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*notify.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestLedger(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createAgent(t *testing.T, s *store.SQLiteStore, id, department string, capacity int, online bool) {
	t.Helper()
	now := time.Now()
	require.NoError(t, s.CreateAgent(context.Background(), &store.Agent{
		ID:                 id,
		UserRef:            "user-" + id,
		DisplayName:        id,
		DepartmentID:       department,
		MaxConcurrentChats: capacity,
		IsOnline:           online,
		IsActive:           true,
		LastActivityAt:     &now,
	}))
}

func createConversation(t *testing.T, s *store.SQLiteStore) *store.Conversation {
	t.Helper()
	c := &store.Conversation{
		ID:          uuid.New().String(),
		ExternalRef: "+55119" + uuid.New().String()[:8],
		DisplayName: "Contact",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, s.CreateConversation(context.Background(), c))
	return c
}

func TestClaim_CapacityEnforced(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()
	pub := &recordingPublisher{}
	engine := New(s, pub, Config{EnforceCapacity: true}, nil)

	createAgent(t, s, "alice", "support", 1, true)

	// Alice claims her one allowed conversation
	first := createConversation(t, s)
	_, err := engine.EnqueueInbound(ctx, first.ID, "support")
	require.NoError(t, err)
	_, err = engine.Claim(ctx, first.ID, "alice")
	require.NoError(t, err)

	// Second claim fails with CapacityExceeded; conversation stays queued
	second := createConversation(t, s)
	_, err = engine.EnqueueInbound(ctx, second.ID, "support")
	require.NoError(t, err)
	_, err = engine.Claim(ctx, second.ID, "alice")
	assert.ErrorIs(t, err, store.ErrCapacityExceeded)

	a, err := s.GetOpenAssignment(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusTriage, a.Status)
	assert.Nil(t, a.AgentID)
}

func TestClaim_CapacityIgnoredWhenDisabled(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()
	engine := New(s, nil, Config{EnforceCapacity: false}, nil)

	createAgent(t, s, "alice", "support", 1, true)

	for i := 0; i < 3; i++ {
		c := createConversation(t, s)
		_, err := engine.EnqueueInbound(ctx, c.ID, "support")
		require.NoError(t, err)
		_, err = engine.Claim(ctx, c.ID, "alice")
		require.NoError(t, err)
	}

	count, err := s.CountOpenAssignments(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestClaim_ConcurrentAgentsSingleWinner(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()
	engine := New(s, nil, Config{}, nil)

	createAgent(t, s, "alice", "support", 5, true)
	createAgent(t, s, "bob", "support", 5, true)

	c := createConversation(t, s)
	_, err := engine.EnqueueInbound(ctx, c.ID, "support")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, agent := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(n int, agentID string) {
			defer wg.Done()
			_, errs[n] = engine.Claim(ctx, c.ID, agentID)
		}(i, agent)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, store.ErrOwnershipConflict)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestReleaseAndReclaim(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()
	engine := New(s, nil, Config{}, nil)

	createAgent(t, s, "alice", "support", 5, true)
	createAgent(t, s, "bob", "support", 5, true)

	c := createConversation(t, s)
	_, err := engine.EnqueueInbound(ctx, c.ID, "support")
	require.NoError(t, err)
	_, err = engine.Claim(ctx, c.ID, "alice")
	require.NoError(t, err)

	released, err := engine.Release(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, released.Status)
	assert.Nil(t, released.AgentID)

	// Another agent can now claim it
	claimed, err := engine.Claim(ctx, c.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", *claimed.AgentID)
}

func TestTransfer_MovesOwnershipAtomically(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()
	pub := &recordingPublisher{}
	engine := New(s, pub, Config{EnforceCapacity: true}, nil)

	createAgent(t, s, "alice", "support", 2, true)
	createAgent(t, s, "bob", "billing", 2, true)

	c := createConversation(t, s)
	_, err := engine.EnqueueInbound(ctx, c.ID, "support")
	require.NoError(t, err)
	_, err = engine.Claim(ctx, c.ID, "alice")
	require.NoError(t, err)

	transferred, err := engine.Transfer(ctx, c.ID, "bob", "billing")
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, transferred.Status)
	assert.Equal(t, "bob", *transferred.AgentID)
	assert.Equal(t, "billing", transferred.DepartmentID)

	events := pub.byType(notify.EventAssignmentChanged)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "bob", last.AgentID)
}

func TestSetStatus_InvalidRejected(t *testing.T) {
	s := newTestLedger(t)
	engine := New(s, nil, Config{}, nil)

	_, err := engine.SetStatus(context.Background(), "whatever", "resolved")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestSetStatus_CloseAndResume(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()
	engine := New(s, nil, Config{}, nil)

	createAgent(t, s, "alice", "support", 5, true)

	c := createConversation(t, s)
	enqueued, err := engine.EnqueueInbound(ctx, c.ID, "support")
	require.NoError(t, err)

	closed, err := engine.SetStatus(ctx, enqueued.ID, store.StatusClosed)
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)

	_, err = engine.SetStatus(ctx, enqueued.ID, store.StatusActive)
	assert.ErrorIs(t, err, store.ErrAssignmentClosed)

	resumed, err := engine.Resume(ctx, c.ID, "support")
	require.NoError(t, err)
	assert.NotEqual(t, enqueued.ID, resumed.ID)
	assert.Equal(t, store.StatusPending, resumed.Status)
}

func TestEnqueueInbound_IdempotentForOpenAssignment(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()
	engine := New(s, nil, Config{}, nil)

	c := createConversation(t, s)
	first, err := engine.EnqueueInbound(ctx, c.ID, "support")
	require.NoError(t, err)

	again, err := engine.EnqueueInbound(ctx, c.ID, "support")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestDistribution_PicksLeastLoadedEligible(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()
	engine := New(s, nil, Config{EnforceCapacity: true, Distribution: true}, nil)

	createAgent(t, s, "loaded", "support", 5, true)
	createAgent(t, s, "idle", "support", 5, true)
	createAgent(t, s, "offline", "support", 5, false)

	// Give loaded an existing conversation
	warmup := createConversation(t, s)
	_, err := engine.EnqueueInbound(ctx, warmup.ID, "support")
	require.NoError(t, err)
	// Distribution picked someone; pin it to loaded for a deterministic setup
	a, err := s.GetOpenAssignment(ctx, warmup.ID)
	require.NoError(t, err)
	if a.AgentID == nil || *a.AgentID != "loaded" {
		if a.AgentID != nil {
			_, err = engine.Release(ctx, warmup.ID)
			require.NoError(t, err)
		}
		_, err = engine.Claim(ctx, warmup.ID, "loaded")
		require.NoError(t, err)
	}

	c := createConversation(t, s)
	assignment, err := engine.EnqueueInbound(ctx, c.ID, "support")
	require.NoError(t, err)
	require.NotNil(t, assignment.AgentID)
	assert.Equal(t, "idle", *assignment.AgentID)
	assert.Equal(t, store.StatusActive, assignment.Status)
}

func TestDistribution_NoEligibleAgentStaysQueued(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()
	engine := New(s, nil, Config{EnforceCapacity: true, Distribution: true}, nil)

	createAgent(t, s, "offline", "support", 5, false)

	c := createConversation(t, s)
	assignment, err := engine.EnqueueInbound(ctx, c.ID, "support")
	require.NoError(t, err)
	assert.Nil(t, assignment.AgentID)
	assert.Equal(t, store.StatusTriage, assignment.Status)
}

func TestDistribution_SkipsAgentsAtCapacity(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()
	engine := New(s, nil, Config{EnforceCapacity: true, Distribution: true}, nil)

	createAgent(t, s, "full", "support", 1, true)

	// Fill the only agent
	warmup := createConversation(t, s)
	_, err := engine.EnqueueInbound(ctx, warmup.ID, "support")
	require.NoError(t, err)

	c := createConversation(t, s)
	assignment, err := engine.EnqueueInbound(ctx, c.ID, "support")
	require.NoError(t, err)
	assert.Nil(t, assignment.AgentID, "agent at capacity must not receive distribution")
}
