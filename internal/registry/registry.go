// ABOUTME: Agent Registry: presence, activity, and capacity headroom
// ABOUTME: Publishes presence events so other sessions see who is online

package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/inbox-core/internal/notify"
	"github.com/relaydesk/inbox-core/internal/store"
)

// AgentStore defines what the registry needs from storage.
type AgentStore interface {
	CreateAgent(ctx context.Context, a *store.Agent) error
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	ListAgents(ctx context.Context, departmentID string) ([]*store.Agent, error)
	SetAgentPresence(ctx context.Context, id string, online bool, at time.Time) error
	TouchAgent(ctx context.Context, id string, at time.Time) error
	CountOpenAssignments(ctx context.Context, agentID string) (int, error)
}

// Registry tracks agents, their presence, and their capacity headroom.
type Registry struct {
	store    AgentStore
	notifier notify.Publisher
	logger   *slog.Logger
}

// New creates an agent registry. Pass nil logger for default.
func New(st AgentStore, notifier notify.Publisher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    st,
		notifier: notifier,
		logger:   logger.With("component", "registry"),
	}
}

// Register adds a new agent.
func (r *Registry) Register(ctx context.Context, a *store.Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if err := r.store.CreateAgent(ctx, a); err != nil {
		return err
	}
	r.logger.Info("agent registered",
		"agent_id", a.ID,
		"department_id", a.DepartmentID,
		"max_concurrent_chats", a.MaxConcurrentChats)
	return nil
}

// Get loads one agent.
func (r *Registry) Get(ctx context.Context, id string) (*store.Agent, error) {
	return r.store.GetAgent(ctx, id)
}

// List returns agents, optionally by department.
func (r *Registry) List(ctx context.Context, departmentID string) ([]*store.Agent, error) {
	return r.store.ListAgents(ctx, departmentID)
}

// SetOnline flips an agent's presence and broadcasts the change.
func (r *Registry) SetOnline(ctx context.Context, id string, online bool) error {
	if err := r.store.SetAgentPresence(ctx, id, online, time.Now()); err != nil {
		return err
	}

	status := "offline"
	if online {
		status = "online"
	}
	r.logger.Info("agent presence changed", "agent_id", id, "status", status)

	if r.notifier != nil {
		r.notifier.Publish(&notify.Event{
			ID:      uuid.New().String(),
			Type:    notify.EventAgentPresence,
			AgentID: id,
			Status:  status,
			At:      time.Now(),
		})
	}
	return nil
}

// Touch records agent activity for idle-time tie-breaking.
func (r *Registry) Touch(ctx context.Context, id string) error {
	return r.store.TouchAgent(ctx, id, time.Now())
}

// Headroom reports how many more conversations the agent can own.
// Negative max_concurrent_chats never happens; zero means unlimited.
func (r *Registry) Headroom(ctx context.Context, id string) (int, error) {
	agent, err := r.store.GetAgent(ctx, id)
	if err != nil {
		return 0, err
	}
	if agent.MaxConcurrentChats <= 0 {
		return -1, nil // unlimited
	}
	count, err := r.store.CountOpenAssignments(ctx, id)
	if err != nil {
		return 0, err
	}
	headroom := agent.MaxConcurrentChats - count
	if headroom < 0 {
		headroom = 0
	}
	return headroom, nil
}
