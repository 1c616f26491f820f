// ABOUTME: Routing Engine owning all Assignment lifecycle transitions
// ABOUTME: Claim, release, transfer, status changes, and queue intake

package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/inbox-core/internal/notify"
	"github.com/relaydesk/inbox-core/internal/store"
)

// ErrInvalidStatus is returned for status names outside the assignment
// state machine
var ErrInvalidStatus = errors.New("invalid assignment status")

// Ledger defines what the engine needs from storage. All assignment
// mutations in the system flow through the engine, which is the exclusive
// owner of status and agent_id transitions.
type Ledger interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	TouchAgent(ctx context.Context, id string, at time.Time) error
	ListAgentLoads(ctx context.Context, departmentID string) ([]*store.AgentLoad, error)

	OpenAssignment(ctx context.Context, a *store.Assignment) error
	GetAssignment(ctx context.Context, id string) (*store.Assignment, error)
	GetOpenAssignment(ctx context.Context, conversationID string) (*store.Assignment, error)
	ClaimAssignment(ctx context.Context, conversationID, agentID string, maxConcurrent int) (*store.Assignment, error)
	ReleaseAssignment(ctx context.Context, conversationID string) (*store.Assignment, error)
	TransferAssignment(ctx context.Context, conversationID, toAgentID, departmentID string, maxConcurrent int) (*store.Assignment, error)
	SetAssignmentStatus(ctx context.Context, assignmentID, status string) (*store.Assignment, error)
}

// Config holds the account-level routing switches.
type Config struct {
	// EnforceCapacity caps each agent at max_concurrent_chats when claiming
	// or receiving transfers
	EnforceCapacity bool
	// Distribution pushes newly pending conversations to the least-loaded
	// eligible agent instead of waiting for a manual claim
	Distribution bool
}

// Engine assigns, releases, and transfers conversations between the queue
// and agents, subject to capacity and the distribution policy.
type Engine struct {
	ledger   Ledger
	notifier notify.Publisher
	cfg      Config
	logger   *slog.Logger
}

// New creates a routing engine. Pass nil logger for default.
func New(ledger Ledger, notifier notify.Publisher, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "routing"),
	}
}

// Claim moves a queued conversation into the agent's ownership. Exactly one
// of several concurrent claims succeeds; losers get
// store.ErrOwnershipConflict. With capacity enforcement on, an agent at
// max_concurrent_chats gets store.ErrCapacityExceeded and the conversation
// stays queued.
func (e *Engine) Claim(ctx context.Context, conversationID, agentID string) (*store.Assignment, error) {
	maxConcurrent, err := e.capacityFor(ctx, agentID)
	if err != nil {
		return nil, err
	}

	assignment, err := e.ledger.ClaimAssignment(ctx, conversationID, agentID, maxConcurrent)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.TouchAgent(ctx, agentID, time.Now()); err != nil {
		e.logger.Warn("failed to touch agent after claim", "agent_id", agentID, "error", err)
	}

	e.publishAssignment(assignment)
	return assignment, nil
}

// Release returns an owned conversation to the queue.
func (e *Engine) Release(ctx context.Context, conversationID string) (*store.Assignment, error) {
	assignment, err := e.ledger.ReleaseAssignment(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	e.publishAssignment(assignment)
	return assignment, nil
}

// Transfer reassigns an active conversation to another agent, optionally
// moving it to a new department, as one atomic step. The conversation is
// never observably ownerless in between.
func (e *Engine) Transfer(ctx context.Context, conversationID, toAgentID, departmentID string) (*store.Assignment, error) {
	maxConcurrent, err := e.capacityFor(ctx, toAgentID)
	if err != nil {
		return nil, err
	}

	assignment, err := e.ledger.TransferAssignment(ctx, conversationID, toAgentID, departmentID, maxConcurrent)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.TouchAgent(ctx, toAgentID, time.Now()); err != nil {
		e.logger.Warn("failed to touch agent after transfer", "agent_id", toAgentID, "error", err)
	}

	e.publishAssignment(assignment)
	return assignment, nil
}

// SetStatus applies an explicit operator-driven status change. Closing
// stamps closed_at and is irreversible; resuming a closed conversation goes
// through Resume.
func (e *Engine) SetStatus(ctx context.Context, assignmentID, status string) (*store.Assignment, error) {
	switch status {
	case store.StatusTriage, store.StatusPending, store.StatusActive, store.StatusWaiting, store.StatusClosed:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	assignment, err := e.ledger.SetAssignmentStatus(ctx, assignmentID, status)
	if err != nil {
		return nil, err
	}

	e.publishAssignment(assignment)
	return assignment, nil
}

// EnqueueInbound ensures a conversation that needs human handling has an
// open ledger row. A conversation already in the ledger is left untouched.
// When the distribution policy is enabled the new row is pushed straight to
// the best eligible agent; otherwise it waits in triage for a manual claim.
func (e *Engine) EnqueueInbound(ctx context.Context, conversationID, departmentID string) (*store.Assignment, error) {
	if existing, err := e.ledger.GetOpenAssignment(ctx, conversationID); err == nil {
		return existing, nil
	} else if err != store.ErrNotFound {
		return nil, err
	}

	now := time.Now()
	assignment := &store.Assignment{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		DepartmentID:   departmentID,
		Status:         store.StatusTriage,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.ledger.OpenAssignment(ctx, assignment); err != nil {
		if err == store.ErrDuplicateAssignment {
			// Another session enqueued it first
			return e.ledger.GetOpenAssignment(ctx, conversationID)
		}
		return nil, err
	}

	e.logger.Info("conversation enqueued",
		"conversation_id", conversationID,
		"assignment_id", assignment.ID)
	e.publishAssignment(assignment)

	if e.cfg.Distribution {
		if distributed, err := e.distribute(ctx, conversationID, departmentID); err != nil {
			e.logger.Warn("distribution failed, conversation stays queued",
				"conversation_id", conversationID, "error", err)
		} else if distributed != nil {
			return distributed, nil
		}
	}

	return assignment, nil
}

// Resume opens a fresh ownership episode for a conversation whose previous
// assignment was closed.
func (e *Engine) Resume(ctx context.Context, conversationID, departmentID string) (*store.Assignment, error) {
	now := time.Now()
	assignment := &store.Assignment{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		DepartmentID:   departmentID,
		Status:         store.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.ledger.OpenAssignment(ctx, assignment); err != nil {
		return nil, err
	}

	e.publishAssignment(assignment)
	return assignment, nil
}

// capacityFor resolves the concurrency cap to enforce for an agent.
// Zero disables enforcement at the store layer.
func (e *Engine) capacityFor(ctx context.Context, agentID string) (int, error) {
	if !e.cfg.EnforceCapacity {
		return 0, nil
	}
	agent, err := e.ledger.GetAgent(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("loading agent %s: %w", agentID, err)
	}
	return agent.MaxConcurrentChats, nil
}

// publishAssignment pushes an assignment-changed event to subscribed sessions
func (e *Engine) publishAssignment(a *store.Assignment) {
	if e.notifier == nil {
		return
	}
	event := &notify.Event{
		ID:             uuid.New().String(),
		Type:           notify.EventAssignmentChanged,
		ConversationID: a.ConversationID,
		AssignmentID:   a.ID,
		Status:         a.Status,
		At:             time.Now(),
	}
	if a.AgentID != nil {
		event.AgentID = *a.AgentID
	}
	e.notifier.Publish(event)
}
