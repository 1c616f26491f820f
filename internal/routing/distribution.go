// ABOUTME: Distribution policy: push queued conversations to the best eligible agent
// ABOUTME: Least-loaded within the department, ties broken by longest idle

package routing

import (
	"context"

	"github.com/relaydesk/inbox-core/internal/store"
)

// distribute attempts to push a queued conversation to the least-loaded
// eligible agent in the department. Eligible means online, active, and
// below capacity when enforcement is on. Returns nil with no error when no
// agent qualifies; the conversation then stays in the queue.
//
// The loads come back ordered least-loaded first with longest-idle agents
// breaking ties, so the first eligible candidate is the pick.
func (e *Engine) distribute(ctx context.Context, conversationID, departmentID string) (*store.Assignment, error) {
	loads, err := e.ledger.ListAgentLoads(ctx, departmentID)
	if err != nil {
		return nil, err
	}

	for _, load := range loads {
		if !e.eligible(load) {
			continue
		}

		maxConcurrent := 0
		if e.cfg.EnforceCapacity {
			maxConcurrent = load.Agent.MaxConcurrentChats
		}

		assignment, err := e.ledger.ClaimAssignment(ctx, conversationID, load.Agent.ID, maxConcurrent)
		if err == store.ErrCapacityExceeded || err == store.ErrOwnershipConflict {
			// Lost a race with a manual claim or a concurrent distribution;
			// try the next candidate (conflict means someone else owns it,
			// which also counts as distributed)
			if err == store.ErrOwnershipConflict {
				return nil, nil
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		e.logger.Info("conversation distributed",
			"conversation_id", conversationID,
			"agent_id", load.Agent.ID,
			"active_count", load.ActiveCount)
		e.publishAssignment(assignment)
		return assignment, nil
	}

	e.logger.Debug("no eligible agent for distribution",
		"conversation_id", conversationID,
		"department_id", departmentID)
	return nil, nil
}

// eligible reports whether an agent can receive a distributed conversation
func (e *Engine) eligible(load *store.AgentLoad) bool {
	if !load.Agent.IsOnline || !load.Agent.IsActive {
		return false
	}
	if e.cfg.EnforceCapacity && load.Agent.MaxConcurrentChats > 0 &&
		load.ActiveCount >= load.Agent.MaxConcurrentChats {
		return false
	}
	return true
}
