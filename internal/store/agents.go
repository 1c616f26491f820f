// ABOUTME: Agent persistence for SQLiteStore
// ABOUTME: Presence, capacity, and load queries used by the distribution policy

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const agentColumns = `
	id, user_ref, display_name, department_id, max_concurrent_chats,
	is_online, is_active, last_activity_at
`

// CreateAgent inserts a new agent.
func (s *SQLiteStore) CreateAgent(ctx context.Context, a *Agent) error {
	query := `
		INSERT INTO agents (id, user_ref, display_name, department_id, max_concurrent_chats, is_online, is_active, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.UserRef,
		a.DisplayName,
		a.DepartmentID,
		a.MaxConcurrentChats,
		a.IsOnline,
		a.IsActive,
		nullableTime(a.LastActivityAt),
	)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "id", a.ID, "department_id", a.DepartmentID)
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// ListAgents returns all agents, optionally restricted to one department.
func (s *SQLiteStore) ListAgents(ctx context.Context, departmentID string) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY display_name`
	args := []any{}
	if departmentID != "" {
		query = `SELECT ` + agentColumns + ` FROM agents WHERE department_id = ? ORDER BY display_name`
		args = append(args, departmentID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListAgentLoads returns each agent in the department together with its
// current active+waiting assignment count, ordered least-loaded first with
// longest-idle agents breaking ties. This is the candidate ordering the
// distribution policy consumes.
func (s *SQLiteStore) ListAgentLoads(ctx context.Context, departmentID string) ([]*AgentLoad, error) {
	query := `
		SELECT ` + agentColumns + `,
			(SELECT COUNT(*) FROM assignments
			 WHERE assignments.agent_id = agents.id
			   AND assignments.status IN ('active', 'waiting')) AS active_count
		FROM agents
		WHERE (? = '' OR department_id = ?)
		ORDER BY active_count ASC, last_activity_at ASC NULLS FIRST
	`

	rows, err := s.db.QueryContext(ctx, query, departmentID, departmentID)
	if err != nil {
		return nil, fmt.Errorf("querying agent loads: %w", err)
	}
	defer rows.Close()

	var loads []*AgentLoad
	for rows.Next() {
		var a Agent
		var lastActivityAt sql.NullString
		var count int
		err := rows.Scan(
			&a.ID,
			&a.UserRef,
			&a.DisplayName,
			&a.DepartmentID,
			&a.MaxConcurrentChats,
			&a.IsOnline,
			&a.IsActive,
			&lastActivityAt,
			&count,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning agent load: %w", err)
		}
		if a.LastActivityAt, err = scanNullableTime(lastActivityAt); err != nil {
			return nil, err
		}
		loads = append(loads, &AgentLoad{Agent: a, ActiveCount: count})
	}
	return loads, rows.Err()
}

// SetAgentPresence marks an agent online or offline, touching
// last_activity_at on the way online.
func (s *SQLiteStore) SetAgentPresence(ctx context.Context, id string, online bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET is_online = ?, last_activity_at = ? WHERE id = ?`,
		online, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating agent presence: %w", err)
	}
	return requireRow(res)
}

// TouchAgent updates last_activity_at.
func (s *SQLiteStore) TouchAgent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_activity_at = ? WHERE id = ?`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touching agent: %w", err)
	}
	return requireRow(res)
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var lastActivityAt sql.NullString

	err := row.Scan(
		&a.ID,
		&a.UserRef,
		&a.DisplayName,
		&a.DepartmentID,
		&a.MaxConcurrentChats,
		&a.IsOnline,
		&a.IsActive,
		&lastActivityAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	if a.LastActivityAt, err = scanNullableTime(lastActivityAt); err != nil {
		return nil, err
	}
	return &a, nil
}
