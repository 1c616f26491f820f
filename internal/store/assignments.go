// ABOUTME: Assignment Ledger persistence with atomic claim/transfer compare-and-set
// ABOUTME: Capacity counting and ownership writes commit in a single transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const assignmentColumns = `
	id, conversation_id, agent_id, department_id, status,
	created_at, updated_at, closed_at
`

// OpenAssignment creates a new ownership episode for a conversation.
// Returns ErrDuplicateAssignment if a non-closed assignment already exists
// (the partial unique index is the arbiter, so concurrent opens are safe).
func (s *SQLiteStore) OpenAssignment(ctx context.Context, a *Assignment) error {
	query := `
		INSERT INTO assignments (id, conversation_id, agent_id, department_id, status, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.ConversationID,
		a.AgentID,
		a.DepartmentID,
		a.Status,
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
		nullableTime(a.ClosedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAssignment
		}
		return fmt.Errorf("inserting assignment: %w", err)
	}

	s.logger.Debug("opened assignment",
		"assignment_id", a.ID,
		"conversation_id", a.ConversationID,
		"status", a.Status)
	return nil
}

// GetAssignment retrieves an assignment by ID.
func (s *SQLiteStore) GetAssignment(ctx context.Context, id string) (*Assignment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id)
	return scanAssignment(row)
}

// GetOpenAssignment retrieves the single non-closed assignment for a
// conversation, or ErrNotFound if the conversation has no open episode.
func (s *SQLiteStore) GetOpenAssignment(ctx context.Context, conversationID string) (*Assignment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE conversation_id = ? AND status != 'closed'`,
		conversationID)
	return scanAssignment(row)
}

// ClaimAssignment atomically moves a queued conversation to the given agent.
// The capacity check and the ownership write happen in one transaction, so
// no lost-update window exists between "count is below capacity" and the
// commit. maxConcurrent <= 0 disables capacity enforcement.
//
// Exactly one of two concurrent claims on the same conversation succeeds:
// the loser's conditional UPDATE matches zero rows and gets
// ErrOwnershipConflict.
func (s *SQLiteStore) ClaimAssignment(ctx context.Context, conversationID, agentID string, maxConcurrent int) (*Assignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	if maxConcurrent > 0 {
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM assignments WHERE agent_id = ? AND status IN ('active', 'waiting')`,
			agentID).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("counting agent assignments: %w", err)
		}
		if count >= maxConcurrent {
			return nil, ErrCapacityExceeded
		}
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE assignments
		SET agent_id = ?, status = 'active', updated_at = ?
		WHERE conversation_id = ?
		  AND status IN ('triage', 'pending')
		  AND agent_id IS NULL
	`, agentID, formatTime(now), conversationID)
	if err != nil {
		return nil, fmt.Errorf("claiming assignment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish "already owned" from "no open assignment"
		var open int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM assignments WHERE conversation_id = ? AND status != 'closed'`,
			conversationID).Scan(&open)
		if err != nil {
			return nil, fmt.Errorf("checking open assignment: %w", err)
		}
		if open == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrOwnershipConflict
	}

	assignment, err := openAssignmentTx(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	s.logger.Info("conversation claimed",
		"conversation_id", conversationID,
		"agent_id", agentID,
		"assignment_id", assignment.ID)
	return assignment, nil
}

// ReleaseAssignment returns an owned conversation to the queue, clearing
// agent_id and setting status back to pending.
func (s *SQLiteStore) ReleaseAssignment(ctx context.Context, conversationID string) (*Assignment, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE assignments
		SET agent_id = NULL, status = 'pending', updated_at = ?
		WHERE conversation_id = ?
		  AND status IN ('active', 'waiting')
	`, formatTime(now), conversationID)
	if err != nil {
		return nil, fmt.Errorf("releasing assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	assignment, err := s.GetOpenAssignment(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation released",
		"conversation_id", conversationID,
		"assignment_id", assignment.ID)
	return assignment, nil
}

// TransferAssignment reassigns an active conversation to another agent as a
// single atomic step, so the conversation is never observably ownerless.
// Capacity is checked for the receiving agent inside the same transaction.
func (s *SQLiteStore) TransferAssignment(ctx context.Context, conversationID, toAgentID, departmentID string, maxConcurrent int) (*Assignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transfer transaction: %w", err)
	}
	defer tx.Rollback()

	if maxConcurrent > 0 {
		var count int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM assignments WHERE agent_id = ? AND status IN ('active', 'waiting')`,
			toAgentID).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("counting agent assignments: %w", err)
		}
		if count >= maxConcurrent {
			return nil, ErrCapacityExceeded
		}
	}

	now := time.Now()
	query := `
		UPDATE assignments
		SET agent_id = ?, updated_at = ?
		WHERE conversation_id = ?
		  AND status = 'active'
		  AND agent_id IS NOT NULL
	`
	args := []any{toAgentID, formatTime(now), conversationID}
	if departmentID != "" {
		query = `
			UPDATE assignments
			SET agent_id = ?, department_id = ?, updated_at = ?
			WHERE conversation_id = ?
			  AND status = 'active'
			  AND agent_id IS NOT NULL
		`
		args = []any{toAgentID, departmentID, formatTime(now), conversationID}
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transferring assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrOwnershipConflict
	}

	assignment, err := openAssignmentTx(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transfer: %w", err)
	}

	s.logger.Info("conversation transferred",
		"conversation_id", conversationID,
		"to_agent_id", toAgentID,
		"assignment_id", assignment.ID)
	return assignment, nil
}

// SetAssignmentStatus applies an explicit operator-driven status change.
// Closing stamps closed_at and is irreversible: any write against an
// already-closed row returns ErrAssignmentClosed.
func (s *SQLiteStore) SetAssignmentStatus(ctx context.Context, assignmentID, status string) (*Assignment, error) {
	now := time.Now()

	var res sql.Result
	var err error
	switch status {
	case StatusClosed:
		res, err = s.db.ExecContext(ctx, `
			UPDATE assignments
			SET status = 'closed', closed_at = ?, updated_at = ?
			WHERE id = ? AND status != 'closed'
		`, formatTime(now), formatTime(now), assignmentID)
	case StatusPending, StatusTriage:
		// Queue statuses are unowned. Clearing the owner keeps the row
		// claimable: ClaimAssignment requires agent_id IS NULL.
		res, err = s.db.ExecContext(ctx, `
			UPDATE assignments
			SET status = ?, agent_id = NULL, updated_at = ?
			WHERE id = ? AND status != 'closed'
		`, status, formatTime(now), assignmentID)
	default:
		res, err = s.db.ExecContext(ctx, `
			UPDATE assignments
			SET status = ?, updated_at = ?
			WHERE id = ? AND status != 'closed'
		`, status, formatTime(now), assignmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("updating assignment status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		existing, getErr := s.GetAssignment(ctx, assignmentID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status == StatusClosed {
			return nil, ErrAssignmentClosed
		}
		return nil, ErrNotFound
	}

	assignment, err := s.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("assignment status changed",
		"assignment_id", assignmentID,
		"status", status)
	return assignment, nil
}

// CountOpenAssignments returns the number of active or waiting assignments
// owned by the agent.
func (s *SQLiteStore) CountOpenAssignments(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignments WHERE agent_id = ? AND status IN ('active', 'waiting')`,
		agentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting open assignments: %w", err)
	}
	return count, nil
}

// ListConversationViews returns all non-closed ledger rows joined with their
// conversations and tag sets, for the filter engine.
func (s *SQLiteStore) ListConversationViews(ctx context.Context) ([]*ConversationView, error) {
	query := `
		SELECT
			c.id, c.external_ref, c.display_name, c.is_group, c.archived,
			c.product_id, c.unread_count, c.last_message_at, c.last_message_preview,
			a.id, a.status, a.agent_id, a.department_id
		FROM assignments a
		JOIN conversations c ON c.id = a.conversation_id
		WHERE a.status != 'closed'
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying conversation views: %w", err)
	}
	defer rows.Close()

	var views []*ConversationView
	byAssignment := make(map[string]*ConversationView)
	for rows.Next() {
		var v ConversationView
		var lastMessageAt sql.NullString
		var agentID sql.NullString

		err := rows.Scan(
			&v.ConversationID,
			&v.ExternalRef,
			&v.DisplayName,
			&v.IsGroup,
			&v.Archived,
			&v.ProductID,
			&v.UnreadCount,
			&lastMessageAt,
			&v.LastMessagePreview,
			&v.AssignmentID,
			&v.Status,
			&agentID,
			&v.DepartmentID,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation view: %w", err)
		}
		if v.LastMessageAt, err = scanNullableTime(lastMessageAt); err != nil {
			return nil, err
		}
		if agentID.Valid {
			v.AgentID = &agentID.String
		}

		views = append(views, &v)
		byAssignment[v.AssignmentID] = &v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation views: %w", err)
	}

	if err := s.attachTags(ctx, byAssignment); err != nil {
		return nil, err
	}
	return views, nil
}

// attachTags fills TagIDs for the given views in one query
func (s *SQLiteStore) attachTags(ctx context.Context, byAssignment map[string]*ConversationView) error {
	if len(byAssignment) == 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT assignment_id, tag_id FROM assignment_tags`)
	if err != nil {
		return fmt.Errorf("querying assignment tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var assignmentID, tagID string
		if err := rows.Scan(&assignmentID, &tagID); err != nil {
			return fmt.Errorf("scanning assignment tag: %w", err)
		}
		if v, ok := byAssignment[assignmentID]; ok {
			v.TagIDs = append(v.TagIDs, tagID)
		}
	}
	return rows.Err()
}

// openAssignmentTx reads the open assignment inside a transaction
func openAssignmentTx(ctx context.Context, tx *sql.Tx, conversationID string) (*Assignment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE conversation_id = ? AND status != 'closed'`,
		conversationID)
	return scanAssignment(row)
}

func scanAssignment(row rowScanner) (*Assignment, error) {
	var a Assignment
	var agentID sql.NullString
	var createdAt, updatedAt string
	var closedAt sql.NullString

	err := row.Scan(
		&a.ID,
		&a.ConversationID,
		&agentID,
		&a.DepartmentID,
		&a.Status,
		&createdAt,
		&updatedAt,
		&closedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning assignment: %w", err)
	}

	if agentID.Valid {
		a.AgentID = &agentID.String
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if a.ClosedAt, err = scanNullableTime(closedAt); err != nil {
		return nil, err
	}

	return &a, nil
}
