// ABOUTME: Append-only message persistence for SQLiteStore
// ABOUTME: Ordering is sent_at then rowid, so same-timestamp ties keep insertion order

package store

import (
	"context"
	"fmt"
)

// AppendMessage persists a confirmed message. Messages are immutable once
// written; the delivery pipeline is the only caller.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, direction, content, type, media_url, media_mime, media_filename, media_duration, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.ConversationID,
		m.Direction,
		m.Content,
		m.Type,
		m.MediaURL,
		m.MediaMime,
		m.MediaFilename,
		m.MediaDuration,
		formatTime(m.SentAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("message appended",
		"message_id", m.ID,
		"conversation_id", m.ConversationID,
		"type", m.Type,
		"direction", m.Direction)
	return nil
}

// ListMessages returns the most recent messages of a conversation in
// chronological order. limit <= 0 returns all messages.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, direction, content, type, media_url, media_mime, media_filename, media_duration, sent_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sent_at, rowid
	`
	args := []any{conversationID}
	if limit > 0 {
		// Take the newest N, then flip back to chronological order
		query = `
			SELECT id, conversation_id, direction, content, type, media_url, media_mime, media_filename, media_duration, sent_at
			FROM (
				SELECT id, conversation_id, direction, content, type, media_url, media_mime, media_filename, media_duration, sent_at, rowid AS rid
				FROM messages
				WHERE conversation_id = ?
				ORDER BY sent_at DESC, rowid DESC
				LIMIT ?
			)
			ORDER BY sent_at, rid
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var sentAt string
		err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.Direction,
			&m.Content,
			&m.Type,
			&m.MediaURL,
			&m.MediaMime,
			&m.MediaFilename,
			&m.MediaDuration,
			&sentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if m.SentAt, err = parseTime(sentAt); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
