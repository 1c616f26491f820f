// ABOUTME: Conversation persistence for SQLiteStore
// ABOUTME: One row per external contact thread; flags, preview, and unread counters

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// flagColumns maps a ConversationFlag to its column and optional timestamp
// column. The whitelist keeps flag names out of SQL string building.
var flagColumns = map[ConversationFlag]struct {
	column   string
	atColumn string
}{
	FlagArchived: {column: "archived", atColumn: "archived_at"},
	FlagMuted:    {column: "muted"},
	FlagPinned:   {column: "pinned", atColumn: "pinned_at"},
	FlagFavorite: {column: "favorite"},
	FlagBlocked:  {column: "blocked"},
}

// CreateConversation inserts a new conversation. Returns
// ErrDuplicateConversation if the external reference is already known.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	query := `
		INSERT INTO conversations (
			id, external_ref, is_group, display_name, avatar_url, client_id,
			product_id, last_message_at, last_message_preview, unread_count,
			archived, archived_at, muted, pinned, pinned_at, favorite, blocked,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.ExternalRef,
		c.IsGroup,
		c.DisplayName,
		c.AvatarURL,
		c.ClientID,
		c.ProductID,
		nullableTime(c.LastMessageAt),
		c.LastMessagePreview,
		c.UnreadCount,
		c.Archived,
		nullableTime(c.ArchivedAt),
		c.Muted,
		c.Pinned,
		nullableTime(c.PinnedAt),
		c.Favorite,
		c.Blocked,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", c.ID, "external_ref", c.ExternalRef)
	return nil
}

const conversationColumns = `
	id, external_ref, is_group, display_name, avatar_url, client_id,
	product_id, last_message_at, last_message_preview, unread_count,
	archived, archived_at, muted, pinned, pinned_at, favorite, blocked,
	created_at
`

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetConversationByExternalRef retrieves a conversation by its phone number
// or group identifier. Returns ErrNotFound if no conversation exists.
func (s *SQLiteStore) GetConversationByExternalRef(ctx context.Context, ref string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE external_ref = ?`, ref)
	return scanConversation(row)
}

// UpdateConversationPreview sets the last-message preview and timestamp and
// adjusts the unread counter by unreadDelta (clamped at zero).
func (s *SQLiteStore) UpdateConversationPreview(ctx context.Context, id, preview string, at time.Time, unreadDelta int) error {
	query := `
		UPDATE conversations
		SET last_message_preview = ?,
		    last_message_at = ?,
		    unread_count = MAX(0, unread_count + ?)
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, preview, formatTime(at), unreadDelta, id)
	if err != nil {
		return fmt.Errorf("updating conversation preview: %w", err)
	}
	return requireRow(res)
}

// ResetUnread zeroes the unread counter.
func (s *SQLiteStore) ResetUnread(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resetting unread count: %w", err)
	}
	return requireRow(res)
}

// SetConversationFlag toggles one of the independent presence flags,
// stamping its timestamp column where the flag carries one.
func (s *SQLiteStore) SetConversationFlag(ctx context.Context, id string, flag ConversationFlag, on bool, at time.Time) error {
	cols, ok := flagColumns[flag]
	if !ok {
		return fmt.Errorf("unknown conversation flag %q", flag)
	}

	var res sql.Result
	var err error
	if cols.atColumn == "" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET `+cols.column+` = ? WHERE id = ?`, on, id)
	} else {
		var stamp any
		if on {
			stamp = formatTime(at)
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE conversations SET `+cols.column+` = ?, `+cols.atColumn+` = ? WHERE id = ?`,
			on, stamp, id)
	}
	if err != nil {
		return fmt.Errorf("setting %s flag: %w", flag, err)
	}

	s.logger.Debug("conversation flag set", "id", id, "flag", flag, "on", on)
	return requireRow(res)
}

// requireRow converts a zero-row update into ErrNotFound
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var lastMessageAt, archivedAt, pinnedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&c.ID,
		&c.ExternalRef,
		&c.IsGroup,
		&c.DisplayName,
		&c.AvatarURL,
		&c.ClientID,
		&c.ProductID,
		&lastMessageAt,
		&c.LastMessagePreview,
		&c.UnreadCount,
		&c.Archived,
		&archivedAt,
		&c.Muted,
		&c.Pinned,
		&pinnedAt,
		&c.Favorite,
		&c.Blocked,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	if c.LastMessageAt, err = scanNullableTime(lastMessageAt); err != nil {
		return nil, err
	}
	if c.ArchivedAt, err = scanNullableTime(archivedAt); err != nil {
		return nil, err
	}
	if c.PinnedAt, err = scanNullableTime(pinnedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	return &c, nil
}
