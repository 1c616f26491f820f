// ABOUTME: Optimistic delivery pipeline: stage, dispatch, reconcile
// ABOUTME: Sends text and media through the gateway with rollback on failure

package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/inbox-core/internal/blob"
	"github.com/relaydesk/inbox-core/internal/gateway"
	"github.com/relaydesk/inbox-core/internal/notify"
	"github.com/relaydesk/inbox-core/internal/store"
)

// ErrMediaTooLarge is returned when an attachment exceeds the configured
// size ceiling. Checked before anything is uploaded or staged.
var ErrMediaTooLarge = errors.New("media exceeds size limit")

// ErrNoMediaStorage is returned when media is sent without blob storage
// configured
var ErrNoMediaStorage = errors.New("media storage not configured")

// DefaultMaxMediaBytes caps attachments at 50 MB unless configured otherwise.
const DefaultMaxMediaBytes = 50 << 20

// MessageStore defines what the pipeline needs from persistence. The
// pipeline is the exclusive owner of Message creation and of conversation
// preview/unread mutation.
type MessageStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, m *store.Message) error
	UpdateConversationPreview(ctx context.Context, id, preview string, at time.Time, unreadDelta int) error
	ResetUnread(ctx context.Context, id string) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// SendError wraps a failed dispatch with the recoverable draft, so the
// operator can retry without retyping.
type SendError struct {
	Draft Pending
	Err   error
}

func (e *SendError) Error() string { return e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// MediaUpload describes an attachment the operator wants to send.
type MediaUpload struct {
	Reader      io.Reader
	Size        int64
	ContentType string
	Filename    string
	// Type is store.MessageTypeImage or store.MessageTypeDocument
	Type string
	// PreviewURL is the locally-rendered preview shown while the durable
	// URL is pending confirmation
	PreviewURL string
	Caption    string
}

// Pipeline implements the three-phase optimistic send protocol. One
// pipeline serves all conversations; each conversation gets its own outbox.
type Pipeline struct {
	store    MessageStore
	gateway  gateway.Gateway
	uploader blob.Uploader
	notifier notify.Publisher
	logger   *slog.Logger

	timeout       time.Duration
	maxMediaBytes int64

	mu       sync.Mutex
	outboxes map[string]*Outbox
}

// Options tunes the pipeline.
type Options struct {
	// DispatchTimeout bounds each gateway call; zero means 30s
	DispatchTimeout time.Duration
	// MaxMediaBytes caps attachment size; zero means DefaultMaxMediaBytes
	MaxMediaBytes int64
}

// NewPipeline creates a delivery pipeline. Pass nil logger for default.
func NewPipeline(st MessageStore, gw gateway.Gateway, up blob.Uploader, notifier notify.Publisher, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 30 * time.Second
	}
	if opts.MaxMediaBytes <= 0 {
		opts.MaxMediaBytes = DefaultMaxMediaBytes
	}
	return &Pipeline{
		store:         st,
		gateway:       gw,
		uploader:      up,
		notifier:      notifier,
		logger:        logger.With("component", "delivery"),
		timeout:       opts.DispatchTimeout,
		maxMediaBytes: opts.MaxMediaBytes,
		outboxes:      make(map[string]*Outbox),
	}
}

// Outbox returns the visible message sequence for a conversation, seeding
// it from history on first access.
func (p *Pipeline) Outbox(ctx context.Context, conversationID string) (*Outbox, error) {
	p.mu.Lock()
	if ob, ok := p.outboxes[conversationID]; ok {
		p.mu.Unlock()
		return ob, nil
	}
	p.mu.Unlock()

	// Seed outside the lock; the store read can take a while
	messages, err := p.store.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("seeding outbox: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ob, ok := p.outboxes[conversationID]; ok {
		return ob, nil
	}
	ob := NewOutbox()
	ob.Seed(messages)
	p.outboxes[conversationID] = ob
	return ob, nil
}

// SendText runs the three-phase protocol for a text message: stage an
// optimistic entry, dispatch through the gateway, then either persist and
// swap in place or roll back with the draft preserved. No partial state
// survives past the call's return.
func (p *Pipeline) SendText(ctx context.Context, conversationID, content string) (*store.Message, error) {
	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	ob, err := p.Outbox(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// Phase 1: stage
	pending := Pending{
		TempID:   uuid.New().String(),
		Content:  content,
		Type:     store.MessageTypeText,
		StagedAt: time.Now(),
	}
	ob.Stage(pending)

	// Phase 2: dispatch
	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	to := gateway.Recipient{ExternalRef: conv.ExternalRef, IsGroup: conv.IsGroup}
	if err := p.gateway.SendText(dctx, to, content); err != nil {
		return nil, p.rollback(ob, pending.TempID, err)
	}

	// Phase 3: reconcile
	return p.reconcile(ctx, ob, conv, pending, "", content)
}

// SendMedia validates and uploads the attachment, then runs the optimistic
// protocol with the local preview standing in for the durable URL until
// confirmation swaps it.
func (p *Pipeline) SendMedia(ctx context.Context, conversationID string, up MediaUpload) (*store.Message, error) {
	if p.uploader == nil {
		return nil, ErrNoMediaStorage
	}
	if up.Size > p.maxMediaBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrMediaTooLarge, up.Size, p.maxMediaBytes)
	}

	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	// Upload before staging: a failed upload leaves the sequence untouched
	path := fmt.Sprintf("%s/%s/%s", up.Type, conversationID, uuid.New().String()+"_"+up.Filename)
	url, err := p.uploader.Upload(ctx, up.Reader, up.Size, up.ContentType, path)
	if err != nil {
		return nil, err
	}

	ob, err := p.Outbox(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	pending := Pending{
		TempID:     uuid.New().String(),
		Content:    up.Caption,
		Type:       up.Type,
		PreviewURL: up.PreviewURL,
		MimeType:   up.ContentType,
		Filename:   up.Filename,
		StagedAt:   time.Now(),
	}
	ob.Stage(pending)

	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	to := gateway.Recipient{ExternalRef: conv.ExternalRef, IsGroup: conv.IsGroup}
	media := gateway.Media{URL: url, MimeType: up.ContentType, Filename: up.Filename}
	if err := p.gateway.SendMedia(dctx, to, media, up.Caption); err != nil {
		return nil, p.rollback(ob, pending.TempID, err)
	}

	return p.reconcile(ctx, ob, conv, pending, url, previewText(up.Type, up.Caption))
}

// SendAudio uploads a confirmed recording clip and dispatches it like other
// media, carrying the captured duration into the persisted message.
func (p *Pipeline) SendAudio(ctx context.Context, conversationID string, clip *Clip) (*store.Message, error) {
	if p.uploader == nil {
		return nil, ErrNoMediaStorage
	}
	size := int64(len(clip.Data))
	if size > p.maxMediaBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrMediaTooLarge, size, p.maxMediaBytes)
	}

	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	path := fmt.Sprintf("audio/%s/%s.ogg", conversationID, uuid.New().String())
	url, err := p.uploader.Upload(ctx, bytes.NewReader(clip.Data), size, clip.MimeType, path)
	if err != nil {
		return nil, err
	}

	ob, err := p.Outbox(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	pending := Pending{
		TempID:   uuid.New().String(),
		Type:     store.MessageTypeAudio,
		MimeType: clip.MimeType,
		Duration: clip.DurationSeconds,
		StagedAt: time.Now(),
	}
	ob.Stage(pending)

	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	to := gateway.Recipient{ExternalRef: conv.ExternalRef, IsGroup: conv.IsGroup}
	media := gateway.Media{URL: url, MimeType: clip.MimeType}
	if err := p.gateway.SendMedia(dctx, to, media, ""); err != nil {
		return nil, p.rollback(ob, pending.TempID, err)
	}

	return p.reconcile(ctx, ob, conv, pending, url, previewText(store.MessageTypeAudio, ""))
}

// reconcile persists the confirmed message, updates the conversation
// preview, and swaps the staged entry in place.
func (p *Pipeline) reconcile(ctx context.Context, ob *Outbox, conv *store.Conversation, pending Pending, mediaURL, preview string) (*store.Message, error) {
	now := time.Now()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Direction:      store.DirectionOutbound,
		Content:        pending.Content,
		Type:           pending.Type,
		MediaURL:       mediaURL,
		MediaMime:      pending.MimeType,
		MediaFilename:  pending.Filename,
		MediaDuration:  pending.Duration,
		SentAt:         now,
	}

	if err := p.store.AppendMessage(ctx, msg); err != nil {
		return nil, p.rollback(ob, pending.TempID, err)
	}

	if err := p.store.UpdateConversationPreview(ctx, conv.ID, preview, now, 0); err != nil {
		p.logger.Error("failed to update conversation preview",
			"conversation_id", conv.ID, "error", err)
	}
	if err := p.store.ResetUnread(ctx, conv.ID); err != nil {
		p.logger.Error("failed to reset unread count",
			"conversation_id", conv.ID, "error", err)
	}

	if err := ob.Confirm(pending.TempID, msg); err != nil {
		// The entry vanished between stage and confirm; the persisted
		// message is still authoritative
		p.logger.Error("staged entry missing at confirm",
			"conversation_id", conv.ID, "temp_id", pending.TempID)
	}

	p.publishOutbound(conv.ID, msg)
	p.logger.Debug("message delivered",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"type", msg.Type)
	return msg, nil
}

// rollback removes the staged entry and wraps the failure with the
// recoverable draft.
func (p *Pipeline) rollback(ob *Outbox, tempID string, cause error) error {
	draft, err := ob.Rollback(tempID)
	if err != nil {
		p.logger.Error("rollback could not find staged entry", "temp_id", tempID)
		return cause
	}
	return &SendError{Draft: draft, Err: cause}
}

// publishOutbound pushes a delivery event to subscribed sessions
func (p *Pipeline) publishOutbound(conversationID string, msg *store.Message) {
	if p.notifier == nil {
		return
	}
	p.notifier.Publish(&notify.Event{
		ID:             uuid.New().String(),
		Type:           notify.EventMessageOutbound,
		ConversationID: conversationID,
		Preview:        msg.Content,
		At:             msg.SentAt,
	})
}

// previewText renders the conversation-list preview for a message type
func previewText(messageType, caption string) string {
	if caption != "" {
		return caption
	}
	switch messageType {
	case store.MessageTypeImage:
		return "\U0001F4F7 Photo"
	case store.MessageTypeDocument:
		return "\U0001F4C4 Document"
	case store.MessageTypeAudio:
		return "\U0001F3A4 Voice message"
	default:
		return caption
	}
}
