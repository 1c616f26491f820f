// ABOUTME: Message history, outbound sends, and the provider inbound webhook
// ABOUTME: Text via JSON, media via multipart upload, audio clips with duration

package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/inbox-core/internal/delivery"
	"github.com/relaydesk/inbox-core/internal/notify"
	"github.com/relaydesk/inbox-core/internal/store"
)

const defaultMessageLimit = 50

// maxMultipartMemory bounds the in-memory portion of media uploads; the
// rest spills to temp files
const maxMultipartMemory = 10 << 20

// messageBody is the JSON shape of one message
type messageBody struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Direction      string    `json:"direction"`
	Content        string    `json:"content,omitempty"`
	Type           string    `json:"type"`
	MediaURL       string    `json:"media_url,omitempty"`
	MediaMime      string    `json:"media_mime,omitempty"`
	MediaFilename  string    `json:"media_filename,omitempty"`
	MediaDuration  int       `json:"media_duration,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

func toMessageBody(m *store.Message) messageBody {
	return messageBody{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Direction:      m.Direction,
		Content:        m.Content,
		Type:           m.Type,
		MediaURL:       m.MediaURL,
		MediaMime:      m.MediaMime,
		MediaFilename:  m.MediaFilename,
		MediaDuration:  m.MediaDuration,
		SentAt:         m.SentAt,
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	messages, err := s.store.ListMessages(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]messageBody, 0, len(messages))
	for _, m := range messages {
		items = append(items, toMessageBody(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": items})
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	msg, err := s.pipeline.SendText(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageBody(msg))
}

// handleSendMedia accepts a multipart upload: the "file" part carries the
// attachment, optional "caption", "type", and "duration" fields steer how
// it is sent. Audio uploads go through the voice clip path.
func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file part is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	conversationID := r.PathValue("id")
	contentType := header.Header.Get("Content-Type")

	msgType := r.FormValue("type")
	if msgType == "" {
		msgType = store.MessageTypeDocument
	}

	switch msgType {
	case store.MessageTypeImage, store.MessageTypeDocument:
		msg, err := s.pipeline.SendMedia(r.Context(), conversationID, delivery.MediaUpload{
			Reader:      file,
			Size:        header.Size,
			ContentType: contentType,
			Filename:    header.Filename,
			Type:        msgType,
			Caption:     r.FormValue("caption"),
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toMessageBody(msg))

	case store.MessageTypeAudio:
		duration, err := strconv.Atoi(r.FormValue("duration"))
		if err != nil || duration < 0 {
			http.Error(w, "duration is required for audio", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "reading upload", http.StatusBadRequest)
			return
		}
		msg, err := s.pipeline.SendAudio(r.Context(), conversationID, &delivery.Clip{
			Data:            data,
			MimeType:        contentType,
			DurationSeconds: duration,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toMessageBody(msg))

	default:
		http.Error(w, "unknown message type", http.StatusBadRequest)
	}
}

// handleInboundWebhook receives provider callbacks for messages arriving
// from contacts. Unknown senders get a conversation created on the fly, and
// every inbound message lands in the ledger via queue intake.
func (s *Server) handleInboundWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalRef   string `json:"external_ref"`
		DisplayName   string `json:"display_name"`
		IsGroup       bool   `json:"is_group"`
		DepartmentID  string `json:"department_id"`
		Content       string `json:"content"`
		Type          string `json:"type"`
		MediaURL      string `json:"media_url"`
		MediaMime     string `json:"media_mime"`
		MediaFilename string `json:"media_filename"`
		MediaDuration int    `json:"media_duration"`
		SentAt        string `json:"sent_at"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ExternalRef == "" {
		http.Error(w, "external_ref is required", http.StatusBadRequest)
		return
	}

	sentAt := time.Now()
	if req.SentAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.SentAt)
		if err != nil {
			http.Error(w, "invalid sent_at", http.StatusBadRequest)
			return
		}
		sentAt = parsed
	}

	msgType := req.Type
	if msgType == "" {
		msgType = store.MessageTypeText
	}

	ctx := r.Context()
	conv, err := s.store.GetConversationByExternalRef(ctx, req.ExternalRef)
	if err == store.ErrNotFound {
		conv = &store.Conversation{
			ID:          uuid.New().String(),
			ExternalRef: req.ExternalRef,
			IsGroup:     req.IsGroup,
			DisplayName: req.DisplayName,
			CreatedAt:   time.Now(),
		}
		if createErr := s.store.CreateConversation(ctx, conv); createErr != nil {
			if createErr != store.ErrDuplicateConversation {
				s.writeError(w, createErr)
				return
			}
			// Another webhook delivery created it first
			conv, err = s.store.GetConversationByExternalRef(ctx, req.ExternalRef)
			if err != nil {
				s.writeError(w, err)
				return
			}
		}
	} else if err != nil {
		s.writeError(w, err)
		return
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Direction:      store.DirectionInbound,
		Content:        req.Content,
		Type:           msgType,
		MediaURL:       req.MediaURL,
		MediaMime:      req.MediaMime,
		MediaFilename:  req.MediaFilename,
		MediaDuration:  req.MediaDuration,
		SentAt:         sentAt,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		s.writeError(w, err)
		return
	}

	preview := msg.Content
	if preview == "" {
		preview = msg.Type
	}
	if err := s.store.UpdateConversationPreview(ctx, conv.ID, preview, sentAt, 1); err != nil {
		s.logger.Warn("failed to update conversation preview",
			"conversation_id", conv.ID, "error", err)
	}

	if _, err := s.engine.EnqueueInbound(ctx, conv.ID, req.DepartmentID); err != nil {
		s.writeError(w, err)
		return
	}

	if s.notifier != nil {
		s.notifier.Publish(&notify.Event{
			ID:             uuid.New().String(),
			Type:           notify.EventMessageInbound,
			ConversationID: conv.ID,
			Preview:        preview,
			At:             sentAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":          "ok",
		"conversation_id": conv.ID,
		"message_id":      msg.ID,
	})
}
