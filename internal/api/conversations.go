// ABOUTME: Conversation list, creation, and assignment lifecycle endpoints
// ABOUTME: Claim/release/transfer/status plus flags, read marks, and tags

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/inbox-core/internal/auth"
	"github.com/relaydesk/inbox-core/internal/filter"
	"github.com/relaydesk/inbox-core/internal/store"
)

// conversationItem is the JSON shape of one inbox row
type conversationItem struct {
	ConversationID string     `json:"conversation_id"`
	ExternalRef    string     `json:"external_ref"`
	DisplayName    string     `json:"display_name"`
	IsGroup        bool       `json:"is_group"`
	ProductID      string     `json:"product_id,omitempty"`
	UnreadCount    int        `json:"unread_count"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	LastPreview    string     `json:"last_preview,omitempty"`
	AssignmentID   string     `json:"assignment_id"`
	Status         string     `json:"status"`
	AgentID        *string    `json:"agent_id"`
	DepartmentID   string     `json:"department_id,omitempty"`
	TagIDs         []string   `json:"tag_ids,omitempty"`
}

// assignmentBody is the JSON shape of an assignment in responses
type assignmentBody struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	AgentID        *string    `json:"agent_id"`
	DepartmentID   string     `json:"department_id,omitempty"`
	Status         string     `json:"status"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

func toAssignmentBody(a *store.Assignment) assignmentBody {
	return assignmentBody{
		ID:             a.ID,
		ConversationID: a.ConversationID,
		AgentID:        a.AgentID,
		DepartmentID:   a.DepartmentID,
		Status:         a.Status,
		ClosedAt:       a.ClosedAt,
	}
}

// handleListConversations returns the filtered, sorted inbox for the
// calling agent. Filters arrive as query parameters and compose with AND.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	views, err := s.store.ListConversationViews(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	q := r.URL.Query()
	scope := filter.ScopeQueue
	if q.Get("scope") == string(filter.ScopeMine) {
		scope = filter.ScopeMine
	}
	f := filter.Filter{
		Text:       q.Get("q"),
		Status:     q.Get("status"),
		UnreadOnly: q.Get("unread") == "true",
		GroupOnly:  q.Get("group") == "true",
		ProductID:  q.Get("product_id"),
		TagID:      q.Get("tag_id"),
		AgentID:    q.Get("agent_id"),
	}

	filtered := filter.Apply(views, scope, principal.AgentID, f)

	items := make([]conversationItem, 0, len(filtered))
	for _, v := range filtered {
		items = append(items, conversationItem{
			ConversationID: v.ConversationID,
			ExternalRef:    v.ExternalRef,
			DisplayName:    v.DisplayName,
			IsGroup:        v.IsGroup,
			ProductID:      v.ProductID,
			UnreadCount:    v.UnreadCount,
			LastMessageAt:  v.LastMessageAt,
			LastPreview:    v.LastMessagePreview,
			AssignmentID:   v.AssignmentID,
			Status:         v.Status,
			AgentID:        v.AgentID,
			DepartmentID:   v.DepartmentID,
			TagIDs:         v.TagIDs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalRef  string `json:"external_ref"`
		DisplayName  string `json:"display_name"`
		IsGroup      bool   `json:"is_group"`
		AvatarURL    string `json:"avatar_url"`
		ClientID     string `json:"client_id"`
		ProductID    string `json:"product_id"`
		DepartmentID string `json:"department_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ExternalRef == "" {
		http.Error(w, "external_ref is required", http.StatusBadRequest)
		return
	}

	conv := &store.Conversation{
		ID:          uuid.New().String(),
		ExternalRef: req.ExternalRef,
		IsGroup:     req.IsGroup,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		ClientID:    req.ClientID,
		ProductID:   req.ProductID,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		s.writeError(w, err)
		return
	}

	assignment, err := s.engine.EnqueueInbound(r.Context(), conv.ID, req.DepartmentID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"conversation_id": conv.ID,
		"assignment":      toAssignmentBody(assignment),
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	assignment, err := s.engine.Claim(r.Context(), r.PathValue("id"), principal.AgentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentBody(assignment))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	assignment, err := s.engine.Release(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentBody(assignment))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID      string `json:"agent_id"`
		DepartmentID string `json:"department_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	assignment, err := s.engine.Transfer(r.Context(), r.PathValue("id"), req.AgentID, req.DepartmentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentBody(assignment))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DepartmentID string `json:"department_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	assignment, err := s.engine.Resume(r.Context(), r.PathValue("id"), req.DepartmentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentBody(assignment))
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	assignment, err := s.engine.SetStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentBody(assignment))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ResetUnread(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Flag string `json:"flag"`
		On   bool   `json:"on"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	flag := store.ConversationFlag(strings.ToLower(req.Flag))
	switch flag {
	case store.FlagArchived, store.FlagMuted, store.FlagPinned, store.FlagFavorite, store.FlagBlocked:
	default:
		http.Error(w, "unknown flag", http.StatusBadRequest)
		return
	}

	if err := s.store.SetConversationFlag(r.Context(), r.PathValue("id"), flag, req.On, time.Now()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTagAssignment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TagID string `json:"tag_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TagID == "" {
		http.Error(w, "tag_id is required", http.StatusBadRequest)
		return
	}

	if err := s.store.TagAssignment(r.Context(), r.PathValue("id"), req.TagID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUntagAssignment(w http.ResponseWriter, r *http.Request) {
	if err := s.store.UntagAssignment(r.Context(), r.PathValue("id"), r.PathValue("tagID")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
