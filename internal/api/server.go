// ABOUTME: HTTP API surface for the inbox core
// ABOUTME: JSON endpoints for conversations, assignments, sending, and the event stream

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/relaydesk/inbox-core/internal/auth"
	"github.com/relaydesk/inbox-core/internal/delivery"
	"github.com/relaydesk/inbox-core/internal/gateway"
	"github.com/relaydesk/inbox-core/internal/notify"
	"github.com/relaydesk/inbox-core/internal/registry"
	"github.com/relaydesk/inbox-core/internal/routing"
	"github.com/relaydesk/inbox-core/internal/store"
)

// InboxStore combines the persistence operations the API surface needs.
type InboxStore interface {
	CreateConversation(ctx context.Context, c *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationByExternalRef(ctx context.Context, ref string) (*store.Conversation, error)
	UpdateConversationPreview(ctx context.Context, id, preview string, at time.Time, unreadDelta int) error
	ResetUnread(ctx context.Context, id string) error
	SetConversationFlag(ctx context.Context, id string, flag store.ConversationFlag, on bool, at time.Time) error
	ListConversationViews(ctx context.Context) ([]*store.ConversationView, error)

	AppendMessage(ctx context.Context, m *store.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)

	CreateTag(ctx context.Context, t *store.Tag) error
	ListTags(ctx context.Context) ([]*store.Tag, error)
	TagAssignment(ctx context.Context, assignmentID, tagID string) error
	UntagAssignment(ctx context.Context, assignmentID, tagID string) error
	CreateDepartment(ctx context.Context, d *store.Department) error
	ListDepartments(ctx context.Context) ([]*store.Department, error)
}

// Server handles the inbox HTTP API
type Server struct {
	store       InboxStore
	engine      *routing.Engine
	pipeline    *delivery.Pipeline
	registry    *registry.Registry
	broadcaster *notify.Broadcaster
	notifier    notify.Publisher
	verifier    auth.Verifier
	logger      *slog.Logger
}

// New creates a new API server
func New(st InboxStore, engine *routing.Engine, pipeline *delivery.Pipeline, reg *registry.Registry, bc *notify.Broadcaster, notifier notify.Publisher, verifier auth.Verifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:       st,
		engine:      engine,
		pipeline:    pipeline,
		registry:    reg,
		broadcaster: bc,
		notifier:    notifier,
		verifier:    verifier,
		logger:      logger.With("component", "api"),
	}
}

// RegisterRoutes registers all API routes on the given mux
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Public routes (no auth required)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /webhooks/inbound", s.handleInboundWebhook)

	// Protected routes (bearer token required)
	mux.Handle("GET /api/conversations", s.requireAuth(s.handleListConversations))
	mux.Handle("POST /api/conversations", s.requireAuth(s.handleCreateConversation))
	mux.Handle("GET /api/conversations/{id}/messages", s.requireAuth(s.handleListMessages))
	mux.Handle("POST /api/conversations/{id}/messages/text", s.requireAuth(s.handleSendText))
	mux.Handle("POST /api/conversations/{id}/messages/media", s.requireAuth(s.handleSendMedia))
	mux.Handle("POST /api/conversations/{id}/claim", s.requireAuth(s.handleClaim))
	mux.Handle("POST /api/conversations/{id}/release", s.requireAuth(s.handleRelease))
	mux.Handle("POST /api/conversations/{id}/transfer", s.requireAuth(s.handleTransfer))
	mux.Handle("POST /api/conversations/{id}/resume", s.requireAuth(s.handleResume))
	mux.Handle("POST /api/conversations/{id}/read", s.requireAuth(s.handleMarkRead))
	mux.Handle("POST /api/conversations/{id}/flags", s.requireAuth(s.handleSetFlag))
	mux.Handle("POST /api/assignments/{id}/status", s.requireAuth(s.handleSetStatus))
	mux.Handle("POST /api/assignments/{id}/tags", s.requireAuth(s.handleTagAssignment))
	mux.Handle("DELETE /api/assignments/{id}/tags/{tagID}", s.requireAuth(s.handleUntagAssignment))

	mux.Handle("GET /api/agents", s.requireAuth(s.handleListAgents))
	mux.Handle("POST /api/agents", s.requireAuth(s.handleRegisterAgent))
	mux.Handle("POST /api/agents/{id}/presence", s.requireAuth(s.handleSetPresence))

	mux.Handle("GET /api/tags", s.requireAuth(s.handleListTags))
	mux.Handle("POST /api/tags", s.requireAuth(s.handleCreateTag))
	mux.Handle("GET /api/departments", s.requireAuth(s.handleListDepartments))
	mux.Handle("POST /api/departments", s.requireAuth(s.handleCreateDepartment))

	mux.Handle("GET /api/events", s.requireAuth(s.handleEvents))

	s.logger.Info("api routes registered")
}

// requireAuth wraps a handler behind the bearer token middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return auth.Middleware(s.verifier, next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps domain errors onto HTTP statuses. Conflicting claims map
// to 409, capacity to 429, provider failures to 502.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var sendErr *delivery.SendError
	if errors.As(err, &sendErr) {
		err = sendErr.Err
	}

	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrOwnershipConflict):
		status, code = http.StatusConflict, "ownership_conflict"
	case errors.Is(err, store.ErrDuplicateConversation),
		errors.Is(err, store.ErrDuplicateAssignment):
		status, code = http.StatusConflict, "duplicate"
	case errors.Is(err, store.ErrAssignmentClosed):
		status, code = http.StatusConflict, "assignment_closed"
	case errors.Is(err, store.ErrCapacityExceeded):
		status, code = http.StatusTooManyRequests, "capacity_exceeded"
	case errors.Is(err, delivery.ErrMediaTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "media_too_large"
	case errors.Is(err, gateway.ErrGatewayFailure):
		status, code = http.StatusBadGateway, "gateway_failure"
	case errors.Is(err, routing.ErrInvalidStatus):
		status, code = http.StatusBadRequest, "invalid_status"
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

// decodeBody parses a JSON request body into dst
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
