// ABOUTME: Agent, tag, and department management endpoints
// ABOUTME: Registration, presence flips, and label CRUD

package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/inbox-core/internal/store"
)

// agentBody is the JSON shape of one agent
type agentBody struct {
	ID                 string     `json:"id"`
	UserRef            string     `json:"user_ref"`
	DisplayName        string     `json:"display_name"`
	DepartmentID       string     `json:"department_id,omitempty"`
	MaxConcurrentChats int        `json:"max_concurrent_chats"`
	IsOnline           bool       `json:"is_online"`
	IsActive           bool       `json:"is_active"`
	LastActivityAt     *time.Time `json:"last_activity_at,omitempty"`
}

func toAgentBody(a *store.Agent) agentBody {
	return agentBody{
		ID:                 a.ID,
		UserRef:            a.UserRef,
		DisplayName:        a.DisplayName,
		DepartmentID:       a.DepartmentID,
		MaxConcurrentChats: a.MaxConcurrentChats,
		IsOnline:           a.IsOnline,
		IsActive:           a.IsActive,
		LastActivityAt:     a.LastActivityAt,
	}
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.registry.List(r.Context(), r.URL.Query().Get("department_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]agentBody, 0, len(agents))
	for _, a := range agents {
		items = append(items, toAgentBody(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": items})
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserRef            string `json:"user_ref"`
		DisplayName        string `json:"display_name"`
		DepartmentID       string `json:"department_id"`
		MaxConcurrentChats int    `json:"max_concurrent_chats"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserRef == "" || req.DisplayName == "" {
		http.Error(w, "user_ref and display_name are required", http.StatusBadRequest)
		return
	}

	agent := &store.Agent{
		UserRef:            req.UserRef,
		DisplayName:        req.DisplayName,
		DepartmentID:       req.DepartmentID,
		MaxConcurrentChats: req.MaxConcurrentChats,
		IsActive:           true,
	}
	if err := s.registry.Register(r.Context(), agent); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgentBody(agent))
}

func (s *Server) handleSetPresence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.registry.SetOnline(r.Context(), r.PathValue("id"), req.Online); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// labelBody is the JSON shape of tags and departments
type labelBody struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	SortOrder int    `json:"sort_order"`
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]labelBody, 0, len(tags))
	for _, t := range tags {
		items = append(items, labelBody{ID: t.ID, Name: t.Name, Color: t.Color, SortOrder: t.SortOrder})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": items})
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		Color     string `json:"color"`
		SortOrder int    `json:"sort_order"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	tag := &store.Tag{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Color:     req.Color,
		SortOrder: req.SortOrder,
	}
	if err := s.store.CreateTag(r.Context(), tag); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, labelBody{ID: tag.ID, Name: tag.Name, Color: tag.Color, SortOrder: tag.SortOrder})
}

func (s *Server) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := s.store.ListDepartments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]labelBody, 0, len(departments))
	for _, d := range departments {
		items = append(items, labelBody{ID: d.ID, Name: d.Name, Color: d.Color, SortOrder: d.SortOrder})
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": items})
}

func (s *Server) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		Color     string `json:"color"`
		SortOrder int    `json:"sort_order"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	dept := &store.Department{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Color:     req.Color,
		SortOrder: req.SortOrder,
	}
	if err := s.store.CreateDepartment(r.Context(), dept); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, labelBody{ID: dept.ID, Name: dept.Name, Color: dept.Color, SortOrder: dept.SortOrder})
}
