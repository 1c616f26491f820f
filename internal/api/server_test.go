// ABOUTME: Tests for the HTTP API surface
// ABOUTME: End-to-end through the mux against a real sqlite store

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/inbox-core/internal/auth"
	"github.com/relaydesk/inbox-core/internal/delivery"
	"github.com/relaydesk/inbox-core/internal/gateway"
	"github.com/relaydesk/inbox-core/internal/notify"
	"github.com/relaydesk/inbox-core/internal/registry"
	"github.com/relaydesk/inbox-core/internal/routing"
	"github.com/relaydesk/inbox-core/internal/store"
)

type mockGateway struct {
	failWith  error
	textSends []string
}

func (g *mockGateway) SendText(ctx context.Context, to gateway.Recipient, body string) error {
	if g.failWith != nil {
		return g.failWith
	}
	g.textSends = append(g.textSends, body)
	return nil
}

func (g *mockGateway) SendMedia(ctx context.Context, to gateway.Recipient, media gateway.Media, caption string) error {
	return g.failWith
}

type testEnv struct {
	mux      *http.ServeMux
	store    *store.SQLiteStore
	gateway  *mockGateway
	verifier *auth.JWTVerifier
	bc       *notify.Broadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bc := notify.NewBroadcaster(nil)
	t.Cleanup(bc.Close)

	gw := &mockGateway{}
	engine := routing.New(s, bc, routing.Config{EnforceCapacity: true}, nil)
	pipeline := delivery.NewPipeline(s, gw, nil, bc, delivery.Options{}, nil)
	reg := registry.New(s, bc, nil)
	verifier := auth.NewJWTVerifier([]byte("test-secret"))

	server := New(s, engine, pipeline, reg, bc, bc, verifier, nil)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	return &testEnv{mux: mux, store: s, gateway: gw, verifier: verifier, bc: bc}
}

func (env *testEnv) token(t *testing.T, agentID string) string {
	t.Helper()
	token, err := env.verifier.Generate(&auth.Principal{AgentID: agentID}, time.Hour)
	require.NoError(t, err)
	return token
}

func (env *testEnv) do(t *testing.T, method, path, agentID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if agentID != "" {
		req.Header.Set("Authorization", "Bearer "+env.token(t, agentID))
	}
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) addAgent(t *testing.T, id string, maxChats int) {
	t.Helper()
	require.NoError(t, env.store.CreateAgent(context.Background(), &store.Agent{
		ID: id, UserRef: "u-" + id, DisplayName: id,
		MaxConcurrentChats: maxChats, IsActive: true,
	}))
}

// intake pushes one inbound message through the webhook and returns the
// conversation ID
func (env *testEnv) intake(t *testing.T, externalRef string) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/webhooks/inbound", "", map[string]any{
		"external_ref": externalRef,
		"display_name": "Contact",
		"content":      "hello there",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["conversation_id"]
}

func TestHealth_NoAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutes_RejectMissingToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInboundWebhook_CreatesConversationAndQueues(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "alice", 5)

	convID := env.intake(t, "+5511999000001")
	require.NotEmpty(t, convID)

	// Same sender again must not create a second conversation
	again := env.intake(t, "+5511999000001")
	assert.Equal(t, convID, again)

	rec := env.do(t, http.MethodGet, "/api/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []conversationItem `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, store.StatusTriage, resp.Conversations[0].Status)
	assert.Equal(t, 2, resp.Conversations[0].UnreadCount)
	assert.Equal(t, "hello there", resp.Conversations[0].LastPreview)
}

func TestClaim_SecondAgentGetsConflict(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "alice", 5)
	env.addAgent(t, "bob", 5)
	convID := env.intake(t, "+5511999000001")

	rec := env.do(t, http.MethodPost, "/api/conversations/"+convID+"/claim", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var a assignmentBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, store.StatusActive, a.Status)
	require.NotNil(t, a.AgentID)
	assert.Equal(t, "alice", *a.AgentID)

	rec = env.do(t, http.MethodPost, "/api/conversations/"+convID+"/claim", "bob", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ownership_conflict", body.Code)
}

func TestClaim_AtCapacityGets429(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "alice", 1)

	first := env.intake(t, "+5511999000001")
	second := env.intake(t, "+5511999000002")

	rec := env.do(t, http.MethodPost, "/api/conversations/"+first+"/claim", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/conversations/"+second+"/claim", "alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "capacity_exceeded", body.Code)
}

func TestSendText_PersistsAndReturnsMessage(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "alice", 5)
	convID := env.intake(t, "+5511999000001")

	rec := env.do(t, http.MethodPost, "/api/conversations/"+convID+"/messages/text", "alice",
		map[string]string{"content": "on my way"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var msg messageBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, store.DirectionOutbound, msg.Direction)
	assert.Equal(t, "on my way", msg.Content)
	assert.Equal(t, []string{"on my way"}, env.gateway.textSends)

	rec = env.do(t, http.MethodGet, "/api/conversations/"+convID+"/messages", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []messageBody `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2) // inbound + outbound
}

func TestSendText_GatewayFailureMapsTo502(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "alice", 5)
	convID := env.intake(t, "+5511999000001")

	env.gateway.failWith = fmt.Errorf("%w: provider down", gateway.ErrGatewayFailure)

	rec := env.do(t, http.MethodPost, "/api/conversations/"+convID+"/messages/text", "alice",
		map[string]string{"content": "lost"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "gateway_failure", body.Code)
}

func TestSetStatus_InvalidNameRejected(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "alice", 5)
	env.intake(t, "+5511999000001")

	rec := env.do(t, http.MethodGet, "/api/conversations", "alice", nil)
	var resp struct {
		Conversations []conversationItem `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assignmentID := resp.Conversations[0].AssignmentID

	rec = env.do(t, http.MethodPost, "/api/assignments/"+assignmentID+"/status", "alice",
		map[string]string{"status": "resolved"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetFlag_ArchiveHidesFromList(t *testing.T) {
	env := newTestEnv(t)
	env.addAgent(t, "alice", 5)
	convID := env.intake(t, "+5511999000001")

	rec := env.do(t, http.MethodPost, "/api/conversations/"+convID+"/flags", "alice",
		map[string]any{"flag": "archived", "on": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/conversations", "alice", nil)
	var resp struct {
		Conversations []conversationItem `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Conversations)
}

func TestEvents_StreamsPublishedEvents(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "alice"))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		env.mux.ServeHTTP(rec, req)
		close(done)
	}()

	// Give the handler time to subscribe, then publish and disconnect
	time.Sleep(50 * time.Millisecond)
	env.bc.Publish(&notify.Event{
		ID:             "ev1",
		Type:           notify.EventConversationUpdated,
		ConversationID: "c1",
		At:             time.Now(),
	})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "event: connected"), "missing connected event: %s", body)
	assert.True(t, strings.Contains(body, "event: conversation.updated"), "missing published event: %s", body)
	assert.True(t, strings.Contains(body, `"conversation_id":"c1"`), "missing event payload: %s", body)
}

func TestRegisterAgent_AndPresence(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/agents", "admin", map[string]any{
		"user_ref":             "u1",
		"display_name":         "Alice",
		"max_concurrent_chats": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var a agentBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	require.NotEmpty(t, a.ID)

	rec = env.do(t, http.MethodPost, "/api/agents/"+a.ID+"/presence", "admin",
		map[string]bool{"online": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/agents", "admin", nil)
	var resp struct {
		Agents []agentBody `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Agents, 1)
	assert.True(t, resp.Agents[0].IsOnline)
}
