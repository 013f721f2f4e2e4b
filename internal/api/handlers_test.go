package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"todochat/internal/auth"
	"todochat/internal/config"
	"todochat/internal/models"
	"todochat/internal/service/chat"
	"todochat/internal/service/tasks"
	"todochat/internal/storage"
)

const testSecret = "test-secret"

// mockAgent echoes a canned reply, or a fallback when failing is set,
// matching the always-persistable contract of the real assistant.
type mockAgent struct {
	reply   string
	failing bool
	// captured inputs from the last Respond call
	lastOwner   string
	lastQuery   string
	lastHistory []models.Message
}

func (m *mockAgent) Respond(_ context.Context, ownerID, query string, history []models.Message) (string, bool) {
	m.lastOwner = ownerID
	m.lastQuery = query
	m.lastHistory = history
	if m.failing {
		return "I'm sorry, I encountered a timeout while processing your request. The response took too long to generate.", false
	}
	if m.reply == "" {
		return "done", true
	}
	return m.reply, true
}

func newTestServer(t *testing.T) (*gin.Engine, *sql.DB, *mockAgent) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	agent := &mockAgent{}
	handler := NewHandler(tasks.NewService(db), chat.NewService(db), auth.NewService(testSecret, nil), agent, []string{"*"})
	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db, agent
}

func bearerFor(t *testing.T, userID string) map[string]string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + signed}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d (want %d), body: %s", rec.Code, want, rec.Body.String())
	}
}

func TestTaskEndpointsFlow(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()
	alice := bearerFor(t, "alice")

	// Create a task.
	createResp := doJSONRequest(t, router, http.MethodPost, "/api/alice/tasks", map[string]any{
		"title":    "buy milk",
		"priority": "high",
		"starred":  true,
	}, alice)
	assertStatus(t, createResp, http.StatusCreated)
	var task models.Task
	decodeJSON(t, createResp.Body.Bytes(), &task)
	if task.ID <= 0 || task.Title != "buy milk" || task.Priority != models.PriorityHigh {
		t.Fatalf("unexpected created task: %+v", task)
	}

	// List shows it.
	listResp := doJSONRequest(t, router, http.MethodGet, "/api/alice/tasks", nil, alice)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Tasks []models.Task `json:"tasks"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(listBody.Tasks))
	}

	// Partial update keeps unset fields.
	updateResp := doJSONRequest(t, router, http.MethodPut,
		fmt.Sprintf("/api/alice/tasks/%d", task.ID),
		map[string]any{"description": "2 liters"}, alice)
	assertStatus(t, updateResp, http.StatusOK)
	var updated models.Task
	decodeJSON(t, updateResp.Body.Bytes(), &updated)
	if updated.Description != "2 liters" || updated.Title != "buy milk" || !updated.Starred {
		t.Fatalf("partial update clobbered fields: %+v", updated)
	}

	// Toggle twice restores the original completion state.
	toggleResp := doJSONRequest(t, router, http.MethodPatch,
		fmt.Sprintf("/api/alice/tasks/%d/complete", task.ID), nil, alice)
	assertStatus(t, toggleResp, http.StatusOK)
	var toggled models.Task
	decodeJSON(t, toggleResp.Body.Bytes(), &toggled)
	if !toggled.Completed {
		t.Fatalf("expected completed after toggle")
	}
	toggleResp = doJSONRequest(t, router, http.MethodPatch,
		fmt.Sprintf("/api/alice/tasks/%d/complete", task.ID), nil, alice)
	assertStatus(t, toggleResp, http.StatusOK)
	decodeJSON(t, toggleResp.Body.Bytes(), &toggled)
	if toggled.Completed {
		t.Fatalf("expected original state after second toggle")
	}

	// Delete, then the task is gone.
	deleteResp := doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/alice/tasks/%d", task.ID), nil, alice)
	assertStatus(t, deleteResp, http.StatusNoContent)
	getResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/alice/tasks/%d", task.ID), nil, alice)
	assertStatus(t, getResp, http.StatusNotFound)
}

func TestTaskValidationStatus(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()
	alice := bearerFor(t, "alice")

	resp := doJSONRequest(t, router, http.MethodPost, "/api/alice/tasks", map[string]any{
		"title": "   ",
	}, alice)
	assertStatus(t, resp, http.StatusUnprocessableEntity)
	var body struct {
		Field string `json:"field"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Field != "title" {
		t.Fatalf("expected field title, got %q", body.Field)
	}

	resp = doJSONRequest(t, router, http.MethodPost, "/api/alice/tasks", map[string]any{
		"title": "ok", "priority": "urgent",
	}, alice)
	assertStatus(t, resp, http.StatusUnprocessableEntity)
}

func TestAuthStatusCodes(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	// No credential at all.
	resp := doJSONRequest(t, router, http.MethodGet, "/api/alice/tasks", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)

	// Garbage token.
	resp = doJSONRequest(t, router, http.MethodGet, "/api/alice/tasks", nil,
		map[string]string{"Authorization": "Bearer not-a-jwt"})
	assertStatus(t, resp, http.StatusUnauthorized)

	// Expired token.
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	resp = doJSONRequest(t, router, http.MethodGet, "/api/alice/tasks", nil,
		map[string]string{"Authorization": "Bearer " + signed})
	assertStatus(t, resp, http.StatusUnauthorized)

	// Valid token for bob on alice's path is forbidden, not unauthorized.
	resp = doJSONRequest(t, router, http.MethodGet, "/api/alice/tasks", nil, bearerFor(t, "bob"))
	assertStatus(t, resp, http.StatusForbidden)
}

func TestCrossUserEntityHiding(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()
	alice := bearerFor(t, "alice")
	bob := bearerFor(t, "bob")

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/alice/tasks",
		map[string]any{"title": "secret"}, alice)
	assertStatus(t, createResp, http.StatusCreated)
	var task models.Task
	decodeJSON(t, createResp.Body.Bytes(), &task)

	// Bob asks for alice's task id through his own scope: 404, not 403,
	// so the id does not leak existence.
	resp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/bob/tasks/%d", task.ID), nil, bob)
	assertStatus(t, resp, http.StatusNotFound)
	resp = doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/bob/tasks/%d", task.ID), nil, bob)
	assertStatus(t, resp, http.StatusNotFound)

	// Non-numeric id also reads as a missing entity.
	resp = doJSONRequest(t, router, http.MethodGet, "/api/alice/tasks/abc", nil, alice)
	assertStatus(t, resp, http.StatusNotFound)

	// Same hiding for conversations.
	convResp := doJSONRequest(t, router, http.MethodPost, "/api/alice/conversations", nil, alice)
	assertStatus(t, convResp, http.StatusCreated)
	var conv models.Conversation
	decodeJSON(t, convResp.Body.Bytes(), &conv)
	resp = doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/bob/conversations/%d", conv.ID), nil, bob)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestConversationEndpointsFlow(t *testing.T) {
	router, db, agent := newTestServer(t)
	defer db.Close()
	alice := bearerFor(t, "alice")
	agent.reply = "Added task 1 for you."

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/alice/conversations", nil, alice)
	assertStatus(t, createResp, http.StatusCreated)
	var conv models.Conversation
	decodeJSON(t, createResp.Body.Bytes(), &conv)
	if conv.ID <= 0 {
		t.Fatalf("expected conversation id")
	}

	sendResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/alice/conversations/%d/messages", conv.ID),
		map[string]string{"content": "add a task to buy milk"}, alice)
	assertStatus(t, sendResp, http.StatusCreated)
	var sendBody struct {
		Message  models.Message `json:"message"`
		Reply    models.Message `json:"reply"`
		Answered bool           `json:"answered"`
	}
	decodeJSON(t, sendResp.Body.Bytes(), &sendBody)
	if sendBody.Message.Role != models.RoleUser || sendBody.Reply.Role != models.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", sendBody)
	}
	if sendBody.Reply.Content != agent.reply || !sendBody.Answered {
		t.Fatalf("unexpected reply: %+v", sendBody)
	}
	if agent.lastOwner != "alice" || agent.lastQuery != "add a task to buy milk" {
		t.Fatalf("agent saw wrong input: owner=%q query=%q", agent.lastOwner, agent.lastQuery)
	}
	if len(agent.lastHistory) != 0 {
		t.Fatalf("first turn must see empty history, got %d", len(agent.lastHistory))
	}

	// Second turn replays the stored history.
	sendResp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/alice/conversations/%d/messages", conv.ID),
		map[string]string{"content": "thanks"}, alice)
	assertStatus(t, sendResp, http.StatusCreated)
	if len(agent.lastHistory) != 2 {
		t.Fatalf("second turn must see 2 history messages, got %d", len(agent.lastHistory))
	}

	msgResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/alice/conversations/%d/messages", conv.ID), nil, alice)
	assertStatus(t, msgResp, http.StatusOK)
	var msgBody struct {
		Messages []models.Message `json:"messages"`
	}
	decodeJSON(t, msgResp.Body.Bytes(), &msgBody)
	if len(msgBody.Messages) != 4 {
		t.Fatalf("expected 4 stored messages, got %d", len(msgBody.Messages))
	}
}

func TestSendMessageAgentFallbackPersisted(t *testing.T) {
	router, db, agent := newTestServer(t)
	defer db.Close()
	alice := bearerFor(t, "alice")
	agent.failing = true

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/alice/conversations", nil, alice)
	assertStatus(t, createResp, http.StatusCreated)
	var conv models.Conversation
	decodeJSON(t, createResp.Body.Bytes(), &conv)

	// Even when the assistant fails, the turn succeeds and the fallback
	// text lands in the transcript.
	sendResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/alice/conversations/%d/messages", conv.ID),
		map[string]string{"content": "hello"}, alice)
	assertStatus(t, sendResp, http.StatusCreated)
	var sendBody struct {
		Reply    models.Message `json:"reply"`
		Answered bool           `json:"answered"`
	}
	decodeJSON(t, sendResp.Body.Bytes(), &sendBody)
	if sendBody.Answered {
		t.Fatalf("expected answered=false on fallback")
	}
	if sendBody.Reply.Content == "" {
		t.Fatalf("fallback reply must not be empty")
	}

	msgResp := doJSONRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/alice/conversations/%d/messages", conv.ID), nil, alice)
	assertStatus(t, msgResp, http.StatusOK)
	var msgBody struct {
		Messages []models.Message `json:"messages"`
	}
	decodeJSON(t, msgResp.Body.Bytes(), &msgBody)
	if len(msgBody.Messages) != 2 {
		t.Fatalf("expected user+fallback rows, got %d", len(msgBody.Messages))
	}
	if msgBody.Messages[1].Role != models.RoleAssistant || msgBody.Messages[1].Content != sendBody.Reply.Content {
		t.Fatalf("fallback not persisted: %+v", msgBody.Messages[1])
	}
}

func TestSendMessageValidation(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()
	alice := bearerFor(t, "alice")

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/alice/conversations", nil, alice)
	assertStatus(t, createResp, http.StatusCreated)
	var conv models.Conversation
	decodeJSON(t, createResp.Body.Bytes(), &conv)

	resp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/alice/conversations/%d/messages", conv.ID),
		map[string]string{"content": ""}, alice)
	assertStatus(t, resp, http.StatusUnprocessableEntity)

	// Whitespace-only content is within the length bounds and accepted.
	resp = doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/alice/conversations/%d/messages", conv.ID),
		map[string]string{"content": "   "}, alice)
	assertStatus(t, resp, http.StatusCreated)

	// Unknown conversation is a 404 before any agent call.
	resp = doJSONRequest(t, router, http.MethodPost,
		"/api/alice/conversations/9999/messages",
		map[string]string{"content": "hello"}, alice)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	handler := NewHandler(tasks.NewService(db), chat.NewService(db), auth.NewService(testSecret, nil), &mockAgent{}, []string{"http://app.example"})
	router := gin.New()
	handler.RegisterRoutes(router)

	resp := doJSONRequest(t, router, http.MethodOptions, "/api/alice/tasks", nil,
		map[string]string{"Origin": "http://app.example"})
	assertStatus(t, resp, http.StatusNoContent)
	if resp.Header().Get("Access-Control-Allow-Origin") != "http://app.example" {
		t.Fatalf("expected allow-origin header, got %q", resp.Header().Get("Access-Control-Allow-Origin"))
	}

	// Unknown origins get neither the headers nor the 204 short-circuit.
	resp = doJSONRequest(t, router, http.MethodOptions, "/api/alice/tasks", nil,
		map[string]string{"Origin": "http://evil.example"})
	if resp.Code == http.StatusNoContent {
		t.Fatalf("preflight must not succeed for disallowed origin")
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("allow-origin header leaked for disallowed origin")
	}
}

func TestHealthAndRoot(t *testing.T) {
	router, db, _ := newTestServer(t)
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodGet, "/health", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	resp = doJSONRequest(t, router, http.MethodGet, "/", nil, nil)
	assertStatus(t, resp, http.StatusOK)
}
