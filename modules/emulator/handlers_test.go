package emulator

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/chat-sync-client/auth"
	"github.com/example/chat-sync-client/config"
)

const testSecret = "test-secret"

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

func testConfig() config.Emulator {
	return config.Emulator{
		Port:        "0",
		JWTSecret:   testSecret,
		TokenTTL:    time.Hour,
		CORSOrigins: "*",
	}
}

func newTestModule(t *testing.T, users ...string) *Module {
	t.Helper()
	m := NewModule(testConfig(), "127.0.0.1:0", &mockLogger{})
	for _, id := range users {
		m.Store().PutUser(User{ID: id, Name: "name-" + id})
	}
	return m
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.Issue([]byte(testSecret), userID, "name-"+userID, time.Hour)
	require.NoError(t, err)
	return token
}

// call performs a request against app and decodes the envelope.
func call(t *testing.T, app *fiber.App, method, path, token string, body any) (int, Response, json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env.Response, env.Data
}

func TestAuthMiddleware(t *testing.T) {
	app := newTestModule(t, "alice").newApp()

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantMsg    string
	}{
		{name: "missing header", wantStatus: http.StatusUnauthorized, wantMsg: "Authorization header is required"},
		{name: "not bearer", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantMsg: "Invalid authorization header format"},
		{name: "invalid token", header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantMsg: "Invalid or expired token"},
		{name: "valid token", header: "Bearer " + tokenFor(t, "alice"), wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/chat/unread-count", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var env Response
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
			assert.Equal(t, tt.wantStatus == http.StatusOK, env.Success)
			assert.Contains(t, env.Message, tt.wantMsg)
		})
	}
}

func TestLogin(t *testing.T) {
	m := newTestModule(t)
	app := m.newApp()

	status, env, data := call(t, app, http.MethodPost, "/api/auth/token", "", LoginRequest{UserID: "dave", Name: "Dave"})
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Success)

	var login LoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	assert.Equal(t, User{ID: "dave", Name: "Dave"}, login.User)

	sub, err := auth.Verify([]byte(testSecret), login.Token)
	require.NoError(t, err)
	assert.Equal(t, "dave", sub)

	_, found := m.Store().GetUser("dave")
	assert.True(t, found)

	status, env, _ = call(t, app, http.MethodPost, "/api/auth/token", "", LoginRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.Success)
}

func TestChatFlow(t *testing.T) {
	app := newTestModule(t, "alice", "bob", "carol").newApp()
	alice, bob, carol := tokenFor(t, "alice"), tokenFor(t, "bob"), tokenFor(t, "carol")

	status, _, data := call(t, app, http.MethodPost, "/api/chat/rooms", alice, CreateRoomRequest{OtherUserID: "bob"})
	require.Equal(t, http.StatusOK, status)
	var room struct {
		ID string `json:"chatRoomId"`
	}
	require.NoError(t, json.Unmarshal(data, &room))
	require.NotEmpty(t, room.ID)

	// Either ordering yields the same room.
	_, _, data = call(t, app, http.MethodPost, "/api/chat/rooms", bob, CreateRoomRequest{OtherUserID: "alice"})
	assert.JSONEq(t, `"`+room.ID+`"`, string(mustField(t, data, "chatRoomId")))

	status, _, _ = call(t, app, http.MethodPost, "/api/chat/rooms/"+room.ID+"/messages", alice, map[string]string{"content": "hi bob", "type": "TEXT"})
	require.Equal(t, http.StatusCreated, status)
	status, _, _ = call(t, app, http.MethodPost, "/api/chat/rooms/"+room.ID+"/messages", alice, map[string]string{"content": "hello?"})
	require.Equal(t, http.StatusCreated, status)

	_, _, data = call(t, app, http.MethodGet, "/api/chat/unread-count", bob, nil)
	assert.JSONEq(t, `{"unreadCount":2}`, string(data))

	_, _, data = call(t, app, http.MethodGet, "/api/chat/rooms/"+room.ID+"/messages?limit=1", bob, nil)
	var msgs []map[string]any
	require.NoError(t, json.Unmarshal(data, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello?", msgs[0]["content"])
	assert.Equal(t, "alice", msgs[0]["senderId"])

	status, _, data = call(t, app, http.MethodPut, "/api/chat/rooms/"+room.ID+"/read", bob, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"markedCount":2}`, string(data))

	_, _, data = call(t, app, http.MethodGet, "/api/chat/unread-count", bob, nil)
	assert.JSONEq(t, `{"unreadCount":0}`, string(data))

	status, env, _ := call(t, app, http.MethodGet, "/api/chat/rooms/"+room.ID+"/messages", carol, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.False(t, env.Success)

	_, _, data = call(t, app, http.MethodGet, "/api/chat/rooms", carol, nil)
	assert.JSONEq(t, `[]`, string(data))
}

func TestChatErrors(t *testing.T) {
	app := newTestModule(t, "alice", "bob").newApp()
	alice := tokenFor(t, "alice")

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{name: "missing other user id", method: http.MethodPost, path: "/api/chat/rooms", body: CreateRoomRequest{}, wantStatus: http.StatusBadRequest},
		{name: "room with self", method: http.MethodPost, path: "/api/chat/rooms", body: CreateRoomRequest{OtherUserID: "alice"}, wantStatus: http.StatusBadRequest},
		{name: "unknown user", method: http.MethodPost, path: "/api/chat/rooms", body: CreateRoomRequest{OtherUserID: "ghost"}, wantStatus: http.StatusNotFound},
		{name: "unknown room history", method: http.MethodGet, path: "/api/chat/rooms/nope/messages", wantStatus: http.StatusNotFound},
		{name: "unknown room read", method: http.MethodPut, path: "/api/chat/rooms/nope/read", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env, _ := call(t, app, tt.method, tt.path, alice, tt.body)
			assert.Equal(t, tt.wantStatus, status)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestModule(t, "alice").newApp()

	status, env, _ := call(t, app, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chat_emulator_socket_connections")
}

func mustField(t *testing.T, data json.RawMessage, field string) json.RawMessage {
	t.Helper()
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &obj))
	return obj[field]
}
