package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/chat"
	"github.com/raaihank/sentinel-chat/internal/config"
	"github.com/raaihank/sentinel-chat/internal/entity"
	"github.com/raaihank/sentinel-chat/internal/llm"
	"github.com/raaihank/sentinel-chat/internal/logger"
	"github.com/raaihank/sentinel-chat/internal/recognizer"
	"github.com/raaihank/sentinel-chat/internal/session"
	"github.com/raaihank/sentinel-chat/internal/websocket"
)

type testEnv struct {
	server   *Server
	sessions *session.Manager
}

func newTestServer(t *testing.T, mutate func(*config.Config), hub *websocket.Hub) testEnv {
	t.Helper()

	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	rules, err := recognizer.NewRuleRecognizer([]string{"all"}, zap.NewNop())
	require.NoError(t, err)

	sessions := session.NewManager(session.Config{}, func() *entity.Resolver {
		return entity.NewResolver(entity.DefaultConfig(), rules, nil, zap.NewNop())
	}, nil, zap.NewNop())

	orch, err := chat.NewOrchestrator(cfg.Chat, sessions, llm.EchoModel{}, zap.NewNop())
	require.NoError(t, err)

	srv, err := New(cfg, logger.Nop(), orch, sessions, hub)
	require.NoError(t, err)
	return testEnv{server: srv, sessions: sessions}
}

func postJSON(t *testing.T, h http.Handler, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestChat(t *testing.T) {
	env := newTestServer(t, nil, nil)
	h := env.server.Handler()

	rec := postJSON(t, h, "/api/v1/chat", map[string]any{
		"prompt": "Email jones@example.com about the launch",
	}, http.Header{CorrelationHeader: {"corr-123"}})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "corr-123", rec.Header().Get(CorrelationHeader))

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "You said: Email jones@example.com about the launch", resp.Response)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, 1, env.sessions.Len())

	// a second turn in the same conversation reuses the session
	rec = postJSON(t, h, "/api/v1/chat", map[string]any{
		"prompt":     "Did jones@example.com reply?",
		"session_id": resp.SessionID,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.sessions.Len())
}

func TestChatWithFile(t *testing.T) {
	h := newTestServer(t, nil, nil).server.Handler()

	rec := postJSON(t, h, "/api/v1/chat", map[string]any{
		"prompt": "Summarise the notes",
		"files": []map[string]any{
			// data is base64 on the wire
			{"name": "notes.txt", "content_type": "text/plain", "data": []byte("call 212-555-5555")},
		},
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Response, "212-555-5555")
	assert.Contains(t, resp.Response, "# notes.txt")
}

func TestChatValidationErrors(t *testing.T) {
	h := newTestServer(t, nil, nil).server.Handler()

	tests := []struct {
		name      string
		body      string
		wantField string
		wantMsg   string
	}{
		{"short prompt", `{"prompt":"ab"}`, "prompt", "Prompt must be at least 3 characters"},
		{"empty request", `{}`, "prompt", "Prompt or at least one file is required"},
		{"unsupported file", `{"files":[{"name":"a.exe","data":"TVo="}]}`, "files", "File 1 (a.exe): File type '.exe' is not supported"},
		{"malformed json", `{"prompt":`, "body", "Request body must be a JSON object with prompt, files and session_id"},
		{"unknown field", `{"prompt":"hello","temperature":2}`, "body", "Request body must be a JSON object with prompt, files and session_id"},
		{"bad session id", `{"prompt":"hello","session_id":"no spaces allowed"}`, "session_id", "Invalid session id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "ValidationError", resp.Error)
			assert.Equal(t, tt.wantField, resp.Field)
			assert.Equal(t, tt.wantMsg, resp.Message)
			assert.Equal(t, "/api/v1/chat", resp.Path)
			assert.Equal(t, rec.Header().Get(CorrelationHeader), resp.CorrelationID)
			assert.NotEmpty(t, resp.CorrelationID)
		})
	}
}

func TestChatBodyTooLarge(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 16 }, nil).server.Handler()

	rec := postJSON(t, h, "/api/v1/chat", map[string]any{"prompt": strings.Repeat("a", 64)}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PayloadTooLarge", decodeError(t, rec).Error)
}

// stubChat returns a fixed error from every turn
type stubChat struct {
	err error
}

func (s stubChat) Process(ctx context.Context, req chat.Request) (*chat.Result, error) {
	return &chat.Result{Response: chat.GenericFailureMessage, State: chat.StateFailure}, s.err
}

func (s stubChat) Stream(ctx context.Context, req chat.Request, sink func(chat.Thought)) (*chat.Result, error) {
	sink(chat.Thought{Stage: chat.StateFailure, Message: chat.GenericFailureMessage})
	return s.Process(ctx, req)
}

func TestChatFailureIsGeneric(t *testing.T) {
	cfg := config.GetDefaults()
	sessions := session.NewManager(session.Config{}, func() *entity.Resolver {
		return entity.NewResolver(entity.DefaultConfig(), nil, nil, zap.NewNop())
	}, nil, zap.NewNop())

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "internal",
			err:        &chat.Error{Kind: chat.KindInternal, Stage: chat.StateAnonymised, Err: errors.New("recognizer exploded with jones@example.com")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "InternalServerError",
		},
		{
			name:       "deadline",
			err:        &chat.Error{Kind: chat.KindCanceled, Stage: chat.StateProcessed, Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantError:  "GatewayTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := New(cfg, logger.Nop(), stubChat{err: tt.err}, sessions, nil)
			require.NoError(t, err)

			rec := postJSON(t, srv.Handler(), "/api/v1/chat", map[string]any{"prompt": "hello"}, nil)
			require.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, chat.GenericFailureMessage, resp.Message)
			assert.NotContains(t, rec.Body.String(), "jones@example.com")
		})
	}
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, body *bufio.Scanner) []sseEvent {
	t.Helper()
	var (
		events  []sseEvent
		current sseEvent
	)
	for body.Scan() {
		line := body.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			current.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && current.name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events
}

func TestChatStream(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil, nil).server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/chat/stream", "application/json",
		strings.NewReader(`{"prompt":"Forward the invoice to jones@example.com"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, bufio.NewScanner(resp.Body))
	require.GreaterOrEqual(t, len(events), 3)

	var stages []string
	for _, ev := range events {
		if ev.name != "thought" {
			continue
		}
		var th chat.Thought
		require.NoError(t, json.Unmarshal([]byte(ev.data), &th))
		stages = append(stages, string(th.Stage))
	}
	assert.Equal(t, []string{"VALIDATED", "FILE_PROCESSED", "ANONYMISED", "PROCESSED", "DEANONYMISED", "SUCCESS"}, stages)

	content := events[len(events)-2]
	require.Equal(t, "content", content.name)
	var body ChatResponse
	require.NoError(t, json.Unmarshal([]byte(content.data), &body))
	assert.Equal(t, "You said: Forward the invoice to jones@example.com", body.Response)

	assert.Equal(t, "end", events[len(events)-1].name)
}

func TestChatStreamValidationError(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, nil, nil).server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/chat/stream", "application/json", strings.NewReader(`{"prompt":"ab"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readSSE(t, bufio.NewScanner(resp.Body))
	require.Len(t, events, 3)
	assert.Equal(t, "thought", events[0].name)
	assert.Equal(t, "error", events[1].name)
	assert.Equal(t, "end", events[2].name)

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &envelope))
	assert.Equal(t, http.StatusBadRequest, envelope.StatusCode)
	assert.Equal(t, "Prompt must be at least 3 characters", envelope.Message)
}

func TestUnknownSessionIDIsReplaced(t *testing.T) {
	env := newTestServer(t, nil, nil)
	h := env.server.Handler()

	var ids []string
	for _, prompt := range []string{"Email jones@example.com today", "What did I say before?"} {
		rec := postJSON(t, h, "/api/v1/chat", map[string]any{"prompt": prompt, "session_id": "test"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ChatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEqual(t, "test", resp.SessionID)
		ids = append(ids, resp.SessionID)
	}
	assert.NotEqual(t, ids[0], ids[1])
	assert.Equal(t, 2, env.sessions.Len())
}

func TestDeleteSession(t *testing.T) {
	env := newTestServer(t, nil, nil)
	h := env.server.Handler()

	rec := postJSON(t, h, "/api/v1/chat", map[string]any{"prompt": "hello there"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, env.sessions.Len())

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+resp.SessionID, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, env.sessions.Len())

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/bad$id", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1}
	}, nil).server.Handler()

	first := postJSON(t, h, "/api/v1/chat", map[string]any{"prompt": "hello"}, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := postJSON(t, h, "/api/v1/chat", map[string]any{"prompt": "hello"}, nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "TooManyRequests", decodeError(t, second).Error)

	// other clients and non-API routes are unaffected
	other := postJSON(t, h, "/api/v1/chat", map[string]any{"prompt": "hello"}, http.Header{"X-Forwarded-For": {"10.0.0.9"}})
	assert.Equal(t, http.StatusOK, other.Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutingEnvelopes(t *testing.T) {
	h := newTestServer(t, nil, nil).server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "NotFound", resp.Error)
	assert.NotEqual(t, "unknown", resp.CorrelationID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "MethodNotAllowed", decodeError(t, rec).Error)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.Server.AllowedOrigins = []string{"https://chat.example.com"}
	}, nil).server.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthAndInfo(t *testing.T) {
	h := newTestServer(t, nil, nil).server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "sentinel-chat", info["name"])
	assert.Equal(t, "echo", info["llm_provider"])
	assert.Equal(t, 0.6, info["entity_threshold"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<title>sentinel-chat</title>")
}

func TestDashboardFeedThroughMiddleware(t *testing.T) {
	hub := websocket.NewHub(websocket.HubConfig{BroadcastTransitions: true, BroadcastRequests: true}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ts := httptest.NewServer(newTestServer(t, nil, hub).server.Handler())
	defer ts.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.GetStats().ActiveConnections == 1 }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev websocket.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == websocket.EventTypeRequestLog {
			data, _ := json.Marshal(ev.Data)
			assert.Contains(t, string(data), `"path":"/health"`)
			return
		}
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 2})
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, time.Second, rl.RetryAfter())

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))

	rl.Update(config.RateLimitConfig{Enabled: false})
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("a"))
	}

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 2, rl.CleanupOldBuckets(time.Hour))
}
