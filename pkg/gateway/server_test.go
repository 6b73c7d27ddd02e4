package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/harun/agentgate/internal/config"
	"github.com/harun/agentgate/pkg/agent"
	"github.com/harun/agentgate/pkg/stream"
	"github.com/harun/agentgate/pkg/threadindex"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()

	index, err := threadindex.NewFileStore(filepath.Join(t.TempDir(), "threads.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	entries, err := agent.Builtin(agent.Deps{Logger: zerolog.Nop(), DefaultModel: "echo"})
	require.NoError(t, err)
	registry, err := agent.NewRegistry(agent.SimpleChatbot, entries...)
	require.NoError(t, err)

	cfg := Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}},
		Models: config.ModelsConfig{
			Default:   "echo",
			Available: []string{"gpt-4o", "echo", "claude-3-5-haiku-latest"},
		},
		Registry:       registry,
		Index:          index,
		HistoryDefault: agent.WorkflowExplainChatbot,
		Logger:         zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type wireFrame struct {
	Type    string
	Message stream.ChatMessage
	Text    string
}

// readSSE returns the decoded frames and the raw payloads of an SSE body.
func readSSE(t *testing.T, resp *http.Response) ([]wireFrame, []string) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var frames []wireFrame
	var payloads []string
	for _, event := range strings.Split(strings.TrimSuffix(string(body), "\n\n"), "\n\n") {
		require.True(t, strings.HasPrefix(event, "data: "), "malformed event %q", event)
		payload := strings.TrimPrefix(event, "data: ")
		payloads = append(payloads, payload)
		if payload == stream.Sentinel {
			continue
		}
		frames = append(frames, decodeFrame(t, []byte(payload)))
	}
	return frames, payloads
}

func decodeFrame(t *testing.T, payload []byte) wireFrame {
	t.Helper()
	var raw struct {
		Type    string          `json:"type"`
		Content json.RawMessage `json:"content"`
	}
	require.NoError(t, json.Unmarshal(payload, &raw))
	f := wireFrame{Type: raw.Type}
	if raw.Type == stream.FrameMessage {
		require.NoError(t, json.Unmarshal(raw.Content, &f.Message))
	} else {
		require.NoError(t, json.Unmarshal(raw.Content, &f.Text))
	}
	return f
}

func messagesOf(frames []wireFrame) []stream.ChatMessage {
	var out []stream.ChatMessage
	for _, f := range frames {
		if f.Type == stream.FrameMessage {
			out = append(out, f.Message)
		}
	}
	return out
}

func TestHealth(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	resp := get(t, ts, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "healthy"}, decode[map[string]string](t, resp))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestInfo(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	resp := get(t, ts, "/info")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	info := decode[ServiceMetadata](t, resp)
	assert.Equal(t, []string{"claude-3-5-haiku-latest", "echo", "gpt-4o"}, info.Models)
	assert.Equal(t, agent.SimpleChatbot, info.DefaultAgent)
	assert.Equal(t, "echo", info.DefaultModel)
	require.Len(t, info.Agents, 3)
	assert.Equal(t, agent.SimpleChatbot, info.Agents[0].Key)
	assert.NotEmpty(t, info.Agents[0].Description)
}

func TestStreamSimpleChatbot(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	resp := post(t, ts, "/simple_chatbot/stream", map[string]any{
		"message":   "hello there",
		"user_id":   "u1",
		"thread_id": "t1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "t1", resp.Header.Get("X-Thread-Id"))
	runID := resp.Header.Get("X-Run-Id")
	assert.NotEmpty(t, runID)

	frames, payloads := readSSE(t, resp)
	require.NotEmpty(t, payloads)
	assert.Equal(t, stream.Sentinel, payloads[len(payloads)-1])

	var text strings.Builder
	for _, f := range frames {
		if f.Type == stream.FrameToken {
			text.WriteString(f.Text)
		}
	}
	assert.Equal(t, "You said: hello there", text.String())

	messages := messagesOf(frames)
	require.Len(t, messages, 1)
	assert.Equal(t, "ai", messages[0].Type)
	assert.Equal(t, "You said: hello there", messages[0].Content)
	require.NotNil(t, messages[0].RunID)
	assert.Equal(t, runID, *messages[0].RunID)
}

func TestStreamDefaultAgentWithoutTokens(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	resp := post(t, ts, "/stream", map[string]any{"message": "hi", "stream_tokens": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames, _ := readSSE(t, resp)
	for _, f := range frames {
		assert.NotEqual(t, stream.FrameToken, f.Type)
	}
	assert.Len(t, messagesOf(frames), 1)
	assert.NotEmpty(t, resp.Header.Get("X-User-Id"))
}

func TestStreamRejections(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		detail string
	}{
		{"reserved agent_config key", "/simple_chatbot/stream",
			map[string]any{"message": "m", "agent_config": map[string]any{"thread_id": "x"}},
			http.StatusUnprocessableEntity, "reserved"},
		{"missing message", "/simple_chatbot/stream",
			map[string]any{"thread_id": "t"}, http.StatusUnprocessableEntity, "message"},
		{"wrong type", "/simple_chatbot/stream",
			map[string]any{"message": 3}, http.StatusUnprocessableEntity, "message"},
		{"unknown model", "/simple_chatbot/stream",
			map[string]any{"message": "m", "model": "gpt-9"}, http.StatusUnprocessableEntity, "unknown model"},
		{"unknown agent", "/nope/stream",
			map[string]any{"message": "m"}, http.StatusNotFound, detailAgentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.Contains(t, decode[ErrorResponse](t, resp).Detail, tt.detail)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/simple_chatbot/stream", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("rejected requests are not indexed", func(t *testing.T) {
		resp := get(t, ts, "/user_id/")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

type unstartableRuntime struct{}

func (unstartableRuntime) Stream(context.Context, agent.Input, agent.RunConfig) (*agent.Run, error) {
	return nil, errors.New("upstream unreachable")
}

func (unstartableRuntime) State(_ context.Context, rc agent.RunConfig) (agent.Snapshot, error) {
	return agent.Snapshot{ThreadID: rc.ThreadID}, nil
}

func TestStreamRunStartFailureIsInBand(t *testing.T) {
	_, ts := setupTestServer(t, func(cfg *Config) {
		entries, err := agent.Builtin(agent.Deps{Logger: zerolog.Nop(), DefaultModel: "echo"})
		require.NoError(t, err)
		entries = append(entries, agent.Entry{
			Info:    agent.Info{Key: "unstartable"},
			Runtime: unstartableRuntime{},
		})
		cfg.Registry, err = agent.NewRegistry(agent.SimpleChatbot, entries...)
		require.NoError(t, err)
	})

	resp := post(t, ts, "/unstartable/stream", map[string]any{"message": "hi", "thread_id": "t1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "t1", resp.Header.Get("X-Thread-Id"))

	frames, payloads := readSSE(t, resp)
	require.Len(t, frames, 1)
	assert.Equal(t, stream.FrameError, frames[0].Type)
	assert.Equal(t, stream.InternalServerError, frames[0].Text)
	require.Len(t, payloads, 2)
	assert.Equal(t, stream.Sentinel, payloads[1])
}

// A planner thread pauses for approval, then resumes with the reply.
func TestStreamPlannerInterruptAndResume(t *testing.T) {
	_, ts := setupTestServer(t, nil)
	body := map[string]any{"message": "onboard customers", "user_id": "u1", "thread_id": "plan-1"}

	resp := post(t, ts, "/workflow_planner_chatbot/stream", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	frames, _ := readSSE(t, resp)

	for _, f := range frames {
		assert.NotEqual(t, stream.FrameToken, f.Type, "planner tokens are internal")
		assert.NotEqual(t, stream.FrameError, f.Type)
	}
	messages := messagesOf(frames)
	require.GreaterOrEqual(t, len(messages), 2)
	assert.Equal(t, "workflow_plan", messages[0].Type)
	assert.NotEmpty(t, messages[0].CustomData["plan"])
	assert.Equal(t, "ai", messages[len(messages)-1].Type)
	assert.Contains(t, messages[len(messages)-1].Content, "yes")

	body["message"] = "yes"
	resp = post(t, ts, "/workflow_planner_chatbot/stream", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	frames, _ = readSSE(t, resp)

	messages = messagesOf(frames)
	require.Len(t, messages, 2)
	assert.Equal(t, "workflow_config", messages[0].Type)
	assert.Equal(t, true, messages[0].CustomData["approved"])
	assert.Equal(t, "ai", messages[1].Type)
	assert.Equal(t, "Plan confirmed.", messages[1].Content)
}

func TestHistoryAndIndexEndpoints(t *testing.T) {
	_, ts := setupTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, get(t, ts, "/user_id/").StatusCode)

	resp := post(t, ts, "/simple_chatbot/stream", map[string]any{"message": "hello", "user_id": "u1", "thread_id": "t1"})
	_, _ = readSSE(t, resp)

	t.Run("users", func(t *testing.T) {
		resp := get(t, ts, "/user_id/")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{"u1"}, decode[[]string](t, resp))
	})

	t.Run("threads", func(t *testing.T) {
		resp := get(t, ts, "/thread_id/u1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{"t1"}, decode[[]string](t, resp))

		resp = get(t, ts, "/thread_id/nobody")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, detailNoThreads, decode[ErrorResponse](t, resp).Detail)
	})

	t.Run("history", func(t *testing.T) {
		resp := post(t, ts, "/history", map[string]any{"thread_id": "t1"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		history := decode[HistoryResponse](t, resp)
		require.Len(t, history.Messages, 2)
		assert.Equal(t, "human", history.Messages[0].Type)
		assert.Equal(t, "hello", history.Messages[0].Content)
		assert.Equal(t, "ai", history.Messages[1].Type)
	})

	t.Run("history of unknown thread", func(t *testing.T) {
		resp := post(t, ts, "/history", map[string]any{"thread_id": "missing"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, detailThreadNotFound, decode[ErrorResponse](t, resp).Detail)
	})

	t.Run("history without thread id", func(t *testing.T) {
		resp := post(t, ts, "/history", map[string]any{})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
}

func TestBearerAuth(t *testing.T) {
	_, ts := setupTestServer(t, func(c *Config) { c.Server.AuthSecret = "s3cret" })

	do := func(path, token string) int {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, do("/info", ""))
	assert.Equal(t, http.StatusUnauthorized, do("/info", "Bearer wrong"))
	assert.Equal(t, http.StatusUnauthorized, do("/info", "Basic s3cret"))
	assert.Equal(t, http.StatusOK, do("/info", "Bearer s3cret"))
	assert.Equal(t, http.StatusOK, do("/health", ""))
	assert.Equal(t, http.StatusOK, do("/metrics", ""))
}

func TestCORS(t *testing.T) {
	_, ts := setupTestServer(t, func(c *Config) {
		c.Server.AllowedOrigins = []string{"https://app.example"}
	})

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/simple_chatbot/stream", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := preflight("https://app.example")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "authorization, content-type", resp.Header.Get("Access-Control-Allow-Headers"))

	resp = preflight("https://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStreamRateLimit(t *testing.T) {
	logs := &lockedBuffer{}
	_, ts := setupTestServer(t, func(c *Config) {
		c.Server.RequestsPerMinute = 1
		c.Logger = zerolog.New(logs)
	})

	resp := post(t, ts, "/stream", map[string]any{"message": "one"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, _ = readSSE(t, resp)

	resp = post(t, ts, "/stream", map[string]any{"message": "two"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Contains(t, logs.String(), `"requests":1`)

	// reads are not limited
	assert.Equal(t, http.StatusOK, get(t, ts, "/info").StatusCode)
}

func TestServerLifecycle(t *testing.T) {
	s, _ := setupTestServer(t, func(c *Config) {
		c.Server.Host = "127.0.0.1"
		c.Server.Port = 0
		c.Server.ShutdownTimeout = 1
	})

	require.NoError(t, s.Start())
	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stream", strings.NewReader(`{"message":"late"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}
