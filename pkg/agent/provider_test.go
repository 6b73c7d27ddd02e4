package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/agentgate/internal/config"
	openaioption "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	calls   int
	errs    []error
	partial bool
}

func (p *scriptedProvider) Provider() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, request LLMRequest, onDelta func(string)) (*LLMResponse, error) {
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if p.partial {
			onDelta("half")
		}
		return nil, err
	}
	onDelta("ok")
	return &LLMResponse{Content: "ok"}, nil
}

func TestProvidersFor(t *testing.T) {
	t.Run("no keys falls back to echo", func(t *testing.T) {
		p := NewProviders(config.ProvidersConfig{})
		assert.Equal(t, "echo", p.For("gpt-4o").Provider())
		assert.Equal(t, "echo", p.For("claude-3-5-haiku-latest").Provider())
	})

	t.Run("keys select vendors by model prefix", func(t *testing.T) {
		p := NewProviders(config.ProvidersConfig{OpenAIAPIKey: "sk-x", AnthropicAPIKey: "sk-ant-x"})
		assert.Equal(t, "openai", p.For("gpt-4o-mini").Provider())
		assert.Equal(t, "anthropic", p.For("claude-3-5-sonnet-latest").Provider())
		assert.Equal(t, "echo", p.For("echo").Provider())
	})
}

func TestStreamWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("permanent error is not retried", func(t *testing.T) {
		sp := &scriptedProvider{errs: []error{errors.New("invalid request")}}
		p := NewStaticProviders(sp)
		p.MaxRetries = 3

		_, err := p.StreamWithRetry(ctx, LLMRequest{}, func(string) {})
		assert.Error(t, err)
		assert.Equal(t, 1, sp.calls)
	})

	t.Run("transient error is retried", func(t *testing.T) {
		sp := &scriptedProvider{errs: []error{errors.New("status 503")}}
		p := NewStaticProviders(sp)
		p.MaxRetries = 2

		var got []string
		resp, err := p.StreamWithRetry(ctx, LLMRequest{}, func(d string) { got = append(got, d) })
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, 2, sp.calls)
		assert.Equal(t, []string{"ok"}, got)
	})

	t.Run("no retry after partial output", func(t *testing.T) {
		sp := &scriptedProvider{errs: []error{errors.New("status 503")}, partial: true}
		p := NewStaticProviders(sp)
		p.MaxRetries = 3

		_, err := p.StreamWithRetry(ctx, LLMRequest{}, func(string) {})
		assert.Error(t, err)
		assert.Equal(t, 1, sp.calls)
	})
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(errors.New("429 Too Many Requests")))
	assert.True(t, IsRetryableError(errors.New("read: ECONNRESET")))
	assert.True(t, IsRetryableError(errors.New("502 Bad Gateway")))
	assert.False(t, IsRetryableError(errors.New("401 Unauthorized")))
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"a ", "b  ", "c"}, splitWords("a b  c"))
	assert.Equal(t, []string{"one"}, splitWords("one"))
	assert.Empty(t, splitWords(""))
	assert.Equal(t, "x\ny z ", strings.Join(splitWords("x\ny z "), ""))
}

func TestAlternate(t *testing.T) {
	id := "call-1"
	out := alternate([]Message{
		HumanMessage("a"),
		HumanMessage("b"),
		AIMessage("c"),
		{Role: RoleTool, Name: "lookup", Content: "d", ToolCallID: &id},
		CustomMessage(RoleCustom, map[string]any{"x": 1}),
		AIMessage("e"),
	})

	require.Len(t, out, 4)
	assert.Equal(t, "a\n\nb", out[0].Content)
	assert.Equal(t, RoleAI, out[1].Role)
	assert.Equal(t, "[lookup] d", out[2].Content)
	assert.Equal(t, "e", out[3].Content)
}

func TestMessageText(t *testing.T) {
	m := Message{Role: RoleAI, Parts: []ContentPart{
		{Type: "text", Text: "Hello "},
		{Type: "tool_use", ID: "t1", Name: "search"},
		{Type: "text", Text: "world"},
	}}
	assert.Equal(t, "Hello world", m.Text())
	assert.Equal(t, "plain", AIMessage("plain").Text())
}

func sseHandler(t *testing.T, frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
	}
}

func TestOpenAIProviderStream(t *testing.T) {
	chunk := func(content string) string {
		return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":%q},"finish_reason":null}]}`+"\n\n", content)
	}
	srv := httptest.NewServer(sseHandler(t, []string{
		chunk("Hel"),
		chunk("lo"),
		"data: [DONE]\n\n",
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", openaioption.WithBaseURL(srv.URL+"/"), openaioption.WithMaxRetries(0))

	var got []string
	resp, err := p.Stream(context.Background(), LLMRequest{
		Model:        "gpt-4o-mini",
		SystemPrompt: "be nice",
		Messages:     []Message{HumanMessage("hi")},
	}, func(d string) { got = append(got, d) })

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, "Hello", resp.Content)
}

func TestAnthropicProviderStream(t *testing.T) {
	event := func(name, data string) string {
		return "event: " + name + "\ndata: " + data + "\n\n"
	}
	srv := httptest.NewServer(sseHandler(t, []string{
		event("message_start", `{"type":"message_start","message":{"id":"m1","type":"message","role":"assistant","content":[],"model":"claude-3-5-haiku-latest","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":5,"output_tokens":0}}}`),
		event("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`),
		event("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`),
		event("content_block_stop", `{"type":"content_block_stop","index":0}`),
		event("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`),
		event("message_stop", `{"type":"message_stop"}`),
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-ant-test", anthropicoption.WithBaseURL(srv.URL+"/"), anthropicoption.WithMaxRetries(0))

	var got []string
	resp, err := p.Stream(context.Background(), LLMRequest{
		Model:    "claude-3-5-haiku-latest",
		Messages: []Message{HumanMessage("hi")},
	}, func(d string) { got = append(got, d) })

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, 5, resp.Usage.InputTokens)
}
