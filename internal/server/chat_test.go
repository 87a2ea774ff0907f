package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/thinkgate-dev/thinkgate/internal/config"
	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/thinking"
)

// sseUpstream serves a canned SSE exchange and records what it was sent.
func sseUpstream(t *testing.T, capture *upstreamCapture, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		capture.record(r, body)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			_, _ = io.WriteString(w, frame)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// jsonUpstream serves one JSON body and records what it was sent.
func jsonUpstream(t *testing.T, capture *upstreamCapture, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqBody, _ := io.ReadAll(r.Body)
		capture.record(r, reqBody)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// collectFragments drains n fragments from a subscriber, failing on timeout.
func collectFragments(t *testing.T, sub *thinking.Subscriber, n int) []thinking.Fragment {
	t.Helper()
	out := make([]thinking.Fragment, 0, n)
	for len(out) < n {
		select {
		case f := <-sub.C():
			out = append(out, f)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for fragment %d of %d", len(out)+1, n)
		}
	}
	return out
}

func openaiChunk(content string) string {
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","model":"deepseek-r1","choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`+"\n\n", content)
}

func TestChatCompletionsRejectsBadInput(t *testing.T) {
	store := newTestStore(t, "https://api.example.com/v1", protocol.FormatOpenAI)
	srv := New(store)

	tests := []struct {
		name     string
		body     string
		wantType string
	}{
		{"invalid json", `{"model":`, protocol.ErrTypeBadRequest},
		{"missing model", `{"messages":[]}`, protocol.ErrTypeBadRequest},
		{"temperature out of range", `{"model":"gpt-4o","messages":[],"temperature":9.5}`, protocol.ErrTypeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions", []byte(tt.body), nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantType, errType(t, w))
		})
	}
}

func TestChatCompletionsNoProfileMatch(t *testing.T) {
	// A document with no default profile: unmatched models have nowhere to go.
	cfgPath := filepath.Join(t.TempDir(), "proxy_config.json")
	doc := `{
		"proxy": {"port": 8318},
		"profiles": [{
			"id": "p-claude",
			"name": "claude only",
			"model_patterns": ["claude-*"],
			"match_type": "wildcard",
			"enabled": true,
			"upstream": {"base_url": "https://api.anthropic.com", "api_format": "anthropic"}
		}],
		"version": 1
	}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))
	store := config.NewStore(cfgPath)
	require.NoError(t, store.Load())

	srv := New(store)
	w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"gpt-4o","messages":[]}`), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, protocol.ErrTypeNoProfileMatch, errType(t, w))
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := jsonUpstream(t, capture, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "deepseek-r1",
		"choices": [{"index":0,"message":{"role":"assistant","content":"<think>plan the answer</think>Answer"},"finish_reason":"stop"}],
		"usage": {"prompt_tokens":3,"completion_tokens":9,"total_tokens":12}
	}`)

	store := newTestStore(t, upstream.URL, protocol.FormatOpenAI)
	srv := New(store)
	sub := srv.Bus().Subscribe(0)
	defer sub.Close()

	w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"deepseek-r1","messages":[{"role":"user","content":"hi"}]}`), nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, "Answer", gjson.Get(body, "choices.0.message.content").String())
	assert.NotContains(t, body, "<think>")
	assert.Equal(t, int64(12), gjson.Get(body, "usage.total_tokens").Int())

	frags := collectFragments(t, sub, 2)
	assert.Equal(t, thinking.EventThinking, frags[0].Type)
	assert.Equal(t, "plan the answer", frags[0].Content)
	assert.Equal(t, "deepseek-r1", frags[0].Model)
	assert.Equal(t, thinking.EventDone, frags[1].Type)

	_, header, upBody := capture.snapshot()
	assert.Equal(t, "Bearer sk-upstream-1234", header.Get("Authorization"))
	assert.Equal(t, "deepseek-r1", gjson.GetBytes(upBody, "model").String())
}

func TestChatCompletionsStreamingStripsAcrossChunks(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := sseUpstream(t, capture,
		`data: {"id":"c1","object":"chat.completion.chunk","model":"deepseek-r1","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`+"\n\n",
		openaiChunk("<thi"),
		openaiChunk("nk>secret plan</thi"),
		openaiChunk("nk>Hello"),
		`data: {"id":"c1","object":"chat.completion.chunk","model":"deepseek-r1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n",
		"data: [DONE]\n\n",
	)

	store := newTestStore(t, upstream.URL, protocol.FormatOpenAI)
	srv := New(store)
	sub := srv.Bus().Subscribe(0)
	defer sub.Close()

	w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"deepseek-r1","messages":[{"role":"user","content":"hi"}],"stream":true}`), nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `"content":"Hello"`)
	assert.NotContains(t, body, "secret plan")
	assert.NotContains(t, body, "<think>")
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"), "stream must end with DONE, got:\n%s", body)
	assert.Contains(t, body, `"finish_reason":"stop"`)

	frags := collectFragments(t, sub, 2)
	assert.Equal(t, thinking.EventThinking, frags[0].Type)
	assert.Equal(t, "secret plan", frags[0].Content)
	assert.Equal(t, thinking.EventDone, frags[1].Type)
}

func TestChatCompletionsStreamingPassthroughWhenFilterOff(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := sseUpstream(t, capture,
		openaiChunk("<think>visible</think>ok"),
		"data: [DONE]\n\n",
	)

	store := newTestStore(t, upstream.URL, protocol.FormatOpenAI)
	p := store.Profiles()[0]
	p.Reasoning.FilterThinkingTags = false
	_, err := store.UpdateProfile(p.ID, p)
	require.NoError(t, err)

	srv := New(store)
	w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"m","messages":[],"stream":true}`), nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<think>visible</think>ok")
}

func TestChatCompletionsStreamingUnterminatedThink(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := sseUpstream(t, capture,
		openaiChunk("x"),
		openaiChunk("<think>y"),
		"data: [DONE]\n\n",
	)

	store := newTestStore(t, upstream.URL, protocol.FormatOpenAI)
	srv := New(store)
	sub := srv.Bus().Subscribe(0)
	defer sub.Close()

	w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"m","messages":[],"stream":true}`), nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"content":"x"`)
	assert.NotContains(t, body, `"content":"y"`)

	frags := collectFragments(t, sub, 2)
	assert.Equal(t, "y", frags[0].Content)
	assert.Equal(t, thinking.EventDone, frags[1].Type)
}

func TestChatCompletionsAnthropicStream(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := sseUpstream(t, capture,
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-sonnet\",\"role\":\"assistant\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"thinking_delta\",\"thinking\":\"I think\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"OK\"}}\n\n",
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":5}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	)

	store := newTestStore(t, upstream.URL, protocol.FormatAnthropic)
	srv := New(store)
	sub := srv.Bus().Subscribe(0)
	defer sub.Close()

	w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"claude-sonnet","messages":[{"role":"user","content":"hi"}],"stream":true}`), nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"content":"OK"`)
	assert.NotContains(t, body, "I think")
	assert.Contains(t, body, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	frags := collectFragments(t, sub, 2)
	assert.Equal(t, thinking.EventThinking, frags[0].Type)
	assert.Equal(t, "I think", frags[0].Content)
	assert.Equal(t, "claude-sonnet", frags[0].Model)
	assert.Equal(t, thinking.EventDone, frags[1].Type)

	_, header, upBody := capture.snapshot()
	assert.Equal(t, "sk-upstream-1234", header.Get("x-api-key"))
	assert.NotEmpty(t, header.Get("anthropic-version"))
	assert.True(t, gjson.GetBytes(upBody, "max_tokens").Exists())
}

func TestChatCompletionsUpstreamErrorRelayedVerbatim(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := jsonUpstream(t, capture, http.StatusTooManyRequests,
		`{"error":{"message":"rate limited","type":"rate_limit_error"}}`)

	store := newTestStore(t, upstream.URL, protocol.FormatOpenAI)
	srv := New(store)

	w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"m","messages":[]}`), nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":{"message":"rate limited","type":"rate_limit_error"}}`, w.Body.String())
}

func TestChatCompletionsUpstreamConnectionError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	store := newTestStore(t, url, protocol.FormatOpenAI)
	srv := New(store)

	w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"m","messages":[]}`), nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, protocol.ErrTypeUpstreamConnection, errType(t, w))
}

func TestChatCompletionsStreamErrorFrame(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := sseUpstream(t, capture,
		openaiChunk("partial"),
		`data: {"error":{"message":"backend exploded","type":"server_error"}}`+"\n\n",
	)

	store := newTestStore(t, upstream.URL, protocol.FormatOpenAI)
	srv := New(store)

	w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"m","messages":[],"stream":true}`), nil)

	// The stream was already committed, so the failure arrives in-band.
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"content":"partial"`)
	assert.Contains(t, body, protocol.ErrTypeUpstreamError)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestChatCompletionsHeaderOverrides(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := jsonUpstream(t, capture, http.StatusOK,
		`{"id":"1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`)

	// The profile points somewhere unreachable; the header redirects.
	store := newTestStore(t, "http://127.0.0.1:1/v1", protocol.FormatOpenAI)
	srv := New(store)

	w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
		[]byte(`{"model":"m","messages":[]}`),
		map[string]string{"X-Upstream-Base-URL": upstream.URL})
	assert.Equal(t, http.StatusOK, w.Code)

	t.Run("invalid base url", func(t *testing.T) {
		w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
			[]byte(`{"model":"m","messages":[]}`),
			map[string]string{"X-Upstream-Base-URL": "not-a-url"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, protocol.ErrTypeBadRequest, errType(t, w))
	})

	t.Run("invalid api format", func(t *testing.T) {
		w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
			[]byte(`{"model":"m","messages":[]}`),
			map[string]string{"X-API-Format": "smoke-signals"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestChatCompletionsParamPrecedence(t *testing.T) {
	capture := &upstreamCapture{}
	upstream := jsonUpstream(t, capture, http.StatusOK,
		`{"id":"1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`)

	store := newTestStore(t, upstream.URL, protocol.FormatOpenAI)
	p := store.Profiles()[0]
	temp := 0.5
	p.LLMParams.Temperature = &temp
	_, err := store.UpdateProfile(p.ID, p)
	require.NoError(t, err)
	srv := New(store)

	t.Run("request wins over profile", func(t *testing.T) {
		w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
			[]byte(`{"model":"m","messages":[],"temperature":0.9}`), nil)
		require.Equal(t, http.StatusOK, w.Code)
		_, _, upBody := capture.snapshot()
		assert.InDelta(t, 0.9, gjson.GetBytes(upBody, "temperature").Float(), 1e-9)
	})

	t.Run("profile fills the gap", func(t *testing.T) {
		w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
			[]byte(`{"model":"m","messages":[]}`), nil)
		require.Equal(t, http.StatusOK, w.Code)
		_, _, upBody := capture.snapshot()
		assert.InDelta(t, 0.5, gjson.GetBytes(upBody, "temperature").Float(), 1e-9)
	})

	t.Run("undefined sentinel pruned", func(t *testing.T) {
		w := doRequest(srv.GetRouter(), http.MethodPost, "/v1/chat/completions",
			[]byte(`{"model":"m","messages":[],"user":"[undefined]"}`), nil)
		require.Equal(t, http.StatusOK, w.Code)
		_, _, upBody := capture.snapshot()
		assert.False(t, gjson.GetBytes(upBody, "user").Exists())
	})
}
