package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/reasoning"
)

func TestBuildGemini(t *testing.T) {
	in := canonicalInput(t, `{"model":"gemini-2.5-flash","stream":true,"messages":[
		{"role":"system","content":"Be terse."},
		{"role":"user","content":"hi"},
		{"role":"assistant","content":"hello"}
	],"temperature":0.5,"max_tokens":256}`)
	in.BaseURL = "https://generativelanguage.googleapis.com"
	in.APIKey = "g-key"

	up, err := Build(protocol.FormatGemini, in)
	require.NoError(t, err)

	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:streamGenerateContent?alt=sse&key=g-key",
		up.URL)

	body := gjson.ParseBytes(up.Body)
	assert.Equal(t, "Be terse.", body.Get("systemInstruction.parts.0.text").String())
	require.Equal(t, int64(2), body.Get("contents.#").Int())
	assert.Equal(t, "user", body.Get("contents.0.role").String())
	assert.Equal(t, "model", body.Get("contents.1.role").String())
	assert.Equal(t, 0.5, body.Get("generationConfig.temperature").Float())
	assert.Equal(t, int64(256), body.Get("generationConfig.maxOutputTokens").Int())
	// The stream flag travels in the URL, never the body.
	assert.False(t, body.Get("stream").Exists())
}

func TestBuildGeminiNonStreaming(t *testing.T) {
	in := canonicalInput(t, `{"model":"gemini-2.5-flash","messages":[{"role":"user","content":"hi"}]}`)
	in.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	in.APIKey = "g-key"

	up, err := Build(protocol.FormatGemini, in)
	require.NoError(t, err)
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent?key=g-key",
		up.URL)
}

func TestBuildGeminiThinkingConfigPlacement(t *testing.T) {
	in := canonicalInput(t, `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`)
	in.BaseURL = "https://generativelanguage.googleapis.com"
	in.Reasoning = reasoning.Spec{Enabled: true, Type: reasoning.TypeGemini, Effort: reasoning.EffortAuto}

	up, err := Build(protocol.FormatGemini, in)
	require.NoError(t, err)

	body := gjson.ParseBytes(up.Body)
	assert.False(t, body.Get("thinkingConfig").Exists())
	assert.Equal(t, int64(-1), body.Get("generationConfig.thinkingConfig.thinkingBudget").Int())
	assert.True(t, body.Get("generationConfig.thinkingConfig.includeThoughts").Bool())
}

func TestGeminiToChatCompletion(t *testing.T) {
	resp := `{"candidates":[{"content":{"parts":[
			{"text":"step one","thought":true},
			{"text":"Result"}
		],"role":"model"},"finishReason":"MAX_TOKENS"}],
		"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":7,"totalTokenCount":12},
		"modelVersion":"gemini-2.5-flash"}`

	body, thoughts, err := geminiToChatCompletion([]byte(resp), "fallback")
	require.NoError(t, err)

	assert.Equal(t, "step one", thoughts)
	root := gjson.ParseBytes(body)
	assert.Equal(t, "Result", root.Get("choices.0.message.content").String())
	assert.Equal(t, "length", root.Get("choices.0.finish_reason").String())
	assert.Equal(t, "gemini-2.5-flash", root.Get("model").String())
	assert.Equal(t, int64(12), root.Get("usage.total_tokens").Int())
}
