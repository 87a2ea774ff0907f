package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
)

func TestGeminiDecoderSSE(t *testing.T) {
	body := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"sizing the problem\",\"thought\":true}],\"role\":\"model\"}}],\"modelVersion\":\"gemini-2.5-flash\"}\n\n" +
		"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"}],\"role\":\"model\"}}]}\n\n" +
		"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"lo\"}],\"role\":\"model\"},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":4,\"candidatesTokenCount\":6,\"totalTokenCount\":10}}\n\n"

	events := drain(t, newGeminiDecoder(sseResponse(body), "fallback"))
	require.Len(t, events, 6)

	assert.Equal(t, "assistant", gjson.GetBytes(events[0].Chunk, "choices.0.delta.role").String())
	assert.Equal(t, "gemini-2.5-flash", events[0].Model)

	content, reasoning := joined(events)
	assert.Equal(t, "Hello", content)
	assert.Equal(t, "sizing the problem", reasoning)
	// Thought parts never become client chunks.
	assert.Nil(t, events[1].Chunk)

	closing := events[len(events)-2]
	assert.Equal(t, "stop", closing.FinishReason)
	assert.Equal(t, int64(10), gjson.GetBytes(closing.Chunk, "usage.total_tokens").Int())
	assert.Equal(t, protocol.EventDone, events[len(events)-1].Kind)
}

func TestGeminiDecoderArrayFraming(t *testing.T) {
	body := "[{\n" +
		"  \"candidates\": [{\"content\": {\"parts\": [{\"text\": \"Hello\"}],\"role\": \"model\"}}]\n" +
		"}\n" +
		",\n" +
		"{\n" +
		"  \"candidates\": [{\"content\": {\"parts\": [{\"text\": \" world\"}],\"role\": \"model\"},\"finishReason\": \"STOP\"}]\n" +
		"}]\n"

	events := drain(t, newGeminiDecoder(sseResponse(body), "gemini-2.5-flash"))
	require.Len(t, events, 5)
	content, _ := joined(events)
	assert.Equal(t, "Hello world", content)
	assert.Equal(t, protocol.EventDone, events[len(events)-1].Kind)
}

func TestGeminiDecoderNDJSON(t *testing.T) {
	body := "{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"a\"}]}}]}\n" +
		"{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"b\"}]},\"finishReason\":\"MAX_TOKENS\"}]}\n"

	events := drain(t, newGeminiDecoder(sseResponse(body), "m"))
	require.Len(t, events, 5)
	content, _ := joined(events)
	assert.Equal(t, "ab", content)
	assert.Equal(t, "length", events[len(events)-2].FinishReason)
}

func TestGeminiDecoderSynthesizesDoneOnEOF(t *testing.T) {
	body := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"partial\"}]}}]}\n\n"

	events := drain(t, newGeminiDecoder(sseResponse(body), "m"))
	require.Len(t, events, 4)
	assert.Equal(t, "stop", events[2].FinishReason)
	assert.Equal(t, protocol.EventDone, events[3].Kind)
}

func TestGeminiDecoderErrorPayload(t *testing.T) {
	body := "data: {\"error\":{\"code\":400,\"message\":\"API key not valid\",\"status\":\"INVALID_ARGUMENT\"}}\n\n"

	d := newGeminiDecoder(sseResponse(body), "m")
	require.True(t, d.Next())
	assert.Equal(t, protocol.EventError, d.Event().Kind)
	assert.ErrorContains(t, d.Event().Err, "API key not valid")
	assert.False(t, d.Next())
	require.NoError(t, d.Close())
}

func TestGeminiFinishReason(t *testing.T) {
	assert.Equal(t, "stop", geminiFinishReason("STOP"))
	assert.Equal(t, "length", geminiFinishReason("MAX_TOKENS"))
	assert.Equal(t, "content_filter", geminiFinishReason("SAFETY"))
	assert.Equal(t, "stop", geminiFinishReason("FINISH_REASON_UNSPECIFIED"))
}
