package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
)

func TestOpenAIDecoderPassthrough(t *testing.T) {
	body := "data: {\"id\":\"chatcmpl-up\",\"object\":\"chat.completion.chunk\",\"model\":\"deepseek-chat\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"id\":\"chatcmpl-up\",\"object\":\"chat.completion.chunk\",\"model\":\"deepseek-chat\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"id\":\"chatcmpl-up\",\"object\":\"chat.completion.chunk\",\"model\":\"deepseek-chat\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"id\":\"chatcmpl-up\",\"object\":\"chat.completion.chunk\",\"model\":\"deepseek-chat\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"

	events := drain(t, newOpenAIDecoder(sseResponse(body), "fallback"))
	require.Len(t, events, 5)

	content, _ := joined(events)
	assert.Equal(t, "Hello", content)
	assert.Equal(t, protocol.EventDone, events[4].Kind)
	assert.Equal(t, "stop", events[3].FinishReason)
	// Upstream chunks pass through byte for byte, original id included.
	assert.Equal(t, "chatcmpl-up", gjson.GetBytes(events[1].Chunk, "id").String())
	assert.Equal(t, "deepseek-chat", events[1].Model)
}

func TestOpenAIDecoderLiftsReasoning(t *testing.T) {
	body := "data: {\"choices\":[{\"index\":0,\"delta\":{\"reasoning_content\":\"let me think\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"4\",\"reasoning_content\":\" more\"},\"finish_reason\":null}]}\n\n" +
		"data: [DONE]\n\n"

	events := drain(t, newOpenAIDecoder(sseResponse(body), "deepseek-reasoner"))
	require.Len(t, events, 3)

	// The reasoning-only chunk never reaches the client.
	assert.Equal(t, "let me think", events[0].ReasoningContent)
	assert.Nil(t, events[0].Chunk)

	// Mixed chunks keep the content and lose the reasoning field.
	assert.Equal(t, "4", events[1].Content)
	assert.Equal(t, " more", events[1].ReasoningContent)
	require.NotNil(t, events[1].Chunk)
	assert.False(t, gjson.GetBytes(events[1].Chunk, "choices.0.delta.reasoning_content").Exists())
	assert.Equal(t, "4", gjson.GetBytes(events[1].Chunk, "choices.0.delta.content").String())
}

func TestOpenAIDecoderUsageChunkSurvives(t *testing.T) {
	body := "data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":2,\"total_tokens\":3}}\n\n" +
		"data: [DONE]\n\n"

	events := drain(t, newOpenAIDecoder(sseResponse(body), "m"))
	require.Len(t, events, 3)
	require.NotNil(t, events[1].Chunk)
	assert.Equal(t, int64(3), gjson.GetBytes(events[1].Chunk, "usage.total_tokens").Int())
}

func TestOpenAIDecoderErrorEvent(t *testing.T) {
	body := "data: {\"error\":{\"message\":\"quota exceeded\",\"type\":\"insufficient_quota\"}}\n\n"

	d := newOpenAIDecoder(sseResponse(body), "m")
	require.True(t, d.Next())
	assert.Equal(t, protocol.EventError, d.Event().Kind)
	assert.ErrorContains(t, d.Event().Err, "quota exceeded")
	assert.False(t, d.Next())
	require.NoError(t, d.Close())
}

func TestOpenAIDecoderTruncatedStream(t *testing.T) {
	// No [DONE]: the decoder just stops, no done event is fabricated.
	body := "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"partial\"},\"finish_reason\":null}]}\n\n"

	events := drain(t, newOpenAIDecoder(sseResponse(body), "m"))
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventDelta, events[0].Kind)
}

func TestResponsesDecoder(t *testing.T) {
	body := "event: response.output_text.delta\n" +
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"Short\"}\n\n" +
		"event: response.reasoning_summary_text.delta\n" +
		"data: {\"type\":\"response.reasoning_summary_text.delta\",\"delta\":\"weighing\"}\n\n" +
		"event: response.output_text.delta\n" +
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\" answer\"}\n\n" +
		"event: response.completed\n" +
		"data: {\"type\":\"response.completed\",\"response\":{\"usage\":{\"input_tokens\":7,\"output_tokens\":2,\"total_tokens\":9}}}\n\n"

	events := drain(t, newResponsesDecoder(sseResponse(body), "gpt-5"))
	require.Len(t, events, 6)

	// Role chunk first, then deltas, closing chunk, done marker.
	assert.Equal(t, "assistant", gjson.GetBytes(events[0].Chunk, "choices.0.delta.role").String())
	content, reasoning := joined(events)
	assert.Equal(t, "Short answer", content)
	assert.Equal(t, "weighing", reasoning)

	closing := events[len(events)-2]
	assert.Equal(t, "stop", closing.FinishReason)
	assert.Equal(t, int64(9), gjson.GetBytes(closing.Chunk, "usage.total_tokens").Int())
	assert.Equal(t, protocol.EventDone, events[len(events)-1].Kind)

	// Reasoning deltas never become client chunks.
	for _, ev := range events {
		if ev.ReasoningContent != "" {
			assert.Nil(t, ev.Chunk)
		}
	}
}

func TestResponsesDecoderIncomplete(t *testing.T) {
	body := "event: response.output_text.delta\n" +
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"cut\"}\n\n" +
		"event: response.incomplete\n" +
		"data: {\"type\":\"response.incomplete\",\"response\":{\"status\":\"incomplete\"}}\n\n"

	events := drain(t, newResponsesDecoder(sseResponse(body), "gpt-5"))
	closing := events[len(events)-2]
	assert.Equal(t, "length", closing.FinishReason)
	assert.Equal(t, protocol.EventDone, events[len(events)-1].Kind)
}
