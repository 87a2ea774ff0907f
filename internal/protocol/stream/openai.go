package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/responses"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
)

// reasoningDeltaKeys are the delta fields openai-compatible upstreams use
// for native reasoning output. DeepSeek sends reasoning_content, OpenRouter
// reasoning, a few gateways thinking.
var reasoningDeltaKeys = []string{"reasoning_content", "reasoning", "thinking"}

var doneMarker = []byte("[DONE]")

// openaiDecoder forwards openai-shaped chunks nearly untouched: native
// reasoning fields are lifted out of the delta, everything else passes
// through byte for byte so upstream extensions survive.
type openaiDecoder struct {
	raw   ssestream.Decoder
	model string
	event protocol.StreamEvent
	done  bool
}

func newOpenAIDecoder(resp *http.Response, model string) *openaiDecoder {
	return &openaiDecoder{raw: ssestream.NewDecoder(resp), model: model}
}

func (d *openaiDecoder) Next() bool {
	if d.done {
		return false
	}
	for d.raw.Next() {
		data := bytes.TrimSpace(d.raw.Event().Data)
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, doneMarker) {
			d.done = true
			d.event = protocol.StreamEvent{Kind: protocol.EventDone, Model: d.model}
			return true
		}
		if errObj := gjson.GetBytes(data, "error"); errObj.Exists() {
			d.done = true
			d.event = protocol.StreamEvent{
				Kind: protocol.EventError,
				Err:  fmt.Errorf("upstream stream error: %s", errObj.Get("message").String()),
			}
			return true
		}
		d.event = d.decodeChunk(data)
		return true
	}
	return false
}

func (d *openaiDecoder) decodeChunk(data []byte) protocol.StreamEvent {
	model := gjson.GetBytes(data, "model").String()
	if model == "" {
		model = d.model
	}
	evt := protocol.StreamEvent{
		Kind:         protocol.EventDelta,
		Model:        model,
		Content:      gjson.GetBytes(data, "choices.0.delta.content").String(),
		FinishReason: gjson.GetBytes(data, "choices.0.finish_reason").String(),
	}
	for _, key := range reasoningDeltaKeys {
		path := "choices.0.delta." + key
		v := gjson.GetBytes(data, path)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.String {
			evt.ReasoningContent += v.Str
		}
		data, _ = sjson.DeleteBytes(data, path)
	}
	evt.Chunk = data
	// A chunk that carried nothing but reasoning has no business reaching
	// the client; usage-only and role-only chunks still pass.
	if evt.ReasoningContent != "" && evt.Content == "" && evt.FinishReason == "" &&
		len(gjson.GetBytes(data, "choices.0.delta").Map()) == 0 {
		evt.Chunk = nil
	}
	return evt
}

func (d *openaiDecoder) Event() protocol.StreamEvent { return d.event }

func (d *openaiDecoder) Err() error {
	if err := d.raw.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (d *openaiDecoder) Close() error { return d.raw.Close() }

// responsesDecoder folds Responses API events back into chat completion
// chunks. Reasoning deltas surface as reasoning text, never as client
// chunks.
type responsesDecoder struct {
	stream   *ssestream.Stream[responses.ResponseStreamEventUnion]
	state    chunkState
	pending  []protocol.StreamEvent
	event    protocol.StreamEvent
	started  bool
	finished bool
}

func newResponsesDecoder(resp *http.Response, model string) *responsesDecoder {
	return &responsesDecoder{
		stream: ssestream.NewStream[responses.ResponseStreamEventUnion](ssestream.NewDecoder(resp), nil),
		state:  newChunkState(model),
	}
}

func (d *responsesDecoder) Next() bool {
	if len(d.pending) > 0 {
		d.event, d.pending = d.pending[0], d.pending[1:]
		return true
	}
	if d.finished {
		return false
	}
	for d.stream.Next() {
		ev := d.stream.Current()
		switch ev.Type {
		case "response.output_text.delta":
			text := ev.AsResponseOutputTextDelta().Delta
			if text == "" {
				continue
			}
			d.event = protocol.StreamEvent{
				Kind:    protocol.EventDelta,
				Model:   d.state.model,
				Content: text,
				Chunk:   d.state.chunk(map[string]interface{}{"content": text}, nil),
			}
			d.emitRole()
			return true

		case "response.reasoning_text.delta":
			d.event = protocol.StreamEvent{
				Kind:             protocol.EventDelta,
				Model:            d.state.model,
				ReasoningContent: ev.AsResponseReasoningTextDelta().Delta,
			}
			d.emitRole()
			return true

		case "response.reasoning_summary_text.delta":
			d.event = protocol.StreamEvent{
				Kind:             protocol.EventDelta,
				Model:            d.state.model,
				ReasoningContent: ev.AsResponseReasoningSummaryTextDelta().Delta,
			}
			d.emitRole()
			return true

		case "response.completed":
			completed := ev.AsResponseCompleted()
			d.finish("stop", map[string]interface{}{
				"prompt_tokens":     completed.Response.Usage.InputTokens,
				"completion_tokens": completed.Response.Usage.OutputTokens,
				"total_tokens":      completed.Response.Usage.TotalTokens,
			})
			return true

		case "response.incomplete":
			d.finish("length", nil)
			return true

		case "error", "response.failed":
			d.finished = true
			d.event = protocol.StreamEvent{
				Kind: protocol.EventError,
				Err:  fmt.Errorf("upstream responses error: %v", ev),
			}
			return true
		}
	}
	return false
}

// emitRole prefixes the first delta of the stream with the assistant role
// chunk clients expect.
func (d *responsesDecoder) emitRole() {
	if d.started {
		return
	}
	d.started = true
	d.pending = append(d.pending, d.event)
	d.event = protocol.StreamEvent{
		Kind:  protocol.EventDelta,
		Model: d.state.model,
		Chunk: d.state.chunk(map[string]interface{}{"role": "assistant"}, nil),
	}
}

// finish queues the closing chunk and the done marker.
func (d *responsesDecoder) finish(reason string, usage map[string]interface{}) {
	d.finished = true
	d.event = protocol.StreamEvent{
		Kind:         protocol.EventDelta,
		Model:        d.state.model,
		FinishReason: reason,
		Chunk:        d.state.chunkWithUsage(map[string]interface{}{}, reason, usage),
	}
	d.pending = append(d.pending, protocol.StreamEvent{Kind: protocol.EventDone, Model: d.state.model})
}

func (d *responsesDecoder) Event() protocol.StreamEvent { return d.event }

func (d *responsesDecoder) Err() error {
	if err := d.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (d *responsesDecoder) Close() error { return d.stream.Close() }
