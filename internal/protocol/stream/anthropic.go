package stream

import (
	"errors"
	"io"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicstream "github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
)

// anthropicDecoder folds Messages API events into chat completion chunks.
// Thinking deltas surface as reasoning text, never as client chunks.
type anthropicDecoder struct {
	stream     *anthropicstream.Stream[anthropic.MessageStreamEventUnion]
	state      chunkState
	pending    []protocol.StreamEvent
	event      protocol.StreamEvent
	finished   bool
	stopReason string
	usageIn    int64
	usageOut   int64
}

func newAnthropicDecoder(resp *http.Response, model string) *anthropicDecoder {
	return &anthropicDecoder{
		stream: anthropicstream.NewStream[anthropic.MessageStreamEventUnion](anthropicstream.NewDecoder(resp), nil),
		state:  newChunkState(model),
	}
}

func (d *anthropicDecoder) Next() bool {
	if len(d.pending) > 0 {
		d.event, d.pending = d.pending[0], d.pending[1:]
		return true
	}
	if d.finished {
		return false
	}
	for d.stream.Next() {
		event := d.stream.Current()
		switch event.Type {
		case "message_start":
			if model := string(event.Message.Model); model != "" {
				d.state.model = model
			}
			d.event = protocol.StreamEvent{
				Kind:  protocol.EventDelta,
				Model: d.state.model,
				Chunk: d.state.chunk(map[string]interface{}{"role": "assistant"}, nil),
			}
			return true

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text == "" {
					continue
				}
				d.event = protocol.StreamEvent{
					Kind:    protocol.EventDelta,
					Model:   d.state.model,
					Content: event.Delta.Text,
					Chunk:   d.state.chunk(map[string]interface{}{"content": event.Delta.Text}, nil),
				}
				return true
			case "thinking_delta":
				if event.Delta.Thinking == "" {
					continue
				}
				d.event = protocol.StreamEvent{
					Kind:             protocol.EventDelta,
					Model:            d.state.model,
					ReasoningContent: event.Delta.Thinking,
				}
				return true
			}

		case "message_delta":
			// Carries the stop reason and final usage, no client chunk yet.
			if reason := string(event.Delta.StopReason); reason != "" {
				d.stopReason = reason
			}
			if event.Usage.InputTokens != 0 || event.Usage.OutputTokens != 0 {
				d.usageIn = event.Usage.InputTokens
				d.usageOut = event.Usage.OutputTokens
			}

		case "message_stop":
			d.finished = true
			var usage map[string]interface{}
			if d.usageIn != 0 || d.usageOut != 0 {
				usage = map[string]interface{}{
					"prompt_tokens":     d.usageIn,
					"completion_tokens": d.usageOut,
					"total_tokens":      d.usageIn + d.usageOut,
				}
			}
			reason := anthropicFinishReason(d.stopReason)
			d.event = protocol.StreamEvent{
				Kind:         protocol.EventDelta,
				Model:        d.state.model,
				FinishReason: reason,
				Chunk:        d.state.chunkWithUsage(map[string]interface{}{}, reason, usage),
			}
			d.pending = append(d.pending, protocol.StreamEvent{Kind: protocol.EventDone, Model: d.state.model})
			return true
		}
	}
	return false
}

func anthropicFinishReason(stop string) string {
	switch stop {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	}
	return "stop"
}

func (d *anthropicDecoder) Event() protocol.StreamEvent { return d.event }

func (d *anthropicDecoder) Err() error {
	if err := d.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (d *anthropicDecoder) Close() error { return d.stream.Close() }
