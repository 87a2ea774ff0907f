package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
)

// geminiDecoder folds generateContent stream payloads into chat completion
// chunks. The endpoint is asked for SSE framing, but NDJSON and the JSON
// array framing of older deployments decode the same way, so all three are
// tolerated. Gemini never sends a terminator; the done marker is synthesized
// from finishReason or EOF.
type geminiDecoder struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	state    chunkState
	pending  []protocol.StreamEvent
	event    protocol.StreamEvent
	started  bool
	finished bool
	err      error

	// array-framing accumulator
	buf   bytes.Buffer
	carry string
	depth int
	inStr bool
	esc   bool
}

func newGeminiDecoder(resp *http.Response, model string) *geminiDecoder {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &geminiDecoder{
		body:    resp.Body,
		scanner: scanner,
		state:   newChunkState(model),
	}
}

func (d *geminiDecoder) Next() bool {
	if len(d.pending) > 0 {
		d.event, d.pending = d.pending[0], d.pending[1:]
		return true
	}
	if d.finished {
		return false
	}
	for {
		payload := d.nextPayload()
		if payload == nil {
			// Upstream closed without a finishReason; close the stream for
			// the client anyway.
			d.finished = true
			d.event = protocol.StreamEvent{
				Kind:         protocol.EventDelta,
				Model:        d.state.model,
				FinishReason: "stop",
				Chunk:        d.state.chunk(map[string]interface{}{}, "stop"),
			}
			d.pending = append(d.pending, protocol.StreamEvent{Kind: protocol.EventDone, Model: d.state.model})
			return true
		}
		if d.decodePayload(payload) {
			return true
		}
	}
}

// decodePayload turns one JSON payload into pending events. Returns false
// when the payload carried nothing of interest.
func (d *geminiDecoder) decodePayload(payload []byte) bool {
	root := gjson.ParseBytes(payload)

	if errObj := root.Get("error"); errObj.Exists() {
		d.finished = true
		d.event = protocol.StreamEvent{
			Kind: protocol.EventError,
			Err:  fmt.Errorf("upstream stream error: %s", errObj.Get("message").String()),
		}
		return true
	}
	if m := root.Get("modelVersion").String(); m != "" {
		d.state.model = m
	}

	candidate := root.Get("candidates.0")
	var content, thoughts strings.Builder
	for _, part := range candidate.Get("content.parts").Array() {
		text := part.Get("text").String()
		if part.Get("thought").Bool() {
			thoughts.WriteString(text)
			continue
		}
		content.WriteString(text)
	}
	finishReason := candidate.Get("finishReason").String()

	var events []protocol.StreamEvent
	if !d.started && (content.Len() > 0 || thoughts.Len() > 0 || finishReason != "") {
		d.started = true
		events = append(events, protocol.StreamEvent{
			Kind:  protocol.EventDelta,
			Model: d.state.model,
			Chunk: d.state.chunk(map[string]interface{}{"role": "assistant"}, nil),
		})
	}
	if thoughts.Len() > 0 {
		events = append(events, protocol.StreamEvent{
			Kind:             protocol.EventDelta,
			Model:            d.state.model,
			ReasoningContent: thoughts.String(),
		})
	}
	if content.Len() > 0 {
		events = append(events, protocol.StreamEvent{
			Kind:    protocol.EventDelta,
			Model:   d.state.model,
			Content: content.String(),
			Chunk:   d.state.chunk(map[string]interface{}{"content": content.String()}, nil),
		})
	}
	if finishReason != "" {
		d.finished = true
		reason := geminiFinishReason(finishReason)
		var usage map[string]interface{}
		if u := root.Get("usageMetadata"); u.Exists() {
			usage = map[string]interface{}{
				"prompt_tokens":     u.Get("promptTokenCount").Int(),
				"completion_tokens": u.Get("candidatesTokenCount").Int(),
				"total_tokens":      u.Get("totalTokenCount").Int(),
			}
		}
		events = append(events,
			protocol.StreamEvent{
				Kind:         protocol.EventDelta,
				Model:        d.state.model,
				FinishReason: reason,
				Chunk:        d.state.chunkWithUsage(map[string]interface{}{}, reason, usage),
			},
			protocol.StreamEvent{Kind: protocol.EventDone, Model: d.state.model},
		)
	}

	if len(events) == 0 {
		return false
	}
	d.event, d.pending = events[0], append(d.pending, events[1:]...)
	return true
}

func geminiFinishReason(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "content_filter"
	}
	return "stop"
}

// nextPayload scans forward to the next complete JSON object, whatever the
// framing.
func (d *geminiDecoder) nextPayload() []byte {
	if d.carry != "" {
		line := d.carry
		d.carry = ""
		if payload := d.accumulate(line); payload != nil {
			return payload
		}
	}
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "" || data == "[DONE]" {
				continue
			}
			return []byte(data)
		}
		if payload := d.accumulate(line); payload != nil {
			return payload
		}
	}
	if err := d.scanner.Err(); err != nil {
		d.err = err
	}
	return nil
}

// accumulate feeds one line of array-framed JSON into a brace counter and
// returns a complete top-level object once the depth returns to zero.
// Anything after the object on the same line is carried to the next call.
func (d *geminiDecoder) accumulate(line string) []byte {
	for i := 0; i < len(line); i++ {
		c := line[i]
		if d.inStr {
			d.buf.WriteByte(c)
			if d.esc {
				d.esc = false
				continue
			}
			switch c {
			case '\\':
				d.esc = true
			case '"':
				d.inStr = false
			}
			continue
		}
		switch c {
		case '"':
			d.inStr = true
			d.buf.WriteByte(c)
		case '{':
			d.depth++
			d.buf.WriteByte(c)
		case '}':
			d.depth--
			d.buf.WriteByte(c)
			if d.depth == 0 {
				payload := append([]byte(nil), d.buf.Bytes()...)
				d.buf.Reset()
				d.carry = line[i+1:]
				return payload
			}
		default:
			// Array brackets and separators between objects stay outside
			// the buffer.
			if d.depth > 0 {
				d.buf.WriteByte(c)
			}
		}
	}
	if d.depth > 0 {
		d.buf.WriteByte('\n')
	}
	return nil
}

func (d *geminiDecoder) Event() protocol.StreamEvent { return d.event }

func (d *geminiDecoder) Err() error { return d.err }

func (d *geminiDecoder) Close() error { return d.body.Close() }
