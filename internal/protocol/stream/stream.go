// Package stream normalizes upstream streaming responses into canonical
// OpenAI chat completion chunks, one decoder per upstream dialect.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
)

// Decoder walks one upstream stream and yields canonical events. Next
// advances to the next event; Err reports why the stream stopped, if
// anything went wrong.
type Decoder interface {
	Next() bool
	Event() protocol.StreamEvent
	Err() error
	Close() error
}

// NewDecoder picks the decoder for an upstream dialect. The response body is
// owned by the decoder from here on; Close releases it.
func NewDecoder(format protocol.Format, resp *http.Response, model string) Decoder {
	switch format {
	case protocol.FormatAnthropic:
		return newAnthropicDecoder(resp, model)
	case protocol.FormatGemini:
		return newGeminiDecoder(resp, model)
	case protocol.FormatOpenAIResponse:
		return newResponsesDecoder(resp, model)
	default:
		return newOpenAIDecoder(resp, model)
	}
}

// chunkState pins the id/created pair shared by every synthesized chunk of
// one response.
type chunkState struct {
	id      string
	created int64
	model   string
}

func newChunkState(model string) chunkState {
	now := time.Now().Unix()
	return chunkState{
		id:      fmt.Sprintf("chatcmpl-%d", now),
		created: now,
		model:   model,
	}
}

// chunk builds one canonical chat.completion.chunk. finish must be nil until
// the closing chunk so it serializes as JSON null.
func (s chunkState) chunk(delta map[string]interface{}, finish interface{}) []byte {
	return s.chunkWithUsage(delta, finish, nil)
}

func (s chunkState) chunkWithUsage(delta map[string]interface{}, finish interface{}, usage map[string]interface{}) []byte {
	doc := map[string]interface{}{
		"id":      s.id,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			},
		},
	}
	if usage != nil {
		doc["usage"] = usage
	}
	b, _ := json.Marshal(doc)
	return b
}
