// Package adapter translates between the canonical OpenAI chat shape and
// each upstream dialect: request bodies, endpoint URLs, credential headers,
// and non-streaming response bodies.
package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/reasoning"
)

// BuildInput is everything needed to point one canonical request at one
// upstream.
type BuildInput struct {
	Canonical *protocol.ChatRequest
	// RawBody is the canonical body after sampling merge and pruning. The
	// openai dialect forwards it as-is so unrecognized fields survive.
	RawBody   []byte
	Params    protocol.LLMParams
	Reasoning reasoning.Spec
	BaseURL   string
	APIKey    string
	Stream    bool
}

// Upstream is a fully-addressed upstream request.
type Upstream struct {
	URL    string
	Header http.Header
	Body   []byte
}

// Build assembles the upstream request for a dialect: dialect body,
// reasoning fragment merge, dialect quirks, endpoint URL, credential
// headers.
func Build(format protocol.Format, in BuildInput) (*Upstream, error) {
	var (
		up  *Upstream
		err error
	)
	switch format {
	case protocol.FormatOpenAI:
		up, err = buildOpenAI(in)
	case protocol.FormatOpenAIResponse:
		up, err = buildOpenAIResponse(in)
	case protocol.FormatAnthropic:
		up, err = buildAnthropic(in)
	case protocol.FormatGemini:
		up, err = buildGemini(in)
	case protocol.FormatAzureOpenAI:
		up, err = buildAzure(in)
	default:
		return nil, fmt.Errorf("unknown api format %q", format)
	}
	if err != nil {
		return nil, err
	}
	up.Header.Set("Content-Type", "application/json")
	up.Header.Set("Accept", "application/json, text/event-stream")
	return up, nil
}

// TransformResponse converts one non-streaming upstream response body into a
// canonical chat completion, returning any native reasoning text it carried.
func TransformResponse(format protocol.Format, body []byte, model string) ([]byte, string, error) {
	switch format {
	case protocol.FormatOpenAI, protocol.FormatAzureOpenAI:
		return normalizeOpenAIResponse(body)
	case protocol.FormatOpenAIResponse:
		return responsesToChatCompletion(body, model)
	case protocol.FormatAnthropic:
		return anthropicToChatCompletion(body, model)
	case protocol.FormatGemini:
		return geminiToChatCompletion(body, model)
	}
	return nil, "", fmt.Errorf("unknown api format %q", format)
}

// chatCompletion assembles a canonical non-streaming completion body.
func chatCompletion(id, model, content, finishReason string, usage map[string]any) ([]byte, error) {
	if id == "" {
		id = fmt.Sprintf("chatcmpl-%d", time.Now().Unix())
	}
	doc := map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finishReason,
		}},
	}
	if usage != nil {
		doc["usage"] = usage
	}
	return json.Marshal(doc)
}

// joinURL appends a path to a base URL, tolerating trailing slashes.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// basePath returns the path component of a base URL for suffix checks.
func basePath(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}
