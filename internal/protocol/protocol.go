// Package protocol defines the canonical OpenAI-shaped request and stream
// types the proxy translates every upstream dialect to and from.
package protocol

import (
	"fmt"
	"strings"
)

// Format identifies an upstream wire protocol.
type Format string

const (
	FormatOpenAI         Format = "openai"
	FormatOpenAIResponse Format = "openai-response"
	FormatAnthropic      Format = "anthropic"
	FormatGemini         Format = "gemini"
	FormatAzureOpenAI    Format = "azure-openai"
)

// Formats returns all supported upstream formats.
func Formats() []Format {
	return []Format{FormatOpenAI, FormatOpenAIResponse, FormatAnthropic, FormatGemini, FormatAzureOpenAI}
}

// ParseFormat validates a format string from config or the X-API-Format
// header.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown api format %q", s)
}

// Message is one canonical chat message. Content is either a string or an
// OpenAI content-part array; Text flattens both.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Text returns the textual content of the message. Array content
// concatenates the text of each part.
func (m Message) Text() string {
	switch c := m.Content.(type) {
	case string:
		return c
	case []any:
		var b strings.Builder
		for _, part := range c {
			obj, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := obj["text"].(string); ok {
				b.WriteString(t)
			}
		}
		return b.String()
	}
	return ""
}

// ChatRequest is the canonical chat-completion request parsed from the
// client. Fields the proxy does not interpret stay in the raw body and are
// carried through by the adapters.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	LLMParams
}

// EventKind discriminates canonical stream events.
type EventKind int

const (
	EventDelta EventKind = iota
	EventDone
	EventError
)

// StreamEvent is one normalized upstream stream event. Chunk holds the
// canonical OpenAI chunk JSON for delta events so unrecognized fields
// survive the trip through the proxy.
type StreamEvent struct {
	Kind             EventKind
	Content          string
	ReasoningContent string
	Model            string
	FinishReason     string
	Chunk            []byte
	Err              error
}

// Error type labels used in the client-facing error envelope.
const (
	ErrTypeBadRequest         = "bad_request"
	ErrTypeUnauthorized       = "unauthorized"
	ErrTypeNoProfileMatch     = "no_profile_match"
	ErrTypeUpstreamError      = "upstream_error"
	ErrTypeUpstreamTimeout    = "upstream_timeout"
	ErrTypeUpstreamConnection = "upstream_connection"
	ErrTypeConfigInvalid      = "config_invalid"
	ErrTypeInternal           = "internal_error"
)

// ErrorDetail is the inner error object of the OpenAI error envelope.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// ErrorResponse is the client-facing error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// NewErrorResponse builds an envelope from a type label and message.
func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Message: message, Type: errType}}
}

// ModelInfo is one entry of the /v1/models listing.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelList is the OpenAI-shaped /v1/models response.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// NewModelList re-shapes a set of model ids into the OpenAI listing.
func NewModelList(ids []string) ModelList {
	list := ModelList{Object: "list", Data: make([]ModelInfo, 0, len(ids))}
	for _, id := range ids {
		list.Data = append(list.Data, ModelInfo{ID: id, Object: "model"})
	}
	return list
}
