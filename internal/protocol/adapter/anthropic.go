package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/thinkgate-dev/thinkgate/internal/reasoning"
)

const (
	anthropicVersion = "2023-06-01"
	// The Messages API requires max_tokens; clients speaking the OpenAI
	// shape usually omit it.
	anthropicDefaultMaxTokens = 4096
)

// buildAnthropic translates the canonical chat request into a Messages API
// call: system prompt extracted to the top level, string content wrapped in
// text blocks, stop renamed to stop_sequences.
func buildAnthropic(in BuildInput) (*Upstream, error) {
	var system string
	messages := make([]map[string]any, 0, len(in.Canonical.Messages))
	for _, m := range in.Canonical.Messages {
		role := m.Role
		switch role {
		case "system":
			if system == "" {
				system = m.Text()
				continue
			}
			// A second system prompt has no slot of its own.
			role = "user"
		case "tool":
			role = "user"
		}
		messages = append(messages, map[string]any{
			"role":    role,
			"content": []map[string]any{{"type": "text", "text": m.Text()}},
		})
	}

	maxTokens := anthropicDefaultMaxTokens
	if in.Params.MaxTokens != nil {
		maxTokens = *in.Params.MaxTokens
	}
	payload := map[string]any{
		"model":      in.Canonical.Model,
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if system != "" {
		payload["system"] = system
	}
	if in.Stream {
		payload["stream"] = true
	}
	if in.Params.Temperature != nil {
		payload["temperature"] = *in.Params.Temperature
	}
	if in.Params.TopP != nil {
		payload["top_p"] = *in.Params.TopP
	}
	if in.Params.TopK != nil {
		payload["top_k"] = *in.Params.TopK
	}
	if len(in.Params.Stop) > 0 {
		payload["stop_sequences"] = []string(in.Params.Stop)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic body: %w", err)
	}
	if body, err = reasoning.Apply(body, in.Reasoning); err != nil {
		return nil, fmt.Errorf("merge reasoning params: %w", err)
	}

	path := "/v1/messages"
	if basePath(in.BaseURL) == "/v1" {
		path = "/messages"
	}
	header := http.Header{}
	if in.APIKey != "" {
		header.Set("x-api-key", in.APIKey)
	}
	header.Set("anthropic-version", anthropicVersion)
	return &Upstream{
		URL:    joinURL(in.BaseURL, path),
		Header: header,
		Body:   body,
	}, nil
}

// anthropicToChatCompletion folds a Messages API response into the canonical
// completion shape. Thinking blocks come back separately as reasoning text.
func anthropicToChatCompletion(body []byte, model string) ([]byte, string, error) {
	root := gjson.ParseBytes(body)

	var content, thoughts string
	for _, block := range root.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			content += block.Get("text").String()
		case "thinking":
			thoughts += block.Get("thinking").String()
		}
	}

	finish := "stop"
	switch root.Get("stop_reason").String() {
	case "end_turn", "stop_sequence":
		finish = "stop"
	case "max_tokens":
		finish = "length"
	case "tool_use":
		finish = "tool_calls"
	}

	var usage map[string]any
	if u := root.Get("usage"); u.Exists() {
		in := u.Get("input_tokens").Int()
		out := u.Get("output_tokens").Int()
		usage = map[string]any{
			"prompt_tokens":     in,
			"completion_tokens": out,
			"total_tokens":      in + out,
		}
	}

	if m := root.Get("model").String(); m != "" {
		model = m
	}
	out, err := chatCompletion(root.Get("id").String(), model, content, finish, usage)
	return out, thoughts, err
}
