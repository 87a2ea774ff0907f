package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/reasoning"
)

// buildOpenAIResponse translates the canonical chat request into a Responses
// API call: messages become input items and max_tokens becomes
// max_output_tokens.
func buildOpenAIResponse(in BuildInput) (*Upstream, error) {
	payload := map[string]any{
		"model": in.Canonical.Model,
		"input": responsesInput(in.Canonical.Messages),
	}
	if in.Stream {
		payload["stream"] = true
	}
	if in.Params.MaxTokens != nil {
		payload["max_output_tokens"] = *in.Params.MaxTokens
	}
	if in.Params.Temperature != nil {
		payload["temperature"] = *in.Params.Temperature
	}
	if in.Params.TopP != nil {
		payload["top_p"] = *in.Params.TopP
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal responses body: %w", err)
	}
	if body, err = reasoning.Apply(body, in.Reasoning); err != nil {
		return nil, fmt.Errorf("merge reasoning params: %w", err)
	}
	// The Responses API spells effort as reasoning.effort, not the chat
	// completion reasoning_effort field.
	if effort := gjson.GetBytes(body, "reasoning_effort"); effort.Exists() {
		if body, err = sjson.SetBytes(body, "reasoning.effort", effort.Value()); err != nil {
			return nil, err
		}
		if body, err = sjson.DeleteBytes(body, "reasoning_effort"); err != nil {
			return nil, err
		}
	}

	header := http.Header{}
	if in.APIKey != "" {
		header.Set("Authorization", "Bearer "+in.APIKey)
	}
	return &Upstream{
		URL:    joinURL(in.BaseURL, "/responses"),
		Header: header,
		Body:   body,
	}, nil
}

// responsesInput maps chat messages onto Responses input items. Assistant
// turns carry output_text parts, everything else input_text.
func responsesInput(messages []protocol.Message) []map[string]any {
	items := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		partType := "input_text"
		switch role {
		case "assistant":
			partType = "output_text"
		case "tool":
			role = "user"
		}
		items = append(items, map[string]any{
			"role":    role,
			"content": []map[string]any{{"type": partType, "text": m.Text()}},
		})
	}
	return items
}

// responsesToChatCompletion folds a completed Response object back into the
// canonical completion shape, pulling reasoning summaries out as thinking
// text.
func responsesToChatCompletion(body []byte, model string) ([]byte, string, error) {
	root := gjson.ParseBytes(body)

	var content, thoughts string
	for _, item := range root.Get("output").Array() {
		switch item.Get("type").String() {
		case "message":
			for _, part := range item.Get("content").Array() {
				if part.Get("type").String() == "output_text" {
					content += part.Get("text").String()
				}
			}
		case "reasoning":
			for _, part := range item.Get("summary").Array() {
				thoughts += part.Get("text").String()
			}
		}
	}

	finish := "stop"
	if root.Get("status").String() == "incomplete" &&
		root.Get("incomplete_details.reason").String() == "max_output_tokens" {
		finish = "length"
	}

	var usage map[string]any
	if u := root.Get("usage"); u.Exists() {
		usage = map[string]any{
			"prompt_tokens":     u.Get("input_tokens").Int(),
			"completion_tokens": u.Get("output_tokens").Int(),
			"total_tokens":      u.Get("total_tokens").Int(),
		}
	}

	if m := root.Get("model").String(); m != "" {
		model = m
	}
	out, err := chatCompletion(root.Get("id").String(), model, content, finish, usage)
	return out, thoughts, err
}
