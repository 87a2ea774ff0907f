package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/reasoning"
)

// buildGemini translates the canonical chat request into a generateContent
// call: messages become contents with user/model roles, system prompts move
// to systemInstruction, and sampling params nest under generationConfig.
func buildGemini(in BuildInput) (*Upstream, error) {
	var system []string
	contents := make([]map[string]any, 0, len(in.Canonical.Messages))
	for _, m := range in.Canonical.Messages {
		role := "user"
		switch m.Role {
		case "system":
			system = append(system, m.Text())
			continue
		case "assistant":
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": m.Text()}},
		})
	}

	payload := map[string]any{"contents": contents}
	if len(system) > 0 {
		payload["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": strings.Join(system, "\n\n")}},
		}
	}
	if gc := geminiGenerationConfig(in.Params); len(gc) > 0 {
		payload["generationConfig"] = gc
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini body: %w", err)
	}
	if body, err = reasoning.Apply(body, in.Reasoning); err != nil {
		return nil, fmt.Errorf("merge reasoning params: %w", err)
	}
	// thinkingConfig belongs under generationConfig on the wire.
	if tc := gjson.GetBytes(body, "thinkingConfig"); tc.Exists() {
		if body, err = sjson.SetRawBytes(body, "generationConfig.thinkingConfig", []byte(tc.Raw)); err != nil {
			return nil, err
		}
		if body, err = sjson.DeleteBytes(body, "thinkingConfig"); err != nil {
			return nil, err
		}
	}

	verb := ":generateContent"
	if in.Stream {
		verb = ":streamGenerateContent"
	}
	path := "/v1beta/models/" + url.PathEscape(in.Canonical.Model) + verb
	if bp := basePath(in.BaseURL); strings.HasSuffix(bp, "/v1beta") || strings.HasSuffix(bp, "/v1") {
		path = "/models/" + url.PathEscape(in.Canonical.Model) + verb
	}

	query := url.Values{}
	if in.APIKey != "" {
		query.Set("key", in.APIKey)
	}
	if in.Stream {
		// SSE framing instead of a streamed JSON array.
		query.Set("alt", "sse")
	}
	endpoint := joinURL(in.BaseURL, path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return &Upstream{URL: endpoint, Header: http.Header{}, Body: body}, nil
}

func geminiGenerationConfig(p protocol.LLMParams) map[string]any {
	gc := map[string]any{}
	if p.Temperature != nil {
		gc["temperature"] = *p.Temperature
	}
	if p.TopP != nil {
		gc["topP"] = *p.TopP
	}
	if p.TopK != nil {
		gc["topK"] = *p.TopK
	}
	if p.MaxTokens != nil {
		gc["maxOutputTokens"] = *p.MaxTokens
	}
	if p.PresencePenalty != nil {
		gc["presencePenalty"] = *p.PresencePenalty
	}
	if p.FrequencyPenalty != nil {
		gc["frequencyPenalty"] = *p.FrequencyPenalty
	}
	if p.Seed != nil {
		gc["seed"] = *p.Seed
	}
	if len(p.Stop) > 0 {
		gc["stopSequences"] = []string(p.Stop)
	}
	return gc
}

// geminiToChatCompletion folds a generateContent response into the canonical
// completion shape. Parts flagged thought carry reasoning text.
func geminiToChatCompletion(body []byte, model string) ([]byte, string, error) {
	root := gjson.ParseBytes(body)
	candidate := root.Get("candidates.0")

	var content, thoughts string
	for _, part := range candidate.Get("content.parts").Array() {
		text := part.Get("text").String()
		if part.Get("thought").Bool() {
			thoughts += text
			continue
		}
		content += text
	}

	finish := "stop"
	switch candidate.Get("finishReason").String() {
	case "", "STOP":
		finish = "stop"
	case "MAX_TOKENS":
		finish = "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		finish = "content_filter"
	}

	var usage map[string]any
	if u := root.Get("usageMetadata"); u.Exists() {
		usage = map[string]any{
			"prompt_tokens":     u.Get("promptTokenCount").Int(),
			"completion_tokens": u.Get("candidatesTokenCount").Int(),
			"total_tokens":      u.Get("totalTokenCount").Int(),
		}
	}

	if m := root.Get("modelVersion").String(); m != "" {
		model = m
	}
	out, err := chatCompletion(root.Get("responseId").String(), model, content, finish, usage)
	return out, thoughts, err
}
