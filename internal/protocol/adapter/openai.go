package adapter

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/thinkgate-dev/thinkgate/internal/reasoning"
)

// defaultAzureAPIVersion is used when the profile base_url carries no
// api-version query parameter.
const defaultAzureAPIVersion = "2024-10-21"

// buildOpenAI forwards the canonical body untouched; only the reasoning
// fragment is merged in.
func buildOpenAI(in BuildInput) (*Upstream, error) {
	body, err := reasoning.Apply(in.RawBody, in.Reasoning)
	if err != nil {
		return nil, fmt.Errorf("merge reasoning params: %w", err)
	}
	header := http.Header{}
	if in.APIKey != "" {
		header.Set("Authorization", "Bearer "+in.APIKey)
	}
	return &Upstream{
		URL:    joinURL(in.BaseURL, "/chat/completions"),
		Header: header,
		Body:   body,
	}, nil
}

// buildAzure targets the deployment path and authenticates with the api-key
// header. The api-version comes from the base_url query when present.
func buildAzure(in BuildInput) (*Upstream, error) {
	body, err := reasoning.Apply(in.RawBody, in.Reasoning)
	if err != nil {
		return nil, fmt.Errorf("merge reasoning params: %w", err)
	}

	base, err := url.Parse(in.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base_url: %w", err)
	}
	apiVersion := base.Query().Get("api-version")
	if apiVersion == "" {
		apiVersion = defaultAzureAPIVersion
	}
	base.RawQuery = ""
	base.Path = strings.TrimRight(base.Path, "/")

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		base.String(), url.PathEscape(in.Canonical.Model), url.QueryEscape(apiVersion))

	header := http.Header{}
	if in.APIKey != "" {
		header.Set("api-key", in.APIKey)
	}
	return &Upstream{URL: endpoint, Header: header, Body: body}, nil
}

// reasoningKeys are the delta/message fields openai-compatible upstreams use
// for native reasoning output.
var reasoningKeys = []string{"reasoning_content", "reasoning", "thinking"}

// normalizeOpenAIResponse strips native reasoning fields from a chat
// completion and returns their concatenated text.
func normalizeOpenAIResponse(body []byte) ([]byte, string, error) {
	choices := gjson.GetBytes(body, "choices")
	if !choices.IsArray() {
		return body, "", nil
	}
	var thoughts strings.Builder
	var err error
	for i := range choices.Array() {
		for _, key := range reasoningKeys {
			path := fmt.Sprintf("choices.%d.message.%s", i, key)
			v := gjson.GetBytes(body, path)
			if !v.Exists() {
				continue
			}
			if v.Type == gjson.String && v.Str != "" {
				thoughts.WriteString(v.Str)
			}
			if body, err = sjson.DeleteBytes(body, path); err != nil {
				return nil, "", fmt.Errorf("strip %s: %w", key, err)
			}
		}
	}
	return body, thoughts.String(), nil
}
