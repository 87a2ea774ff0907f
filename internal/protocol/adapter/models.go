package adapter

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
)

// BuildModels addresses a dialect's model-list endpoint with the same
// credential rules the chat endpoints use.
func BuildModels(format protocol.Format, baseURL, apiKey string) (*Upstream, error) {
	header := http.Header{}
	var endpoint string

	switch format {
	case protocol.FormatAnthropic:
		endpoint = joinURL(baseURL, "/models")
		if apiKey != "" {
			header.Set("x-api-key", apiKey)
		}
		header.Set("anthropic-version", anthropicVersion)

	case protocol.FormatGemini:
		endpoint = joinURL(baseURL, "/models")
		if apiKey != "" {
			endpoint += "?key=" + url.QueryEscape(apiKey)
		}

	case protocol.FormatAzureOpenAI:
		base, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base_url: %w", err)
		}
		apiVersion := base.Query().Get("api-version")
		if apiVersion == "" {
			apiVersion = defaultAzureAPIVersion
		}
		base.RawQuery = ""
		base.Path = strings.TrimRight(base.Path, "/")
		endpoint = fmt.Sprintf("%s/openai/models?api-version=%s", base.String(), url.QueryEscape(apiVersion))
		if apiKey != "" {
			header.Set("api-key", apiKey)
		}

	case protocol.FormatOpenAI, protocol.FormatOpenAIResponse:
		endpoint = joinURL(baseURL, "/models")
		if apiKey != "" {
			header.Set("Authorization", "Bearer "+apiKey)
		}

	default:
		return nil, fmt.Errorf("unknown api format %q", format)
	}

	header.Set("Accept", "application/json")
	return &Upstream{URL: endpoint, Header: header}, nil
}

// ExtractModelIDs pulls model identifiers out of a dialect's list response.
// OpenAI and Anthropic use {data:[{id}]}; Gemini uses {models:[{name:
// "models/…"}]}.
func ExtractModelIDs(body []byte) []string {
	var ids []string
	if data := gjson.GetBytes(body, "data"); data.IsArray() {
		for _, item := range data.Array() {
			if id := item.Get("id").String(); id != "" {
				ids = append(ids, id)
			}
		}
		return ids
	}
	for _, item := range gjson.GetBytes(body, "models").Array() {
		if name := item.Get("name").String(); name != "" {
			ids = append(ids, strings.TrimPrefix(name, "models/"))
		}
	}
	return ids
}
