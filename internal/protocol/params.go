package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// StopList accepts the OpenAI stop parameter as either a single string or an
// array of strings.
type StopList []string

func (s *StopList) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = StopList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// LLMParams holds the sampling options the proxy recognizes. Every field is
// optional; nil means "not set at this layer".
type LLMParams struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
	Stop             StopList `json:"stop,omitempty"`
}

// PassthroughParams are request fields forwarded untouched when present.
var PassthroughParams = []string{"stop", "logit_bias", "response_format", "tools", "tool_choice", "user"}

// Validate checks every set field against its allowed range.
func (p LLMParams) Validate() error {
	check := func(name string, v, lo, hi float64) error {
		if v < lo || v > hi {
			return fmt.Errorf("%s must be between %g and %g, got %g", name, lo, hi, v)
		}
		return nil
	}
	if p.Temperature != nil {
		if err := check("temperature", *p.Temperature, 0, 2); err != nil {
			return err
		}
	}
	if p.TopP != nil {
		if err := check("top_p", *p.TopP, 0, 1); err != nil {
			return err
		}
	}
	if p.TopK != nil {
		if err := check("top_k", float64(*p.TopK), 1, 100); err != nil {
			return err
		}
	}
	if p.MaxTokens != nil {
		if err := check("max_tokens", float64(*p.MaxTokens), 1, 1_000_000); err != nil {
			return err
		}
	}
	if p.PresencePenalty != nil {
		if err := check("presence_penalty", *p.PresencePenalty, -2, 2); err != nil {
			return err
		}
	}
	if p.FrequencyPenalty != nil {
		if err := check("frequency_penalty", *p.FrequencyPenalty, -2, 2); err != nil {
			return err
		}
	}
	if p.Seed != nil {
		if *p.Seed < 0 || *p.Seed > 1<<31-1 {
			return fmt.Errorf("seed must be between 0 and 2147483647, got %d", *p.Seed)
		}
	}
	return nil
}

// Merge returns a copy of p with over's set fields taking precedence.
func (p LLMParams) Merge(over LLMParams) LLMParams {
	out := p
	if over.Temperature != nil {
		out.Temperature = over.Temperature
	}
	if over.TopP != nil {
		out.TopP = over.TopP
	}
	if over.TopK != nil {
		out.TopK = over.TopK
	}
	if over.MaxTokens != nil {
		out.MaxTokens = over.MaxTokens
	}
	if over.PresencePenalty != nil {
		out.PresencePenalty = over.PresencePenalty
	}
	if over.FrequencyPenalty != nil {
		out.FrequencyPenalty = over.FrequencyPenalty
	}
	if over.Seed != nil {
		out.Seed = over.Seed
	}
	if len(over.Stop) > 0 {
		out.Stop = over.Stop
	}
	return out
}

// ApplyToBody writes every set parameter into the JSON body at its OpenAI
// wire name.
func (p LLMParams) ApplyToBody(body []byte) ([]byte, error) {
	set := func(b []byte, key string, v any) ([]byte, error) {
		return sjson.SetBytes(b, key, v)
	}
	var err error
	if p.Temperature != nil {
		if body, err = set(body, "temperature", *p.Temperature); err != nil {
			return nil, err
		}
	}
	if p.TopP != nil {
		if body, err = set(body, "top_p", *p.TopP); err != nil {
			return nil, err
		}
	}
	if p.TopK != nil {
		if body, err = set(body, "top_k", *p.TopK); err != nil {
			return nil, err
		}
	}
	if p.MaxTokens != nil {
		if body, err = set(body, "max_tokens", *p.MaxTokens); err != nil {
			return nil, err
		}
	}
	if p.PresencePenalty != nil {
		if body, err = set(body, "presence_penalty", *p.PresencePenalty); err != nil {
			return nil, err
		}
	}
	if p.FrequencyPenalty != nil {
		if body, err = set(body, "frequency_penalty", *p.FrequencyPenalty); err != nil {
			return nil, err
		}
	}
	if p.Seed != nil {
		if body, err = set(body, "seed", *p.Seed); err != nil {
			return nil, err
		}
	}
	if len(p.Stop) > 0 {
		if body, err = set(body, "stop", []string(p.Stop)); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// undefinedSentinel marks form fields the web UI never filled in.
const undefinedSentinel = "[undefined]"

// PruneUndefined strips every value equal to "[undefined]" from a JSON
// document, recursing through objects and arrays. Bodies without the sentinel
// pass through untouched.
func PruneUndefined(body []byte) []byte {
	if !bytes.Contains(body, []byte(undefinedSentinel)) {
		return body
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}
	pruned, _ := pruneValue(doc)
	out, err := json.Marshal(pruned)
	if err != nil {
		return body
	}
	return out
}

func pruneValue(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		if val == undefinedSentinel {
			return nil, false
		}
	case map[string]any:
		for k, child := range val {
			kept, keep := pruneValue(child)
			if !keep {
				delete(val, k)
				continue
			}
			val[k] = kept
		}
	case []any:
		out := val[:0]
		for _, child := range val {
			kept, keep := pruneValue(child)
			if keep {
				out = append(out, kept)
			}
		}
		return out, true
	}
	return v, true
}
