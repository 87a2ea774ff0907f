package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/reasoning"
)

func testProfile(mutate func(*Profile)) *Profile {
	p := &Profile{
		Name:          "test",
		ModelPatterns: []string{"gpt-4"},
		MatchType:     MatchExact,
		Enabled:       true,
		Upstream: Upstream{
			BaseURL:   "https://api.openai.com/v1",
			APIKey:    "sk-test-1234",
			APIFormat: protocol.FormatOpenAI,
		},
		Reasoning: reasoning.Spec{
			Type:               reasoning.TypeDeepSeek,
			Effort:             reasoning.EffortNone,
			FilterThinkingTags: true,
		},
	}
	if mutate != nil {
		mutate(p)
	}
	return p
}

func TestProfileMatches(t *testing.T) {
	tests := []struct {
		name      string
		matchType MatchType
		patterns  []string
		model     string
		want      bool
	}{
		{"exact hit", MatchExact, []string{"gpt-4"}, "gpt-4", true},
		{"exact miss", MatchExact, []string{"gpt-4"}, "gpt-4o", false},
		{"wildcard star", MatchWildcard, []string{"gpt-*"}, "gpt-4-turbo", true},
		{"wildcard full string", MatchWildcard, []string{"gpt-*"}, "my-gpt-4", false},
		{"wildcard question mark", MatchWildcard, []string{"gpt-?"}, "gpt-4", true},
		{"wildcard question mark miss", MatchWildcard, []string{"gpt-?"}, "gpt-4o", false},
		{"wildcard catch all", MatchWildcard, []string{"*"}, "anything", true},
		{"regex anchored", MatchRegex, []string{"claude-.*"}, "claude-sonnet", true},
		{"regex implicit anchors", MatchRegex, []string{"claude"}, "claude-sonnet", false},
		{"regex alternation", MatchRegex, []string{"(gpt|o1)-.+"}, "o1-preview", true},
		{"second pattern matches", MatchExact, []string{"a", "b"}, "b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProfile(func(p *Profile) {
				p.MatchType = tt.matchType
				p.ModelPatterns = tt.patterns
			})
			assert.Equal(t, tt.want, p.Matches(tt.model))
		})
	}
}

func TestDisabledProfileNeverMatches(t *testing.T) {
	p := testProfile(func(p *Profile) { p.Enabled = false })
	assert.False(t, p.Matches("gpt-4"))
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr string
	}{
		{"valid", nil, ""},
		{"missing name", func(p *Profile) { p.Name = "" }, "name"},
		{"bad match type", func(p *Profile) { p.MatchType = "prefix" }, "match_type"},
		{"enabled without patterns", func(p *Profile) { p.ModelPatterns = nil }, "pattern"},
		{"disabled without patterns ok", func(p *Profile) { p.ModelPatterns = nil; p.Enabled = false }, ""},
		{"bad regex", func(p *Profile) { p.MatchType = MatchRegex; p.ModelPatterns = []string{"("} }, "regex"},
		{"bad wildcard", func(p *Profile) { p.MatchType = MatchWildcard; p.ModelPatterns = []string{"[x"} }, "wildcard"},
		{"missing base url", func(p *Profile) { p.Upstream.BaseURL = "" }, "base_url"},
		{"bad scheme", func(p *Profile) { p.Upstream.BaseURL = "ftp://host" }, "http"},
		{"bad format", func(p *Profile) { p.Upstream.APIFormat = "soap" }, "format"},
		{"bad sampling", func(p *Profile) { v := 9.0; p.LLMParams.Temperature = &v }, "temperature"},
		{"effort illegal for type", func(p *Profile) { p.Reasoning.Effort = reasoning.EffortHigh }, "not supported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProfile(tt.mutate)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestProfileCloneIsDeep(t *testing.T) {
	budget := 1024
	p := testProfile(func(p *Profile) {
		p.Reasoning.Type = reasoning.TypeAnthropic
		p.Reasoning.Effort = reasoning.EffortLow
		p.Reasoning.BudgetTokens = &budget
		p.Reasoning.CustomParams = map[string]any{"nested": map[string]any{"k": "v"}}
	})

	c := p.Clone()
	c.ModelPatterns[0] = "changed"
	*c.Reasoning.BudgetTokens = 99
	c.Reasoning.CustomParams["nested"].(map[string]any)["k"] = "changed"

	assert.Equal(t, "gpt-4", p.ModelPatterns[0])
	assert.Equal(t, 1024, *p.Reasoning.BudgetTokens)
	assert.Equal(t, "v", p.Reasoning.CustomParams["nested"].(map[string]any)["k"])
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("abcd"))
	assert.Equal(t, "***1234", MaskSecret("sk-test-1234"))
}

func TestProfileMasked(t *testing.T) {
	p := testProfile(nil)
	masked := p.Masked()
	assert.Equal(t, "***1234", masked.Upstream.APIKey)
	assert.Equal(t, "sk-test-1234", p.Upstream.APIKey, "original untouched")
}
