// Package config owns the persisted proxy document: routing profiles, proxy
// settings, and the default-profile designation.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/reasoning"
)

// MatchType selects how a profile's model patterns are interpreted.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchWildcard MatchType = "wildcard"
	MatchRegex    MatchType = "regex"
)

// Upstream is the endpoint and credential set a profile routes to.
type Upstream struct {
	BaseURL   string          `json:"base_url"`
	APIKey    string          `json:"api_key,omitempty"`
	APIFormat protocol.Format `json:"api_format"`
}

// Profile binds model-name patterns to an upstream, sampling defaults, and a
// reasoning configuration.
type Profile struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	ModelPatterns []string           `json:"model_patterns"`
	MatchType     MatchType          `json:"match_type"`
	Priority      int                `json:"priority"`
	Enabled       bool               `json:"enabled"`
	Upstream      Upstream           `json:"upstream"`
	LLMParams     protocol.LLMParams `json:"llm_params"`
	Reasoning     reasoning.Spec     `json:"reasoning"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Matches reports whether any of the profile's patterns matches the model
// name. Disabled profiles never match.
func (p *Profile) Matches(model string) bool {
	if !p.Enabled {
		return false
	}
	for _, pattern := range p.ModelPatterns {
		if p.matchPattern(pattern, model) {
			return true
		}
	}
	return false
}

func (p *Profile) matchPattern(pattern, model string) bool {
	switch p.MatchType {
	case MatchExact:
		return pattern == model
	case MatchWildcard:
		g, err := glob.Compile(pattern)
		if err != nil {
			logrus.WithField("pattern", pattern).WithError(err).Debug("bad wildcard pattern")
			return false
		}
		return g.Match(model)
	case MatchRegex:
		re, err := compileAnchored(pattern)
		if err != nil {
			logrus.WithField("pattern", pattern).WithError(err).Debug("bad regex pattern")
			return false
		}
		return re.MatchString(model)
	}
	return false
}

// compileAnchored compiles a profile regex with implicit ^ and $. RE2 syntax,
// case-sensitive.
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")$")
}

// Validate enforces the profile write contract.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}

	switch p.MatchType {
	case MatchExact, MatchWildcard, MatchRegex:
	default:
		return fmt.Errorf("unknown match_type %q", p.MatchType)
	}

	nonEmpty := 0
	for _, pattern := range p.ModelPatterns {
		if pattern == "" {
			continue
		}
		nonEmpty++
		switch p.MatchType {
		case MatchWildcard:
			if _, err := glob.Compile(pattern); err != nil {
				return fmt.Errorf("wildcard pattern %q: %w", pattern, err)
			}
		case MatchRegex:
			if _, err := compileAnchored(pattern); err != nil {
				return fmt.Errorf("regex pattern %q: %w", pattern, err)
			}
		}
	}
	if p.Enabled && nonEmpty == 0 {
		return fmt.Errorf("enabled profile needs at least one non-empty model pattern")
	}

	if err := ValidateBaseURL(p.Upstream.BaseURL); err != nil {
		return err
	}
	if _, err := protocol.ParseFormat(string(p.Upstream.APIFormat)); err != nil {
		return err
	}
	if err := p.LLMParams.Validate(); err != nil {
		return err
	}
	return reasoning.Validate(p.Reasoning)
}

// ValidateBaseURL checks that raw is an absolute http or https URL. The
// config API and the per-request header override share this check.
func ValidateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("upstream base_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("upstream base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream base_url must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream base_url has no host: %q", raw)
	}
	return nil
}

// Clone returns a deep copy so request handlers can hold a snapshot while
// the store mutates.
func (p *Profile) Clone() *Profile {
	out := *p
	out.ModelPatterns = append([]string(nil), p.ModelPatterns...)
	out.LLMParams.Stop = append(protocol.StopList(nil), p.LLMParams.Stop...)
	if p.Reasoning.BudgetTokens != nil {
		b := *p.Reasoning.BudgetTokens
		out.Reasoning.BudgetTokens = &b
	}
	if p.Reasoning.CustomParams != nil {
		out.Reasoning.CustomParams = deepCopyMap(p.Reasoning.CustomParams)
	}
	return &out
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if child, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(child)
			continue
		}
		if list, ok := v.([]any); ok {
			out[k] = append([]any(nil), list...)
			continue
		}
		out[k] = v
	}
	return out
}

// Masked returns a copy with the upstream credential hidden for read
// endpoints.
func (p *Profile) Masked() *Profile {
	out := p.Clone()
	out.Upstream.APIKey = MaskSecret(p.Upstream.APIKey)
	return out
}

// MaskSecret hides all but the last four characters of a credential.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "***"
	}
	return "***" + secret[len(secret)-4:]
}
