// Package reasoning maps a profile's reasoning configuration onto the knobs
// each upstream dialect actually exposes.
package reasoning

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Type selects the upstream dialect's reasoning parameter scheme.
type Type string

const (
	TypeDeepSeek   Type = "deepseek"
	TypeOpenAI     Type = "openai"
	TypeAnthropic  Type = "anthropic"
	TypeGemini     Type = "gemini"
	TypeQwen       Type = "qwen"
	TypeOpenRouter Type = "openrouter"
	TypeCustom     Type = "custom"
)

// Effort is the coarse reasoning knob stored on a profile.
type Effort string

const (
	EffortNone    Effort = "none"
	EffortMinimal Effort = "minimal"
	EffortLow     Effort = "low"
	EffortMedium  Effort = "medium"
	EffortHigh    Effort = "high"
	EffortAuto    Effort = "auto"
)

// Spec is the reasoning block of a profile.
type Spec struct {
	Enabled            bool           `json:"enabled"`
	Type               Type           `json:"type"`
	Effort             Effort         `json:"effort"`
	BudgetTokens       *int           `json:"budget_tokens,omitempty"`
	CustomParams       map[string]any `json:"custom_params,omitempty"`
	FilterThinkingTags bool           `json:"filter_thinking_tags"`
}

// effortBudgets maps an effort to a token budget when the profile does not
// pin one explicitly.
var effortBudgets = map[Effort]int{
	EffortMinimal: 1024,
	EffortLow:     4096,
	EffortMedium:  16384,
	EffortHigh:    32768,
}

// supportedEfforts lists the efforts each type accepts at config-write time.
var supportedEfforts = map[Type][]Effort{
	TypeDeepSeek:   {EffortNone, EffortAuto},
	TypeOpenAI:     {EffortMinimal, EffortLow, EffortMedium, EffortHigh},
	TypeAnthropic:  {EffortNone, EffortLow, EffortMedium, EffortHigh},
	TypeGemini:     {EffortNone, EffortLow, EffortMedium, EffortHigh, EffortAuto},
	TypeQwen:       {EffortNone, EffortLow, EffortMedium, EffortHigh},
	TypeOpenRouter: {EffortNone, EffortLow, EffortMedium, EffortHigh},
	TypeCustom:     {EffortNone, EffortMinimal, EffortLow, EffortMedium, EffortHigh, EffortAuto},
}

// Types returns all known reasoning types.
func Types() []Type {
	return []Type{TypeDeepSeek, TypeOpenAI, TypeAnthropic, TypeGemini, TypeQwen, TypeOpenRouter, TypeCustom}
}

// Supports reports whether effort is legal for typ.
func Supports(typ Type, effort Effort) bool {
	for _, e := range supportedEfforts[typ] {
		if e == effort {
			return true
		}
	}
	return false
}

// Validate enforces the config-write contract: known type, effort legal for
// the type, non-negative budget.
func Validate(spec Spec) error {
	if _, ok := supportedEfforts[spec.Type]; !ok {
		return fmt.Errorf("unknown reasoning type %q", spec.Type)
	}
	if spec.Effort == "" {
		return fmt.Errorf("reasoning effort is required")
	}
	if !Supports(spec.Type, spec.Effort) {
		return fmt.Errorf("effort %q is not supported by reasoning type %q", spec.Effort, spec.Type)
	}
	if spec.BudgetTokens != nil && *spec.BudgetTokens < 0 {
		return fmt.Errorf("budget_tokens must be >= 0, got %d", *spec.BudgetTokens)
	}
	return nil
}

// Normalize downgrades an effort the dialect cannot express to its nearest
// supported neighbor. A live request is never rejected over a stale profile;
// config writes stay strict via Validate.
func Normalize(typ Type, effort Effort) Effort {
	if Supports(typ, effort) {
		return effort
	}
	var normalized Effort
	switch typ {
	case TypeDeepSeek:
		// On/off dialect: any requested intensity means on.
		normalized = EffortAuto
	case TypeOpenAI:
		if effort == EffortAuto {
			normalized = EffortMedium
		} else {
			normalized = EffortLow
		}
	default:
		switch effort {
		case EffortMinimal:
			normalized = EffortLow
		case EffortAuto:
			normalized = EffortMedium
		default:
			normalized = EffortMedium
		}
	}
	logrus.WithFields(logrus.Fields{
		"type":   typ,
		"effort": effort,
		"used":   normalized,
	}).Debug("downgraded unsupported reasoning effort")
	return normalized
}

// budget resolves the token budget for a spec, preferring the pinned value.
// autoDefault is the dialect's own sentinel for "model decides".
func budget(spec Spec, effort Effort, autoDefault int) int {
	if spec.BudgetTokens != nil {
		return *spec.BudgetTokens
	}
	if effort == EffortAuto {
		return autoDefault
	}
	if b, ok := effortBudgets[effort]; ok {
		return b
	}
	return effortBudgets[EffortMedium]
}
