package reasoning

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Fragment produces the JSON object this spec contributes to an upstream
// request body. Disabled reasoning (or effort none) yields the dialect's
// explicit off-switch; dialects without one yield an empty fragment.
func Fragment(spec Spec) map[string]any {
	off := !spec.Enabled || spec.Effort == EffortNone

	switch spec.Type {
	case TypeDeepSeek:
		if off {
			return map[string]any{"thinking": map[string]any{"type": "disabled"}}
		}
		return map[string]any{"thinking": map[string]any{"type": "enabled"}}

	case TypeOpenAI:
		if off {
			return map[string]any{}
		}
		effort := Normalize(TypeOpenAI, spec.Effort)
		// The wire value collapses minimal into low and auto into medium.
		switch effort {
		case EffortMinimal:
			effort = EffortLow
		case EffortAuto:
			effort = EffortMedium
		}
		return map[string]any{"reasoning_effort": string(effort)}

	case TypeAnthropic:
		if off {
			return map[string]any{"thinking": map[string]any{"type": "disabled"}}
		}
		effort := Normalize(TypeAnthropic, spec.Effort)
		return map[string]any{"thinking": map[string]any{
			"type":          "enabled",
			"budget_tokens": budget(spec, effort, effortBudgets[EffortMedium]),
		}}

	case TypeGemini:
		if off {
			return map[string]any{"thinkingConfig": map[string]any{"thinkingBudget": 0}}
		}
		effort := Normalize(TypeGemini, spec.Effort)
		// -1 tells Gemini to size the budget itself.
		return map[string]any{"thinkingConfig": map[string]any{
			"thinkingBudget":  budget(spec, effort, -1),
			"includeThoughts": true,
		}}

	case TypeQwen:
		if off {
			return map[string]any{"enable_thinking": false}
		}
		return map[string]any{"enable_thinking": true}

	case TypeOpenRouter:
		if off {
			return map[string]any{"reasoning": map[string]any{"enabled": false}}
		}
		effort := Normalize(TypeOpenRouter, spec.Effort)
		return map[string]any{"reasoning": map[string]any{
			"enabled":    true,
			"max_tokens": budget(spec, effort, effortBudgets[EffortMedium]),
		}}

	case TypeCustom:
		if off || len(spec.CustomParams) == 0 {
			return map[string]any{}
		}
		return spec.CustomParams
	}

	return map[string]any{}
}

// Apply merges the reasoning fragment for spec into body, which must be a
// JSON object. Top-level keys merge shallowly, except that an object value
// merging into an existing object value deep-merges key by key.
func Apply(body []byte, spec Spec) ([]byte, error) {
	var err error
	for key, value := range Fragment(spec) {
		body, err = mergeValue(body, escapePath(key), value)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func mergeValue(body []byte, path string, value any) ([]byte, error) {
	if obj, ok := value.(map[string]any); ok && gjson.GetBytes(body, path).IsObject() {
		var err error
		for key, child := range obj {
			body, err = mergeValue(body, path+"."+escapePath(key), child)
			if err != nil {
				return nil, err
			}
		}
		return body, nil
	}
	return sjson.SetBytes(body, path, value)
}

// escapePath guards literal keys against sjson path syntax.
func escapePath(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, ":", `\:`)
	return r.Replace(key)
}
