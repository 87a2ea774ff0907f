package reasoning

// TypeInfo describes one reasoning type for the configuration UI.
type TypeInfo struct {
	Value            string   `json:"value"`
	Label            string   `json:"label"`
	Description      string   `json:"description"`
	SupportedEfforts []string `json:"supported_efforts"`
}

// Catalog returns the enum catalog served on /v1/config/reasoning/types.
func Catalog() []TypeInfo {
	infos := []TypeInfo{
		{
			Value:       string(TypeDeepSeek),
			Label:       "DeepSeek",
			Description: "DeepSeek reasoner models; thinking is on or off with no budget control.",
		},
		{
			Value:       string(TypeOpenAI),
			Label:       "OpenAI",
			Description: "OpenAI o-series models using the reasoning_effort parameter.",
		},
		{
			Value:       string(TypeAnthropic),
			Label:       "Anthropic",
			Description: "Claude extended thinking with an explicit token budget.",
		},
		{
			Value:       string(TypeGemini),
			Label:       "Google Gemini",
			Description: "Gemini thinkingConfig with a token budget; auto lets the model decide.",
		},
		{
			Value:       string(TypeQwen),
			Label:       "Qwen",
			Description: "Qwen hybrid models toggled with enable_thinking.",
		},
		{
			Value:       string(TypeOpenRouter),
			Label:       "OpenRouter",
			Description: "OpenRouter unified reasoning parameter with a max token budget.",
		},
		{
			Value:       string(TypeCustom),
			Label:       "Custom",
			Description: "Merge user-supplied parameters verbatim into the upstream request.",
		},
	}

	for i := range infos {
		efforts := supportedEfforts[Type(infos[i].Value)]
		out := make([]string, len(efforts))
		for j, e := range efforts {
			out[j] = string(e)
		}
		infos[i].SupportedEfforts = out
	}
	return infos
}
