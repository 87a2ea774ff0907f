package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
)

// DefaultPort is the listen port used when no document exists yet.
const DefaultPort = 8787

// ProxySettings is the proxy's own listener configuration. A port change
// only takes effect after restart; the config API reports that to callers.
type ProxySettings struct {
	Port   int    `json:"port"`
	APIKey string `json:"api_key,omitempty"`
}

// Validate checks the settings write contract.
func (s ProxySettings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	return nil
}

// Masked hides the proxy API key for read endpoints.
func (s ProxySettings) Masked() ProxySettings {
	s.APIKey = MaskSecret(s.APIKey)
	return s
}

// EnvDefaults reads process-level sampling defaults from THINKGATE_DEFAULT_*
// environment variables. They sit below profile params and request values in
// the merge order.
func EnvDefaults() protocol.LLMParams {
	var p protocol.LLMParams
	if v, ok := envFloat("THINKGATE_DEFAULT_TEMPERATURE"); ok {
		p.Temperature = &v
	}
	if v, ok := envFloat("THINKGATE_DEFAULT_TOP_P"); ok {
		p.TopP = &v
	}
	if v, ok := envInt("THINKGATE_DEFAULT_TOP_K"); ok {
		p.TopK = &v
	}
	if v, ok := envInt("THINKGATE_DEFAULT_MAX_TOKENS"); ok {
		p.MaxTokens = &v
	}
	if v, ok := envFloat("THINKGATE_DEFAULT_PRESENCE_PENALTY"); ok {
		p.PresencePenalty = &v
	}
	if v, ok := envFloat("THINKGATE_DEFAULT_FREQUENCY_PENALTY"); ok {
		p.FrequencyPenalty = &v
	}
	if v, ok := envInt64("THINKGATE_DEFAULT_SEED"); ok {
		p.Seed = &v
	}
	return p
}

func envFloat(name string) (float64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	return v, err == nil
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

func envInt64(name string) (int64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	return v, err == nil
}
