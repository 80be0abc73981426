package providers

import (
	"strings"
	"unicode"
)

// ProviderSpec holds metadata for one LLM backend.
type ProviderSpec struct {
	Name              string   // config value, e.g. "openrouter"
	Keywords          []string // model-name keywords (lowercase)
	EnvKey            string   // env var consulted when no API key is configured
	DisplayName       string
	IsGateway         bool   // routes any model (OpenRouter, custom endpoint)
	IsLocal           bool   // local deployment (vLLM, Ollama)
	DetectByKeyPrefix string // match api key prefix
	DetectByBaseKW    string // match substring in api base URL
	DefaultAPIBase    string
	StripModelPrefix  bool // gateway wants "claude-3" rather than "anthropic/claude-3"
}

// Label returns a display label.
func (s *ProviderSpec) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	if s.Name == "" {
		return ""
	}
	r := []rune(s.Name)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Providers is the registry. Order = priority, gateways first.
var Providers = []*ProviderSpec{
	{
		Name: "custom", EnvKey: "OPENAI_API_KEY", DisplayName: "Custom",
		IsGateway: true, StripModelPrefix: true,
	},
	{
		Name: "openrouter", Keywords: []string{"openrouter"},
		EnvKey: "OPENROUTER_API_KEY", DisplayName: "OpenRouter", IsGateway: true,
		DetectByKeyPrefix: "sk-or-", DetectByBaseKW: "openrouter",
		DefaultAPIBase: "https://openrouter.ai/api/v1",
	},
	{
		Name: "anthropic", Keywords: []string{"anthropic", "claude"},
		EnvKey: "ANTHROPIC_API_KEY", DisplayName: "Anthropic",
	},
	{
		Name: "openai", Keywords: []string{"openai", "gpt", "o1", "o3", "o4"},
		EnvKey: "OPENAI_API_KEY", DisplayName: "OpenAI",
		DefaultAPIBase: "https://api.openai.com/v1",
	},
	{
		Name: "deepseek", Keywords: []string{"deepseek"},
		EnvKey: "DEEPSEEK_API_KEY", DisplayName: "DeepSeek",
		DefaultAPIBase: "https://api.deepseek.com/v1",
	},
	{
		Name: "groq", Keywords: []string{"groq"},
		EnvKey: "GROQ_API_KEY", DisplayName: "Groq",
		DefaultAPIBase: "https://api.groq.com/openai/v1",
	},
	{
		Name: "vllm", Keywords: []string{"vllm"},
		EnvKey: "HOSTED_VLLM_API_KEY", DisplayName: "vLLM/Local", IsLocal: true,
	},
}

// FindByModel returns a standard provider spec matching a model name keyword.
// Skips gateways and local providers.
func FindByModel(model string) *ProviderSpec {
	lower := strings.ToLower(model)
	if i := strings.Index(lower, "/"); i >= 0 {
		// "deepseek/deepseek-chat": the vendor prefix decides.
		if spec := FindByName(lower[:i]); spec != nil && !spec.IsGateway && !spec.IsLocal {
			return spec
		}
	}
	for _, spec := range Providers {
		if spec.IsGateway || spec.IsLocal {
			continue
		}
		for _, kw := range spec.Keywords {
			if strings.HasPrefix(lower, kw) || strings.Contains(lower, "/"+kw) || strings.Contains(lower, kw+"-") {
				return spec
			}
		}
	}
	return nil
}

// FindGateway detects a gateway/local provider.
// Priority: 1) provider name  2) api key prefix  3) api base keyword.
func FindGateway(providerName, apiKey, apiBase string) *ProviderSpec {
	if providerName != "" {
		spec := FindByName(providerName)
		if spec != nil && (spec.IsGateway || spec.IsLocal) {
			return spec
		}
	}
	for _, spec := range Providers {
		if spec.DetectByKeyPrefix != "" && apiKey != "" &&
			strings.HasPrefix(apiKey, spec.DetectByKeyPrefix) {
			return spec
		}
		if spec.DetectByBaseKW != "" && apiBase != "" &&
			strings.Contains(apiBase, spec.DetectByBaseKW) {
			return spec
		}
	}
	return nil
}

// FindByName finds a provider spec by config name.
func FindByName(name string) *ProviderSpec {
	for _, spec := range Providers {
		if spec.Name == name {
			return spec
		}
	}
	return nil
}
