package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/Far3/financial-advisor-ai/internal/llm"
)

// LoadLLMConfig reads the chat-model settings from v.
// Precedence: llm.apiKeys.<provider> > provider env var > defaults.
// A missing key is an error for every provider except Ollama.
func LoadLLMConfig(v *viper.Viper) (llm.Config, error) {
	provider := strings.TrimSpace(v.GetString("llm.provider"))
	if provider == "" {
		provider = string(llm.DefaultProvider)
	}
	llmProvider, err := llm.ValidateProvider(provider)
	if err != nil {
		return llm.Config{}, fmt.Errorf("invalid provider: %w", err)
	}

	model := strings.TrimSpace(v.GetString("llm.model"))
	if model == "" {
		model = llm.DefaultModelForProvider(llmProvider)
	}

	baseURL := strings.TrimSpace(v.GetString("llm.baseURL"))
	if baseURL == "" && llmProvider == llm.ProviderOllama {
		baseURL = llm.DefaultOllamaURL
	}

	apiKey := ResolveAPIKey(v, llmProvider)
	if apiKey == "" && llmProvider != llm.ProviderOllama {
		return llm.Config{}, fmt.Errorf("no API key for %s: set llm.apiKeys.%s or %s", llmProvider, llmProvider, envKeyName(llmProvider))
	}

	return llm.Config{
		Provider: llmProvider,
		Model:    model,
		APIKey:   apiKey,
		BaseURL:  baseURL,
		Timeout:  v.GetDuration("llm.timeout"),
	}, nil
}

// ResolveAPIKey returns the key for provider from per-provider config or the
// provider's conventional env var.
func ResolveAPIKey(v *viper.Viper, provider llm.Provider) string {
	path := fmt.Sprintf("llm.apiKeys.%s", provider)
	if v.IsSet(path) {
		if key := strings.TrimSpace(v.GetString(path)); key != "" {
			return key
		}
	}
	return providerEnvKey(provider)
}

func envKeyName(provider llm.Provider) string {
	switch provider {
	case llm.ProviderOpenAI:
		return "OPENAI_API_KEY"
	case llm.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case llm.ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

func providerEnvKey(provider llm.Provider) string {
	name := envKeyName(provider)
	if name == "" {
		return ""
	}
	key := strings.TrimSpace(os.Getenv(name))
	if key == "" && provider == llm.ProviderGemini {
		key = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	return key
}
