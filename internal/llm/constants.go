package llm

// Provider identifies the chat-model backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"

	// DefaultProvider is used when llm.provider is unset.
	DefaultProvider = ProviderOpenAI
)

// DefaultOllamaURL is the default URL for a local Ollama server.
const DefaultOllamaURL = "http://localhost:11434"

// Claude requires an explicit output cap.
const defaultClaudeMaxTokens = 1024

var defaultModels = map[Provider]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderOllama:    "llama3.2",
	ProviderAnthropic: "claude-3-5-haiku-latest",
	ProviderGemini:    "gemini-2.0-flash",
}

// DefaultModelForProvider returns the model used when llm.model is unset.
func DefaultModelForProvider(p Provider) string {
	return defaultModels[p]
}
