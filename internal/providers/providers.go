// Package providers contains the LLM provider abstraction and its
// Anthropic and OpenAI-compatible implementations.
package providers

import "fmt"

// Config selects and tunes a provider. Zero values fall back to
// per-provider defaults.
type Config struct {
	Name        string // "anthropic" (default) or "openai"
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Resolve returns the provider named by cfg.Name.
func Resolve(cfg Config) (Provider, error) {
	switch cfg.Name {
	case "", "anthropic":
		return NewAnthropicProvider(cfg), nil
	case "openai":
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}
