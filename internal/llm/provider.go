// Package llm provides the language-model collaborator clients for VoiceDesk.
// Supports Ollama (local) and OpenAI-compatible endpoints. The intent
// resolver is the only consumer; it treats every provider failure as a
// classified resolver fault rather than retrying with altered meaning.
package llm

import (
	"context"
	"fmt"
	"io"
	"time"
)

// MaxErrorBodySize limits how much error response body is read, preventing
// unbounded allocation on malformed error responses.
const MaxErrorBodySize = 1 * 1024 * 1024

// readLimitedBody reads up to maxBytes from r.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Provider defines the interface for language-model backends.
type Provider interface {
	// Chat sends a request and returns the model's response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Available returns true if the provider is configured and reachable.
	Available() bool
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model to use (provider-specific).
	Model string `json:"model"`

	// SystemPrompt sets the model's behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages in the conversation.
	Messages []Message `json:"messages"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0). nil means the provider's
	// configured default; an explicit 0 is sent as 0, which callers rely
	// on for deterministic output.
	Temperature *float64 `json:"temperature,omitempty"`

	// JSONMode asks the provider for a JSON-constrained response where the
	// backend supports it. The caller still validates the payload.
	JSONMode bool `json:"json_mode,omitempty"`
}

// Temp returns a Temperature value for a ChatRequest.
func Temp(v float64) *float64 {
	return &v
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatResponse contains the model's response.
type ChatResponse struct {
	Content    string        `json:"content"`
	Model      string        `json:"model"`
	TokensUsed int           `json:"tokens_used,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ProviderConfig contains configuration for a provider.
type ProviderConfig struct {
	// Name identifies the provider ("ollama" or "openai").
	Name string

	// Endpoint is the API base URL.
	Endpoint string

	// APIKey for authentication.
	APIKey string

	// Model is the default model to use.
	Model string

	// MaxTokens default for responses.
	MaxTokens int

	// Temperature default.
	Temperature float64

	// Timeout for API calls. The resolver treats expiry as a resolver
	// timeout, never as an indefinite block.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for a provider.
func DefaultConfig(name string) *ProviderConfig {
	switch name {
	case "ollama":
		return &ProviderConfig{
			Name:        "ollama",
			Endpoint:    "http://127.0.0.1:11434",
			Model:       "qwen2.5:3b",
			MaxTokens:   512,
			Temperature: 0.2,
			Timeout:     30 * time.Second,
		}
	case "openai":
		return &ProviderConfig{
			Name:        "openai",
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   512,
			Temperature: 0.2,
			Timeout:     30 * time.Second,
		}
	default:
		return &ProviderConfig{
			Name:        name,
			MaxTokens:   512,
			Temperature: 0.2,
			Timeout:     30 * time.Second,
		}
	}
}

// applyDefaults fills zero fields from the named provider's defaults.
func applyDefaults(cfg *ProviderConfig, name string) *ProviderConfig {
	if cfg == nil {
		return DefaultConfig(name)
	}
	defaults := DefaultConfig(name)
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	cfg.Name = name
	return cfg
}

// NewProvider constructs a provider by name.
func NewProvider(cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil llm provider config")
	}
	switch cfg.Name {
	case "ollama", "":
		return NewOllamaProvider(cfg), nil
	case "openai":
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Name)
	}
}
