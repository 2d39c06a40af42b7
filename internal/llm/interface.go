// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
)

var ErrUnknownProvider = errors.New("unknown LLM provider")

// ChatMessage is one role-tagged entry of a conversation context.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the provider-neutral request shape.
type CompletionRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	StopWords   []string      `json:"stop_words,omitempty"`

	// JSONResponse asks the provider for a JSON-object completion
	// (response_format on OpenAI-compatible APIs).
	JSONResponse bool `json:"json_response,omitempty"`
}

// CompletionResponse is the provider-neutral response shape.
type CompletionResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// StreamResponse is one chunk of a streaming completion. Text holds
// the incremental delta until Done, then the full accumulated text.
type StreamResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	Done         bool   `json:"done"`
}

// Provider is the interface every LLM backend implements.
type Provider interface {
	// Initialize configures the provider from key/value settings.
	Initialize(config map[string]string) error

	// GetName returns the provider's display name.
	GetName() string

	// GetSupportedModels lists the models this provider can serve.
	GetSupportedModels() []string

	// CompleteChat runs a synchronous chat completion.
	CompleteChat(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamChat runs a streaming chat completion. The channel is
	// closed after the final (Done) chunk.
	StreamChat(ctx context.Context, req CompletionRequest) (<-chan StreamResponse, error)
}

// ProviderFactory produces an uninitialized provider.
type ProviderFactory func() Provider

var providers = make(map[string]ProviderFactory)

// Register adds a provider factory. Called from provider init().
func Register(name string, factory ProviderFactory) {
	providers[name] = factory
}

// GetProvider creates and initializes the named provider.
func GetProvider(name string, config map[string]string) (Provider, error) {
	factory, exists := providers[name]
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// GetAvailableProviders returns all registered provider names.
func GetAvailableProviders() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	return names
}
