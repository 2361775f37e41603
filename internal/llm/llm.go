// Package llm talks to language model providers and runs article analysis
// under concurrency and rate limits.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one entry of a chat exchange.
type Message struct {
	Role    Role
	Content string
}

// Completer is the capability every provider exposes: one chat exchange in,
// the model's text out.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, messages []Message) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

// Factory builds a Completer bound to one credential.
type Factory func(key string) (Completer, error)

// Provider names accepted by NewFactory.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// Config selects and parameterizes a provider.
type Config struct {
	Provider string
	Model    string
	// AllowedModel pins the run to one approved model. Model must equal it.
	AllowedModel string
	APIKeys      []string
	// Endpoint overrides the provider base URL. Required for Azure.
	Endpoint    string
	APIVersion  string
	Temperature float32
	MaxTokens   int
}

var (
	// ErrModelNotAllowed is returned when the configured model is not the approved one.
	ErrModelNotAllowed = errors.New("model not allowed")
	// ErrNoCredentials is returned when a provider needs API keys and none are set.
	ErrNoCredentials = errors.New("no API credentials configured")
	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrRateLimited marks a provider rate-limit signal.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmptyCompletion is returned when a provider answers without any choice.
	ErrEmptyCompletion = errors.New("empty completion")
)

// NormalizeProvider lowercases and trims a provider name. Empty selects OpenAI.
func NormalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderOpenAI
	}
	return name
}

func (c Config) needsKeys() bool {
	return NormalizeProvider(c.Provider) != ProviderOllama
}
