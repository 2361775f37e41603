package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LangChain completes chats through any langchaingo model. It backs the
// Ollama and Gemini providers.
type LangChain struct {
	model       llms.Model
	temperature float32
	maxTokens   int
}

var _ Completer = (*LangChain)(nil)

// NewLangChain wraps an already constructed langchaingo model.
func NewLangChain(model llms.Model, cfg Config) *LangChain {
	return &LangChain{model: model, temperature: cfg.Temperature, maxTokens: cfg.MaxTokens}
}

// NewOllama connects to an Ollama server. cfg.Endpoint defaults to the
// library's local address.
func NewOllama(cfg Config) (*LangChain, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.Endpoint != "" {
		opts = append(opts, ollama.WithServerURL(cfg.Endpoint))
	}
	l, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init ollama: %w", err)
	}
	return NewLangChain(l, cfg), nil
}

// NewGemini builds a Google AI client for one key.
func NewGemini(ctx context.Context, cfg Config, key string) (*LangChain, error) {
	g, err := googleai.New(ctx, googleai.WithAPIKey(key), googleai.WithDefaultModel(cfg.Model))
	if err != nil {
		return nil, fmt.Errorf("failed to init gemini: %w", err)
	}
	return NewLangChain(g, cfg), nil
}

// Complete sends the exchange and returns the first choice's content.
func (l *LangChain) Complete(ctx context.Context, messages []Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		kind := llms.ChatMessageTypeHuman
		if m.Role == RoleSystem {
			kind = llms.ChatMessageTypeSystem
		}
		content = append(content, llms.TextParts(kind, m.Content))
	}

	var opts []llms.CallOption
	if l.temperature > 0 {
		opts = append(opts, llms.WithTemperature(float64(l.temperature)))
	}
	if l.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(l.maxTokens))
	}

	resp, err := l.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Content, nil
}
