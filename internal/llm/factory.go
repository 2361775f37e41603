package llm

import (
	"context"
	"fmt"
	"strings"
)

// Validate checks the provider name, the approved-model pin and credentials.
func (c Config) Validate() error {
	switch NormalizeProvider(c.Provider) {
	case ProviderOpenAI, ProviderAzure, ProviderOllama, ProviderGemini:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}
	model := strings.TrimSpace(c.Model)
	if model == "" {
		return fmt.Errorf("%w: no model configured", ErrModelNotAllowed)
	}
	if allowed := strings.TrimSpace(c.AllowedModel); allowed != "" && model != allowed {
		return fmt.Errorf("%w: %q (approved model is %q)", ErrModelNotAllowed, model, allowed)
	}
	if c.needsKeys() {
		if k, _ := NewKeyPool(c.APIKeys).Current(); k == "" {
			return fmt.Errorf("%s: %w", NormalizeProvider(c.Provider), ErrNoCredentials)
		}
	}
	return nil
}

// NewFactory validates cfg and returns a Factory for its provider. Each
// provider builds its own client per key; Ollama ignores the key.
func NewFactory(ctx context.Context, cfg Config) (Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch NormalizeProvider(cfg.Provider) {
	case ProviderOpenAI, ProviderAzure:
		return func(key string) (Completer, error) {
			return NewOpenAI(cfg, key)
		}, nil
	case ProviderGemini:
		return func(key string) (Completer, error) {
			return NewGemini(ctx, cfg, key)
		}, nil
	default:
		return func(string) (Completer, error) {
			return NewOllama(cfg)
		}, nil
	}
}
