package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI completes chats through the OpenAI API or an Azure OpenAI deployment.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

var _ Completer = (*OpenAI)(nil)

// NewOpenAI builds a client for one key. For Azure, cfg.Endpoint is the
// resource URL and cfg.Model names the deployment.
func NewOpenAI(cfg Config, key string) (*OpenAI, error) {
	var transportCfg openai.ClientConfig
	switch NormalizeProvider(cfg.Provider) {
	case ProviderAzure:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("azure provider requires an endpoint")
		}
		transportCfg = openai.DefaultAzureConfig(key, cfg.Endpoint)
		if cfg.APIVersion != "" {
			transportCfg.APIVersion = cfg.APIVersion
		}
		deployment := cfg.Model
		transportCfg.AzureModelMapperFunc = func(string) string { return deployment }
	default:
		transportCfg = openai.DefaultConfig(key)
		if cfg.Endpoint != "" {
			transportCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
		}
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(transportCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Complete sends the exchange and returns the first choice's content.
func (o *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
