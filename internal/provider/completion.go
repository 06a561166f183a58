package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"docquery/internal/config"
	"docquery/internal/models"
)

// ChatProvider generates completions through one configured chat model.
type ChatProvider struct {
	chatModel model.ToolCallingChatModel
	modelName string
}

// NewChatProvider builds the chat model for the named provider entry.
func NewChatProvider(ctx context.Context, name string, cfg *config.Config) (*ChatProvider, error) {
	provCfg, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if provCfg.Model == "" {
		return nil, errors.New("provider model is required")
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch name {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", name, err)
	}
	return &ChatProvider{chatModel: chatModel, modelName: provCfg.Model}, nil
}

// Complete sends one system+user exchange and returns the text with token
// usage. Usage falls back to the length estimate when the provider omits it.
func (p *ChatProvider) Complete(ctx context.Context, system, user string) (*models.Completion, error) {
	schemaMessages := []*schema.Message{
		{
			Role:    schema.System,
			Content: system,
		},
		{
			Role:    schema.User,
			Content: user,
		},
	}
	resp, err := p.chatModel.Generate(ctx, schemaMessages)
	if err != nil {
		return nil, fmt.Errorf("generate completion: %w", err)
	}
	out := &models.Completion{Text: resp.Content}
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		out.PromptTokens = resp.ResponseMeta.Usage.PromptTokens
		out.CompletionTokens = resp.ResponseMeta.Usage.CompletionTokens
	} else {
		out.PromptTokens = models.EstimateTokens(system) + models.EstimateTokens(user)
		out.CompletionTokens = models.EstimateTokens(resp.Content)
	}
	return out, nil
}

// ModelName reports the configured model, used for cost accounting.
func (p *ChatProvider) ModelName() string {
	return p.modelName
}

// Per-million-token USD pricing used for the conversation cost counters.
var pricing = map[string][2]float64{
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4o":      {2.50, 10.00},
}

var defaultPricing = [2]float64{0.50, 1.50}

// Cost converts a token count into the accumulated USD cost for a model.
func Cost(model string, promptTokens, completionTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		p = defaultPricing
	}
	return float64(promptTokens)/1e6*p[0] + float64(completionTokens)/1e6*p[1]
}
