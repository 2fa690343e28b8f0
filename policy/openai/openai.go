// Package openai provides a behavior policy provider backed by the OpenAI
// Chat Completions API. It prompts the model for a JSON browsing plan and
// parses the reply into a core.BehaviorPlan.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/trafficflou/trafficflou/core"
	"github.com/trafficflou/trafficflou/policy"
)

const systemPrompt = "You generate realistic browsing plans for synthetic visitor sessions. Respond with JSON only."

// Options configure the OpenAI provider. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal; extend via functional
// options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Provider wraps the OpenAI Chat Completions API behind policy.Provider.
type Provider struct {
	client *openai.Client
	opts   Options
}

// NewProvider creates a provider using the official client with ambient
// credentials (OPENAI_API_KEY).
func NewProvider(optFns ...func(o *Options)) *Provider {
	client := openai.NewClient()
	return NewProviderFromClient(&client, optFns...)
}

// NewProviderFromClient creates a provider from an existing client.
func NewProviderFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// GetPlan implements policy.Provider.
func (p *Provider) GetPlan(ctx context.Context, sc policy.SessionContext) (*core.BehaviorPlan, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(policy.BuildPrompt(sc)),
		},
		Model:               p.opts.Model,
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai api error: %v", core.ErrPlanUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", core.ErrPlanUnavailable)
	}
	return policy.ParsePlan(resp.Choices[0].Message.Content, sc.Profile.Name)
}

// Info implements policy.Provider.
func (p *Provider) Info() policy.Info {
	return policy.Info{Name: p.opts.Model, Provider: "openai"}
}
