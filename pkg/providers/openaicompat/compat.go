// Package openaicompat 面向 OpenAI 兼容接口（自定义 base URL）的后端
package openaicompat

import (
	"context"
	"errors"

	"github.com/nerdneilsfield/go-book-translator/pkg/providers"
	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
	openai "github.com/sashabaranov/go-openai"
)

// Provider OpenAI 兼容后端
type Provider struct {
	config providers.Config
	client *openai.Client
}

var _ transform.Service = (*Provider)(nil)

// New 创建兼容后端
func New(config providers.Config) *Provider {
	cc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cc.BaseURL = config.BaseURL
	}
	return &Provider{
		config: config,
		client: openai.NewClientWithConfig(cc),
	}
}

// Transform 翻译一段文本
func (p *Provider) Transform(ctx context.Context, text string) (string, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: providers.SystemPrompt(p.config)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: float32(p.config.Temperature),
		MaxTokens:   p.config.MaxTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", transform.NewContentRejectedError(transform.KindEmpty, "no choices returned", nil)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", transform.NewContentRejectedError(transform.KindSafety, "completion stopped by content filter", nil)
	}
	return providers.CheckOutput(choice.Message.Content)
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transform.HTTPStatusError(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return transform.HTTPStatusError(reqErr.HTTPStatusCode, "request failed", err)
	}
	return transform.Classify(err)
}
