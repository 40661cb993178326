// Package openai 使用官方 SDK 的 OpenAI 后端
package openai

import (
	"context"
	"errors"

	"github.com/nerdneilsfield/go-book-translator/pkg/providers"
	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// getModel 根据字符串获取模型常量
func getModel(model string) openai.ChatModel {
	switch model {
	case "gpt-4o":
		return openai.ChatModelGPT4o
	case "gpt-4o-mini":
		return openai.ChatModelGPT4oMini
	case "gpt-4-turbo":
		return openai.ChatModelGPT4Turbo
	default:
		return openai.ChatModel(model)
	}
}

// Provider OpenAI 后端
type Provider struct {
	config providers.Config
	client openai.Client
}

var _ transform.Service = (*Provider)(nil)

// New 创建 OpenAI 后端。SDK 自身的重试被关闭，由 transform.Client 负责。
func New(config providers.Config) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	return &Provider{
		config: config,
		client: openai.NewClient(opts...),
	}
}

// Transform 翻译一段文本
func (p *Provider) Transform(ctx context.Context, text string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(providers.SystemPrompt(p.config)),
			openai.UserMessage(text),
		},
		Model: getModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = openai.Float(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.config.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(completion.Choices) == 0 {
		return "", transform.NewContentRejectedError(transform.KindEmpty, "no choices returned", nil)
	}

	choice := completion.Choices[0]
	if string(choice.FinishReason) == "content_filter" {
		return "", transform.NewContentRejectedError(transform.KindSafety, "completion stopped by content filter", nil)
	}
	return providers.CheckOutput(choice.Message.Content)
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return transform.HTTPStatusError(apiErr.StatusCode, "openai request failed", err)
	}
	return transform.Classify(err)
}
