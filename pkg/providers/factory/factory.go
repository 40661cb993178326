// Package factory 根据名称创建转换后端
package factory

import (
	"context"
	"fmt"

	"github.com/nerdneilsfield/go-book-translator/pkg/providers"
	"github.com/nerdneilsfield/go-book-translator/pkg/providers/gemini"
	"github.com/nerdneilsfield/go-book-translator/pkg/providers/openai"
	"github.com/nerdneilsfield/go-book-translator/pkg/providers/openaicompat"
	"github.com/nerdneilsfield/go-book-translator/pkg/providers/raw"
	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
)

// Names 支持的后端名称
func Names() []string {
	return []string{"openai", "openai-compatible", "gemini", "raw"}
}

// New 根据配置创建后端
func New(ctx context.Context, config providers.Config) (transform.Service, error) {
	switch config.Name {
	case "openai":
		if config.APIKey == "" {
			return nil, fmt.Errorf("openai: api key is required")
		}
		return openai.New(config), nil
	case "openai-compatible", "compat":
		if config.BaseURL == "" {
			return nil, fmt.Errorf("openai-compatible: base url is required")
		}
		return openaicompat.New(config), nil
	case "gemini", "vertex":
		return gemini.New(ctx, config)
	case "raw", "none":
		return raw.New(), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Name)
	}
}
