// Package raw 直接返回原文的后端，用于试运行
package raw

import (
	"context"

	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
)

// Provider 跳过翻译，直接返回原文
type Provider struct{}

var _ transform.Service = (*Provider)(nil)

// New 创建 raw 后端
func New() *Provider {
	return &Provider{}
}

// Transform 返回原文
func (p *Provider) Transform(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return text, nil
}
