package transform

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer 限制请求速率，零值或 nil 表示不限制
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer 按每分钟请求数创建限速器，perMinute <= 0 时返回 nil
func NewPacer(perMinute int) *Pacer {
	if perMinute <= 0 {
		return nil
	}
	interval := time.Minute / time.Duration(perMinute)
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait 等待下一个请求配额，上下文取消时立即返回
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
