// Package transform 在外部文本转换能力之上提供重试、退避与失败分类。
package transform

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Service 外部文本转换能力
type Service interface {
	Transform(ctx context.Context, text string) (string, error)
}

// ServiceFunc 函数形式的 Service
type ServiceFunc func(ctx context.Context, text string) (string, error)

// Transform 实现 Service
func (f ServiceFunc) Transform(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// RetryConfig 重试配置
type RetryConfig struct {
	// 瞬时错误的重试次数（不含首次调用）
	MaxRetries int `json:"max_retries"`

	// 内容被拒绝时的重试次数
	ContentRetries int `json:"content_retries"`

	// 初始延迟时间
	InitialDelay time.Duration `json:"initial_delay"`

	// 最大延迟时间
	MaxDelay time.Duration `json:"max_delay"`

	// 退避因子（指数退避）
	BackoffFactor float64 `json:"backoff_factor"`
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		ContentRetries: 1,
		InitialDelay:   2 * time.Second,
		MaxDelay:       60 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Waiter 等待一段时间，上下文取消时立即返回
type Waiter func(ctx context.Context, d time.Duration) error

// Client 带重试的转换客户端，除配置外无状态，可并发使用
type Client struct {
	service Service
	config  RetryConfig
	pacer   *Pacer
	logger  *zap.Logger
	wait    Waiter
}

// ClientOption 客户端选项
type ClientOption func(*Client)

// WithPacer 每次调用前等待速率限制
func WithPacer(p *Pacer) ClientOption {
	return func(c *Client) { c.pacer = p }
}

// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithWaiter 替换退避等待函数
func WithWaiter(w Waiter) ClientOption {
	return func(c *Client) { c.wait = w }
}

// NewClient 创建客户端
func NewClient(service Service, config RetryConfig, opts ...ClientOption) *Client {
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 2.0
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.ContentRetries < 0 {
		config.ContentRetries = 0
	}
	c := &Client{
		service: service,
		config:  config,
		logger:  zap.NewNop(),
		wait:    sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config 返回重试配置
func (c *Client) Config() RetryConfig {
	return c.config
}

// Transform 调用外部服务转换文本。
// 瞬时错误最多重试 MaxRetries 次；永久错误立即返回；
// 内容被拒绝最多重试 ContentRetries 次。
func (c *Client) Transform(ctx context.Context, text string) (string, error) {
	var transientRetries, contentRetries int

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := c.pacer.Wait(ctx); err != nil {
			return "", err
		}

		out, err := c.service.Transform(ctx, text)
		if err == nil && strings.TrimSpace(out) == "" {
			err = ErrEmptyOutput
		}
		if err == nil {
			return out, nil
		}

		err = Classify(err)
		if errors.Is(err, context.Canceled) {
			return "", err
		}

		switch ClassOf(err) {
		case ClassPermanent:
			return "", err
		case ClassContentRejected:
			if contentRetries >= c.config.ContentRetries {
				return "", fmt.Errorf("content rejected after %d attempt(s): %w", attempt, err)
			}
			contentRetries++
		default:
			if transientRetries >= c.config.MaxRetries {
				return "", fmt.Errorf("giving up after %d attempt(s): %w", attempt, err)
			}
			transientRetries++
		}

		delay := c.delay(transientRetries + contentRetries)
		c.logger.Warn("transform failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := c.wait(ctx, delay); err != nil {
			return "", err
		}
	}
}

// delay 第 retry 次重试前的等待时间
func (c *Client) delay(retry int) time.Duration {
	d := float64(c.config.InitialDelay) * math.Pow(c.config.BackoffFactor, float64(retry-1))
	if c.config.MaxDelay > 0 && d > float64(c.config.MaxDelay) {
		return c.config.MaxDelay
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
