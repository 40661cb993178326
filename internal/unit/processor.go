// Package unit 对单个文本单元（整个文件或容器中的一个部件）执行
// 占位符提取、分块、转换与重组。
package unit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nerdneilsfield/go-book-translator/internal/markup"
	"github.com/nerdneilsfield/go-book-translator/pkg/chunker"
	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
	"go.uber.org/zap"
)

// Transformer 转换一段文本，通常是 *transform.Client
type Transformer interface {
	Transform(ctx context.Context, text string) (string, error)
}

// Options 单元处理参数
type Options struct {
	Chunk           chunker.Options
	ChunkingEnabled bool
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{Chunk: chunker.DefaultOptions(), ChunkingEnabled: true}
}

// Input 待处理的单元
type Input struct {
	ID       string
	Content  string                // 原始标记或文本
	Assets   placeholder.AssetMap  // 读取器已提取的资源，文本中已是占位符
	Markup   markup.Transform      // 为空时按纯文本处理
	Resolver placeholder.Resolver  // 读取被引用资源
}

// Result 单元处理结果
type Result struct {
	ID           string
	Success      bool
	Content      string               // 最终内容；回退时为原文
	Text         string               // 重组后的译文，占位符尚未恢复
	Assets       placeholder.AssetMap // 本单元的全部资源
	UsedFallback bool
	Skipped      bool // 优雅结束时未开始翻译
	Cancelled    bool // 硬取消
	Warning      string
	Err          error
	ChunksTotal  int
	ChunksDone   int
}

// Fallback 构造使用原文的结果
func Fallback(in Input, reason string, err error) Result {
	return Result{
		ID:           in.ID,
		Content:      in.Content,
		Text:         in.Content,
		Assets:       in.Assets,
		UsedFallback: true,
		Warning:      reason,
		Err:          err,
	}
}

// Skip 构造优雅结束时跳过的结果
func Skip(in Input) Result {
	r := Fallback(in, "skipped by graceful finish", nil)
	r.Skipped = true
	return r
}

// Processor 单元处理器，可并发处理不同单元
type Processor struct {
	client Transformer
	opts   Options
	logger *zap.Logger
}

// NewProcessor 创建处理器
func NewProcessor(client Transformer, opts Options, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{client: client, opts: opts, logger: logger}
}

// Process 处理一个单元。draining 在每个分块前检查，返回 true 时不再调度新的分块。
// 单元内的分块严格按顺序调用。
func (p *Processor) Process(ctx context.Context, in Input, draining func() bool) Result {
	if draining == nil {
		draining = func() bool { return false }
	}
	log := p.logger.With(zap.String("unitID", in.ID))

	codec := placeholder.NewCodec(placeholder.WithResolver(in.Resolver))
	plain, assets := codec.Extract(in.Content)
	if len(in.Assets) > 0 {
		codec.Adopt(in.Assets)
		assets.Merge(in.Assets)
	}

	mt := in.Markup
	if mt == nil {
		mt = markup.Identity{}
	}
	text, rebuild, err := mt.ToText(plain)
	if err != nil {
		return Fallback(in, fmt.Sprintf("markup conversion failed: %v", err), err)
	}
	if strings.TrimSpace(text) == "" {
		return Result{ID: in.ID, Success: true, Content: in.Content, Text: text, Assets: assets}
	}

	chunks := p.split(text)
	result := Result{ID: in.ID, Assets: assets, ChunksTotal: len(chunks)}
	var warnings []string
	var parts []string

	for i, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return cancelled(in, result, err)
		}
		if draining() {
			if i == 0 {
				r := Skip(in)
				r.ChunksTotal = len(chunks)
				return r
			}
			for _, rest := range chunks[i:] {
				parts = append(parts, rest.Text)
			}
			warnings = append(warnings, fmt.Sprintf("graceful finish: %d of %d chunk(s) left untranslated", len(chunks)-i, len(chunks)))
			break
		}

		log.Debug("transforming chunk", zap.Int("chunk", i+1), zap.Int("total", len(chunks)))
		out, err := p.client.Transform(ctx, ch.Text)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return cancelled(in, result, err)
			}
			if transform.IsPermanent(err) || result.ChunksDone == 0 {
				r := Fallback(in, fmt.Sprintf("chunk %d/%d failed: %v", i+1, len(chunks), err), err)
				r.ChunksTotal = len(chunks)
				return r
			}
			log.Warn("chunk failed, keeping translated prefix", zap.Int("chunk", i+1), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("chunk %d/%d failed, kept %d translated chunk(s): %v", i+1, len(chunks), result.ChunksDone, err))
			break
		}

		out, removed := codec.Sanitize(out, ch.Text)
		if len(removed) > 0 {
			log.Warn("removed unknown placeholders", zap.Int("chunk", i+1), zap.Strings("ids", removed))
			warnings = append(warnings, fmt.Sprintf("chunk %d: removed %d unknown placeholder(s)", i+1, len(removed)))
		}
		parts = append(parts, keepEdges(ch.Text, out))
		result.ChunksDone++
	}

	joined := strings.Join(parts, "")
	restored, report := codec.Restore(joined, assets)
	if !report.Empty() {
		warnings = append(warnings, report.String())
	}

	content, err := rebuild(restored)
	if err != nil {
		r := Fallback(in, fmt.Sprintf("rebuilding markup failed: %v", err), err)
		r.ChunksTotal = len(chunks)
		return r
	}

	result.Success = true
	result.Content = content
	result.Text = joined
	result.Warning = strings.Join(warnings, "; ")
	return result
}

func (p *Processor) split(text string) []chunker.Chunk {
	if !p.opts.ChunkingEnabled || p.opts.Chunk.Limit <= 0 || utf8.RuneCountInString(text) <= p.opts.Chunk.Limit {
		return []chunker.Chunk{{Index: 0, Total: 1, Text: text}}
	}
	return chunker.Split(text, p.opts.Chunk)
}

func cancelled(in Input, partial Result, err error) Result {
	r := Fallback(in, "cancelled", err)
	r.Cancelled = true
	r.ChunksTotal = partial.ChunksTotal
	r.ChunksDone = partial.ChunksDone
	return r
}

// keepEdges 让译文保留原分块首尾的空白，保证段落分隔不丢失
func keepEdges(source, translated string) string {
	lead := source[:len(source)-len(strings.TrimLeftFunc(source, unicode.IsSpace))]
	trail := source[len(strings.TrimRightFunc(source, unicode.IsSpace)):]
	return lead + strings.TrimSpace(translated) + trail
}
