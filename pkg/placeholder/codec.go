// Package placeholder 用不透明的行内标记替换二进制资源引用，
// 使图片等资源能够原样穿过只处理文本的转换步骤。
package placeholder

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	tokenPrefix = "<||img_placeholder_"
	tokenSuffix = "||>"
)

var (
	tokenPattern = regexp.MustCompile(`<\|\|img_placeholder_([0-9a-f]{32})\|\|>`)

	// 可识别的资源引用：HTML img 标签与 Markdown 图片
	referencePattern = regexp.MustCompile(`(?is)<img\b[^>]*>|!\[([^\]\n]*)\]\(([^)\s]+)(?:\s+"[^"\n]*")?\)`)
	attrPattern      = regexp.MustCompile(`(?is)([a-z_][\w:.-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// Token 生成资源 ID 对应的占位符
func Token(id string) string {
	return tokenPrefix + id + tokenSuffix
}

// NewID 生成 128 位随机 ID 的十六进制表示
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Span 文本中一个占位符的字节区间
type Span struct {
	Start int
	End   int
	ID    string
}

// FindTokens 定位文本中所有格式正确的占位符
func FindTokens(text string) []Span {
	matches := tokenPattern.FindAllStringSubmatchIndex(text, -1)
	spans := make([]Span, 0, len(matches))
	for _, m := range matches {
		spans = append(spans, Span{Start: m[0], End: m[1], ID: text[m[2]:m[3]]})
	}
	return spans
}

// IDs 按出现顺序返回文本中的占位符 ID（可重复）
func IDs(text string) []string {
	spans := FindTokens(text)
	ids := make([]string, len(spans))
	for i, s := range spans {
		ids[i] = s.ID
	}
	return ids
}

// Resolver 读取资源内容，返回数据和媒体类型
type Resolver func(src string) ([]byte, string, error)

// Report 恢复过程中的诊断
type Report struct {
	Removed []string // 未由 Extract 签发、被删除的 ID
	Missing []string // 已签发但资源不可用的 ID
}

// Empty 没有任何诊断
func (r Report) Empty() bool {
	return len(r.Removed) == 0 && len(r.Missing) == 0
}

// String 人类可读的诊断
func (r Report) String() string {
	var parts []string
	if len(r.Removed) > 0 {
		parts = append(parts, fmt.Sprintf("removed %d unknown placeholder(s)", len(r.Removed)))
	}
	if len(r.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("%d asset(s) missing: %s", len(r.Missing), strings.Join(r.Missing, ", ")))
	}
	return strings.Join(parts, "; ")
}

// Codec 单个转换单元的占位符编解码器，记录本单元签发过的 ID
type Codec struct {
	mu      sync.Mutex
	issued  map[string]struct{}
	newID   func() string
	resolve Resolver
}

// Option 编解码器选项
type Option func(*Codec)

// WithResolver 设置资源读取函数，读取失败的资源恢复时会显示缺失标记
func WithResolver(r Resolver) Option {
	return func(c *Codec) { c.resolve = r }
}

// WithIDGenerator 替换 ID 生成函数
func WithIDGenerator(fn func() string) Option {
	return func(c *Codec) { c.newID = fn }
}

// NewCodec 创建编解码器
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		issued: make(map[string]struct{}),
		newID:  NewID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract 把所有可识别的资源引用替换为占位符
func (c *Codec) Extract(markup string) (string, AssetMap) {
	assets := make(AssetMap)

	c.mu.Lock()
	defer c.mu.Unlock()

	out := referencePattern.ReplaceAllStringFunc(markup, func(ref string) string {
		rec := parseReference(ref)
		rec.ID = c.newID()
		if c.resolve != nil && rec.Src != "" {
			data, mediaType, err := c.resolve(rec.Src)
			if err != nil {
				rec.Err = err
			} else {
				rec.Data = data
				rec.MediaType = mediaType
			}
		}
		c.issued[rec.ID] = struct{}{}
		assets[rec.ID] = rec
		return Token(rec.ID)
	})
	return out, assets
}

// Adopt 登记读取器预先提取的资源，文本中已包含这些占位符
func (c *Codec) Adopt(assets AssetMap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range assets {
		c.issued[id] = struct{}{}
	}
}

// Issued ID 是否由本编解码器签发
func (c *Codec) Issued(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.issued[id]
	return ok
}

// Sanitize 以 source 中的占位符多重集为上限，删除转换结果中多出的占位符
func (c *Codec) Sanitize(transformed, source string) (string, []string) {
	budget := make(map[string]int)
	for _, id := range IDs(source) {
		budget[id]++
	}

	var removed []string
	out := tokenPattern.ReplaceAllStringFunc(transformed, func(tok string) string {
		id := tok[len(tokenPrefix) : len(tok)-len(tokenSuffix)]
		if budget[id] > 0 {
			budget[id]--
			return tok
		}
		removed = append(removed, id)
		return ""
	})
	return out, removed
}

// Restore 使用默认渲染恢复资源
func (c *Codec) Restore(text string, assets AssetMap) (string, Report) {
	return c.RestoreWith(text, assets, RenderMarkup)
}

// RestoreWith 把占位符替换为渲染后的资源引用。
// 未签发的 ID 被删除，签发过但不可用的资源写入缺失标记。
func (c *Codec) RestoreWith(text string, assets AssetMap, render Renderer) (string, Report) {
	var report Report

	c.mu.Lock()
	defer c.mu.Unlock()

	out := tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		id := tok[len(tokenPrefix) : len(tok)-len(tokenSuffix)]
		if _, ok := c.issued[id]; !ok {
			report.Removed = append(report.Removed, id)
			return ""
		}
		rec, ok := assets[id]
		if !ok || !rec.Usable() {
			report.Missing = append(report.Missing, id)
			return MissingMarker(id)
		}
		return render(rec)
	})
	return out, report
}

func parseReference(ref string) *AssetRecord {
	rec := &AssetRecord{Original: ref, Attrs: make(map[string]string)}

	if strings.HasPrefix(ref, "!") {
		m := referencePattern.FindStringSubmatch(ref)
		rec.Kind = KindMarkdownImage
		if len(m) > 2 {
			rec.Alt = m[1]
			rec.Src = m[2]
		}
		return rec
	}

	rec.Kind = KindHTMLImage
	for _, m := range attrPattern.FindAllStringSubmatch(ref, -1) {
		name := strings.ToLower(m[1])
		value := m[2]
		if value == "" {
			value = m[3]
		}
		rec.Attrs[name] = value
	}
	rec.Src = rec.Attrs["src"]
	rec.Alt = rec.Attrs["alt"]
	rec.Width = rec.Attrs["width"]
	rec.Height = rec.Attrs["height"]
	return rec
}
