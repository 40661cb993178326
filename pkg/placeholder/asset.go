package placeholder

import (
	"fmt"
	"html"
	"sort"
	"strings"
)

// Kind 资源引用的来源形式
type Kind string

const (
	KindHTMLImage     Kind = "html"     // <img .../>
	KindMarkdownImage Kind = "markdown" // ![alt](src)
	KindEmbedded      Kind = "embedded" // 读取器直接提供的二进制资源（如 DOCX 图片）
)

// AssetRecord 描述一个被占位符替换的二进制资源
type AssetRecord struct {
	ID        string
	Kind      Kind
	Original  string // 原始引用标记，恢复时原样写回
	Src       string
	Alt       string
	Width     string
	Height    string
	Attrs     map[string]string
	MediaType string
	Data      []byte
	Err       error // 资源读取失败时记录原因
}

// Usable 资源是否可以在恢复时渲染
func (a *AssetRecord) Usable() bool {
	return a != nil && a.Err == nil
}

// AssetMap ID -> 资源
type AssetMap map[string]*AssetRecord

// IDs 返回排序后的资源 ID
func (m AssetMap) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Subset 返回只包含指定 ID 的子集
func (m AssetMap) Subset(ids []string) AssetMap {
	sub := make(AssetMap, len(ids))
	for _, id := range ids {
		if rec, ok := m[id]; ok {
			sub[id] = rec
		}
	}
	return sub
}

// Merge 把 other 中的资源合并进来
func (m AssetMap) Merge(other AssetMap) {
	for id, rec := range other {
		m[id] = rec
	}
}

// Renderer 把资源渲染为目标格式中的引用
type Renderer func(rec *AssetRecord) string

// RenderMarkup 默认渲染：优先写回原始标记，否则生成 <img/>
func RenderMarkup(rec *AssetRecord) string {
	if rec.Original != "" {
		return rec.Original
	}
	var b strings.Builder
	b.WriteString(`<img src="`)
	b.WriteString(html.EscapeString(rec.Src))
	b.WriteString(`" alt="`)
	b.WriteString(html.EscapeString(rec.Alt))
	b.WriteString(`"`)
	if rec.Width != "" {
		fmt.Fprintf(&b, ` width="%s"`, html.EscapeString(rec.Width))
	}
	if rec.Height != "" {
		fmt.Fprintf(&b, ` height="%s"`, html.EscapeString(rec.Height))
	}
	b.WriteString(`/>`)
	return b.String()
}

// RenderMarkdown 渲染为 Markdown 图片语法
func RenderMarkdown(rec *AssetRecord) string {
	if rec.Kind == KindMarkdownImage && rec.Original != "" {
		return rec.Original
	}
	return fmt.Sprintf("![%s](%s)", rec.Alt, rec.Src)
}

// RenderText 纯文本中只保留一个可见的图片说明
func RenderText(rec *AssetRecord) string {
	label := rec.Alt
	if label == "" {
		label = rec.Src
	}
	return "[image: " + label + "]"
}

// MissingMarker 资源缺失时写入的可见标记
func MissingMarker(id string) string {
	return "[missing image " + id + "]"
}
