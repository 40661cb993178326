package markup

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var renderer = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough),
	goldmark.WithRendererOptions(
		html.WithXHTML(),
		html.WithUnsafe(),
	),
)

// TextToHTML 把行级文本渲染为 XHTML 片段，文本中的原始 HTML（如恢复后的图片）原样保留
func TextToHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(NormalizeLines(text)), &buf); err != nil {
		return "", fmt.Errorf("failed to render markup: %w", err)
	}
	return buf.String(), nil
}
