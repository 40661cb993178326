// Package document 读取扁平文档并把翻译结果写成各种输出格式。
package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Format 文档格式
type Format string

const (
	PlainText Format = "text"
	Markdown  Format = "markdown"
	HTML      Format = "html"
	WordDoc   Format = "docx"
	Container Format = "epub"
)

// ErrUnsupportedFormat 无法识别的格式
var ErrUnsupportedFormat = errors.New("unsupported format")

var extensions = map[string]Format{
	".txt":      PlainText,
	".text":     PlainText,
	".md":       Markdown,
	".markdown": Markdown,
	".html":     HTML,
	".htm":      HTML,
	".xhtml":    HTML,
	".docx":     WordDoc,
	".epub":     Container,
}

var aliases = map[string]Format{
	"txt":  PlainText,
	"md":   Markdown,
	"htm":  HTML,
	"word": WordDoc,
}

// DetectFormat 根据扩展名判断格式
func DetectFormat(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// ParseFormat 解析格式名称或扩展名
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	for _, f := range Formats() {
		if string(f) == name {
			return f, nil
		}
	}
	if f, ok := aliases[name]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Formats 所有支持的格式
func Formats() []Format {
	return []Format{PlainText, Markdown, HTML, WordDoc, Container}
}

// Extensions 某个格式对应的扩展名
func (f Format) Extensions() []string {
	var exts []string
	for ext, format := range extensions {
		if format == f {
			exts = append(exts, ext)
		}
	}
	sort.Strings(exts)
	return exts
}

// Extension 输出文件使用的扩展名
func (f Format) Extension() string {
	switch f {
	case PlainText:
		return ".txt"
	case Markdown:
		return ".md"
	case HTML:
		return ".html"
	case WordDoc:
		return ".docx"
	case Container:
		return ".epub"
	}
	return ""
}
