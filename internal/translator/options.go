package translator

import (
	"path/filepath"
	"strings"

	"github.com/nerdneilsfield/go-book-translator/internal/container"
	"github.com/nerdneilsfield/go-book-translator/internal/document"
	"github.com/nerdneilsfield/go-book-translator/internal/unit"
)

// Options 一次任务的不可变配置
type Options struct {
	Unit        unit.Options
	Concurrency int    // 同时处理的单元数
	Suffix      string // 翻译后部件的文件名后缀
	SourceLang  string
	TargetLang  string
	Resume      bool // 使用任务存储中的进度跳过已完成单元
}

// DefaultOptions 默认配置
func DefaultOptions() Options {
	return Options{
		Unit:        unit.DefaultOptions(),
		Concurrency: 4,
		Suffix:      container.DefaultSuffix,
		TargetLang:  "Chinese",
		Resume:      true,
	}
}

// Document 任务中的一个文档：扁平文件或容器，二者只能有一个
type Document struct {
	Name      string          // 唯一名称，通常为输入路径
	Output    string          // 相对输出目标的文件名
	Format    document.Format // 扁平文档的输出格式
	Flat      *document.Flat
	Container *container.Container
}

// NewFlatDocument 创建扁平文档任务，format 为空时沿用输入格式
func NewFlatDocument(flat *document.Flat, output string, format document.Format) *Document {
	if format == "" {
		format = flat.Format
	}
	return &Document{Name: flat.Name, Output: output, Format: format, Flat: flat}
}

// NewContainerDocument 创建容器任务
func NewContainerDocument(name string, c *container.Container, output string) *Document {
	return &Document{Name: name, Output: output, Format: document.Container, Container: c}
}

// OutputName 根据输入文件名生成输出文件名：book.epub -> book_translated.epub
func OutputName(input string, format document.Format, suffix string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	ext := format.Extension()
	if ext == "" {
		ext = filepath.Ext(base)
	}
	return stem + suffix + ext
}
