// Package markup 在 HTML/XHTML 与行级文本标记之间转换。
//
// 行级标记只覆盖标题、段落、列表、强调、链接、引用、代码块和分隔线，
// 足以保持章节结构，不追求完整的 HTML 还原。
package markup

import (
	"regexp"
)

// Rebuild 把译文还原为目标标记
type Rebuild func(text string) (string, error)

// Transform 标记转换能力
type Transform interface {
	// ToText 返回待翻译文本及还原函数
	ToText(markup string) (string, Rebuild, error)
}

// Identity 输入已经是行级文本，不做任何转换
type Identity struct{}

// ToText 原样返回
func (Identity) ToText(markup string) (string, Rebuild, error) {
	return markup, func(text string) (string, error) { return text, nil }, nil
}

var (
	bodyOpenPattern  = regexp.MustCompile(`(?is)<body\b[^>]*>`)
	bodyClosePattern = regexp.MustCompile(`(?is)</body\s*>`)
)

// XHTML 处理完整的 XHTML 文档，只转换 body 内容，其余部分原样保留
type XHTML struct{}

// ToText 提取 body 并转换为行级文本
func (XHTML) ToText(doc string) (string, Rebuild, error) {
	head, body, tail := SplitBody(doc)
	text, err := HTMLToText(body)
	if err != nil {
		return "", nil, err
	}
	rebuild := func(translated string) (string, error) {
		rendered, err := TextToHTML(translated)
		if err != nil {
			return "", err
		}
		if head == "" {
			return rendered, nil
		}
		return head + "\n" + rendered + tail, nil
	}
	return text, rebuild, nil
}

// SplitBody 把文档拆分为 body 之前、body 内部、body 之后三部分。
// 没有 body 的片段整体视为 body。
func SplitBody(doc string) (head, body, tail string) {
	open := bodyOpenPattern.FindStringIndex(doc)
	if open == nil {
		return "", doc, ""
	}
	rest := doc[open[1]:]
	closing := bodyClosePattern.FindStringIndex(rest)
	if closing == nil {
		return doc[:open[1]], rest, ""
	}
	return doc[:open[1]], rest[:closing[0]], rest[closing[0]:]
}
