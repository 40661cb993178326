package markup

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
)

var (
	whitespacePattern = regexp.MustCompile(`[ \t\r\n\f]+`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)

	inlineMarkPattern  = regexp.MustCompile("[\\\\*_`]")
	orderedMarkPattern = regexp.MustCompile(`^(\d+)([.)])(\s|$)`)
)

// HTMLToText 把 HTML 片段转换为行级文本标记
func HTMLToText(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	Normalize(doc.Selection)

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	w := &textWriter{}
	for _, n := range root.Nodes {
		w.children(n, 0)
	}
	return cleanup(w.String()), nil
}

// textWriter 遍历节点树并输出行级标记
type textWriter struct {
	b   strings.Builder
	pre int
}

func (w *textWriter) String() string {
	return w.b.String()
}

func (w *textWriter) atLineStart() bool {
	s := w.b.String()
	return s == "" || strings.HasSuffix(s, "\n") || strings.HasSuffix(s, " ")
}

func (w *textWriter) write(s string) {
	w.b.WriteString(s)
}

func (w *textWriter) block(n *html.Node, depth int, prefix string) {
	w.write("\n\n")
	w.write(prefix)
	w.children(n, depth)
	w.write("\n\n")
}

func (w *textWriter) node(n *html.Node, depth int) {
	switch n.Type {
	case html.TextNode:
		if w.pre > 0 {
			w.write(n.Data)
			return
		}
		text := whitespacePattern.ReplaceAllString(n.Data, " ")
		if w.atLineStart() {
			text = strings.TrimLeft(text, " ")
		}
		s := w.String()
		w.write(escapeText(text, s == "" || strings.HasSuffix(s, "\n")))

	case html.ElementNode:
		switch n.Data {
		case "script", "style", "head", "title":
			return

		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(n.Data[1] - '0')
			w.block(n, depth, strings.Repeat("#", level)+" ")

		case "p", "div", "section", "article", "header", "footer", "aside", "figure", "figcaption", "main", "nav":
			w.block(n, depth, "")

		case "strong", "b":
			w.wrap(n, depth, "**")
		case "em", "i":
			w.wrap(n, depth, "*")
		case "code":
			if w.pre > 0 {
				w.children(n, depth)
				return
			}
			w.wrap(n, depth, "`")

		case "a":
			href := attr(n, "href")
			if href == "" {
				w.children(n, depth)
				return
			}
			w.write("[")
			w.children(n, depth)
			w.write("](" + href + ")")

		case "img":
			w.write("![" + attr(n, "alt") + "](" + attr(n, "src") + ")")

		case "ul", "ol":
			w.write("\n")
			w.list(n, depth, n.Data == "ol")
			w.write("\n")

		case "blockquote":
			w.write("\n\n")
			inner := &textWriter{}
			inner.children(n, depth)
			for _, line := range strings.Split(cleanup(inner.String()), "\n") {
				if strings.TrimSpace(line) == "" {
					w.write(">\n")
					continue
				}
				w.write("> " + strings.TrimSpace(line) + "\n")
			}
			w.write("\n")

		case "pre":
			w.write("\n\n```")
			if code := findChild(n, "code"); code != nil {
				w.write(classLanguage(code))
			}
			w.write("\n")
			w.pre++
			w.children(n, depth)
			w.pre--
			w.write("\n```\n\n")

		case "br":
			w.write("  \n")

		case "hr":
			w.write("\n\n---\n\n")

		case "table":
			w.write("\n\n")
			w.table(n)
			w.write("\n\n")

		default:
			w.children(n, depth)
		}

	default:
		w.children(n, depth)
	}
}

func (w *textWriter) children(n *html.Node, depth int) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.node(c, depth)
	}
}

func (w *textWriter) wrap(n *html.Node, depth int, marker string) {
	inner := &textWriter{pre: w.pre}
	inner.children(n, depth)
	text := inner.String()
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		w.write(text)
		return
	}
	// 空白留在标记外侧，否则强调语法不生效
	if strings.HasPrefix(text, " ") && !w.atLineStart() {
		w.write(" ")
	}
	w.write(marker + trimmed + marker)
	if strings.HasSuffix(text, " ") {
		w.write(" ")
	}
}

// list 输出列表，嵌套列表缩进四个空格
func (w *textWriter) list(n *html.Node, depth int, ordered bool) {
	counter := 1
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		if !strings.HasSuffix(w.String(), "\n") {
			w.write("\n")
		}
		w.write(strings.Repeat("    ", depth))
		if ordered {
			w.write(fmt.Sprintf("%d. ", counter))
			counter++
		} else {
			w.write("- ")
		}

		inner := &textWriter{}
		inner.children(c, depth+1)
		item := strings.TrimSpace(blankLinesPattern.ReplaceAllString(inner.String(), "\n"))
		item = strings.ReplaceAll(item, "\n\n", "\n")
		w.write(item)
		w.write("\n")
	}
}

func (w *textWriter) table(n *html.Node) {
	var rows []*html.Node
	var collect func(*html.Node)
	collect = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "tr":
				rows = append(rows, c)
			case "thead", "tbody", "tfoot":
				collect(c)
			}
		}
	}
	collect(n)

	for i, row := range rows {
		cells := 0
		w.write("|")
		for cell := row.FirstChild; cell != nil; cell = cell.NextSibling {
			if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
				inner := &textWriter{}
				inner.children(cell, 0)
				text := whitespacePattern.ReplaceAllString(strings.TrimSpace(inner.String()), " ")
				w.write(" " + strings.ReplaceAll(text, "|", `\|`) + " |")
				cells++
			}
		}
		w.write("\n")
		if i == 0 {
			w.write("|" + strings.Repeat(" --- |", cells) + "\n")
		}
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findChild(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
	}
	return nil
}

// classLanguage 从 class 属性中提取代码语言
func classLanguage(n *html.Node) string {
	for _, class := range strings.Fields(attr(n, "class")) {
		if lang, ok := strings.CutPrefix(class, "language-"); ok {
			return lang
		}
		if lang, ok := strings.CutPrefix(class, "lang-"); ok {
			return lang
		}
	}
	return ""
}

// cleanup 去掉行尾空白（保留硬换行）并压缩空行
func cleanup(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasSuffix(line, "  ") && strings.TrimSpace(line) != "" {
			lines[i] = strings.TrimRight(line, " ") + "  "
			continue
		}
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	return strings.Trim(text, "\n")
}

// escapeText 转义文本中会被当作行级标记的字符，占位符保持原样
func escapeText(text string, lineStart bool) string {
	var b strings.Builder
	last := 0
	for _, span := range placeholder.FindTokens(text) {
		b.WriteString(inlineMarkPattern.ReplaceAllString(text[last:span.Start], `\$0`))
		b.WriteString(text[span.Start:span.End])
		last = span.End
	}
	b.WriteString(inlineMarkPattern.ReplaceAllString(text[last:], `\$0`))
	out := b.String()
	if !lineStart || out == "" {
		return out
	}
	switch out[0] {
	case '#', '>', '+', '-':
		return `\` + out
	}
	return orderedMarkPattern.ReplaceAllString(out, `$1\$2$3`)
}
