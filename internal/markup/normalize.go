package markup

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var fontWeightPattern = regexp.MustCompile(`font-weight\s*:\s*(bold|bolder|[6-9]00)`)

var inlineTags = map[string]bool{
	"a": true, "abbr": true, "b": true, "bdi": true, "bdo": true, "br": true,
	"cite": true, "code": true, "data": true, "dfn": true, "em": true, "i": true,
	"img": true, "kbd": true, "mark": true, "q": true, "s": true, "samp": true,
	"small": true, "span": true, "strong": true, "sub": true, "sup": true,
	"time": true, "u": true, "var": true, "wbr": true,
}

// Normalize 把样式化的 span 改写为 em/strong，把只含行内内容的 div 改写为 p
func Normalize(sel *goquery.Selection) {
	sel.Find("span").Each(func(_ int, s *goquery.Selection) {
		style := strings.ToLower(s.AttrOr("style", ""))
		class := strings.ToLower(s.AttrOr("class", ""))
		switch {
		case strings.Contains(style, "italic") || hasClass(class, "italic", "emphasis"):
			rename(s.Get(0), "em")
		case fontWeightPattern.MatchString(style) || hasClass(class, "bold", "strong"):
			rename(s.Get(0), "strong")
		}
	})

	sel.Find("div").Each(func(_ int, s *goquery.Selection) {
		if onlyInline(s.Get(0)) {
			rename(s.Get(0), "p")
		}
	})
}

func rename(n *html.Node, tag string) {
	n.Data = tag
	n.DataAtom = atom.Lookup([]byte(tag))
}

func hasClass(class string, names ...string) bool {
	for _, c := range strings.Fields(class) {
		for _, name := range names {
			if c == name {
				return true
			}
		}
	}
	return false
}

// onlyInline 节点的所有子孙是否都是行内内容
func onlyInline(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode, html.CommentNode:
			continue
		case html.ElementNode:
			if !inlineTags[c.Data] || !onlyInline(c) {
				return false
			}
		}
	}
	return true
}
