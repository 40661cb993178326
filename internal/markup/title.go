package markup

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Title 返回文档的标题：第一个 h1-h3，其次 <title>，都没有时返回空字符串
func Title(doc string) string {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return ""
	}
	if h := strings.TrimSpace(d.Find("h1, h2, h3").First().Text()); h != "" {
		return whitespacePattern.ReplaceAllString(h, " ")
	}
	return strings.TrimSpace(d.Find("title").First().Text())
}
