package container

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type ncxNavPoint struct {
	Label struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

type ncxDoc struct {
	NavMap struct {
		Points []ncxNavPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

// loadNav 依次尝试 EPUB3 导航文档、NCX，最后按阅读顺序合成
func (c *Container) loadNav() {
	if c.NavPath != "" {
		if data, ok := c.Member(c.NavPath); ok {
			if entries := c.parseNavDoc(c.NavPath, data); len(entries) > 0 {
				c.Nav = entries
				return
			}
		}
	}
	if c.NCXPath != "" {
		if data, ok := c.Member(c.NCXPath); ok {
			if entries := c.parseNCX(c.NCXPath, data); len(entries) > 0 {
				c.Nav = entries
				return
			}
		}
	}
	c.Nav = c.synthesizeNav()
	c.NavSynthesized = true
}

// parseNavDoc 读取 toc 类型的 nav 中的所有链接
func (c *Container) parseNavDoc(navPath string, data []byte) []NavEntry {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	navs := doc.Find("nav")
	toc := navs.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.AttrOr("epub:type", ""), "toc")
	})
	if toc.Length() == 0 {
		toc = navs.First()
	}

	var entries []NavEntry
	toc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if isExternal(href) {
			return
		}
		target, fragment := splitFragment(href)
		entries = append(entries, NavEntry{
			Path:     c.resolve(navPath, target),
			Fragment: fragment,
			Title:    strings.Join(strings.Fields(a.Text()), " "),
		})
	})
	return entries
}

func (c *Container) parseNCX(ncxPath string, data []byte) []NavEntry {
	var doc ncxDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil
	}
	var entries []NavEntry
	var walk func([]ncxNavPoint)
	walk = func(points []ncxNavPoint) {
		for _, p := range points {
			if p.Content.Src != "" && !isExternal(p.Content.Src) {
				target, fragment := splitFragment(p.Content.Src)
				entries = append(entries, NavEntry{
					Path:     c.resolve(ncxPath, target),
					Fragment: fragment,
					Title:    strings.TrimSpace(p.Label.Text),
				})
			}
			walk(p.Children)
		}
	}
	walk(doc.NavMap.Points)
	return entries
}

func (c *Container) synthesizeNav() []NavEntry {
	var entries []NavEntry
	for _, p := range c.Parts {
		if p.Skip || p.Missing {
			continue
		}
		entries = append(entries, NavEntry{Path: p.Path, Title: p.Title})
	}
	return entries
}

func splitFragment(href string) (string, string) {
	target, fragment, _ := strings.Cut(href, "#")
	return target, fragment
}
