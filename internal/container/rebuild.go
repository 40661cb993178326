package container

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	nethtml "golang.org/x/net/html"
)

// DefaultSuffix 翻译后部件的文件名后缀
const DefaultSuffix = "_translated"

var (
	manifestPattern = regexp.MustCompile(`(?s)<(\w+:)?manifest\b[^>]*>.*?</(?:\w+:)?manifest\s*>`)
	spinePattern    = regexp.MustCompile(`(?s)(<(\w+:)?spine\b[^>]*?)\s*(?:/>|>.*?</(?:\w+:)?spine\s*>)`)
	ncxLabelPattern = regexp.MustCompile(`(?s)(<text>)([^<]*)(</text>\s*</navLabel>\s*<content\b[^>]*?\bsrc=")([^"]*)(")`)
	xmlDeclPattern  = regexp.MustCompile(`^\s*<\?xml[^>]*\?>`)
)

// Outcome 一个部件的处理结果
type Outcome struct {
	Translated bool   // 转换成功且未回退
	Content    []byte // 转换后的完整文档
	Title      string // 规范标题
}

// Report 重建报告
type Report struct {
	PathMap  map[string]string // 旧路径 -> 新路径
	Spine    []string          // 新阅读顺序中的路径
	Nav      []NavEntry        // 新导航条目
	Warnings []string
}

// Rebuilder 根据部件结果重建容器
type Rebuilder struct {
	suffix string
	logger *zap.Logger
}

// NewRebuilder 创建重建器
func NewRebuilder(suffix string, logger *zap.Logger) *Rebuilder {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rebuilder{suffix: suffix, logger: logger}
}

type manifestEntry struct {
	id         string
	path       string
	href       string
	mediaType  string
	properties string
}

// Rebuild 生成新的容器。
// 转换成功的部件写入带后缀的新路径；回退的部件保持原路径与原文，只改写指向新路径的链接；
// 其余文件逐字节复制。结构元数据无法处理时返回 StructuralError 且不产生任何输出。
func (r *Rebuilder) Rebuild(c *Container, outcomes map[string]Outcome) ([]byte, *Report, error) {
	report := &Report{PathMap: make(map[string]string)}
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		report.Warnings = append(report.Warnings, msg)
		r.logger.Warn(msg)
	}

	used := make(map[string]bool)
	for _, m := range c.members {
		used[m.Name] = true
	}

	keys := make([]string, 0, len(outcomes))
	for p := range outcomes {
		keys = append(keys, p)
	}
	sort.Strings(keys)
	for _, p := range keys {
		if _, ok := c.ItemByPath(p); !ok {
			warn("part %s has no manifest entry; skipped", p)
		}
	}

	pathMap := report.PathMap
	for _, item := range c.Manifest {
		if _, ok := c.byName[item.Path]; ok {
			pathMap[item.Path] = item.Path
		} else {
			warn("manifest item %s (%s) is missing from the archive; dropped", item.ID, item.Path)
		}
	}

	contents := make(map[string][]byte)
	titles := make(map[string]string)
	for _, part := range c.Parts {
		if part.Skip || part.Missing {
			continue
		}
		o, ok := outcomes[part.Path]
		if !ok {
			warn("no result for part %s; original kept", part.Path)
			titles[part.Path] = part.Title
			continue
		}
		if !o.Translated {
			titles[part.Path] = firstNonEmpty(o.Title, part.Title)
			continue
		}
		base := suffixPath(part.Path, r.suffix)
		np := uniqueName(base, used, func(n int) string {
			return suffixPath(part.Path, fmt.Sprintf("%s%d", r.suffix, n))
		})
		used[np] = true
		pathMap[part.Path] = np
		contents[np] = o.Content
		titles[np] = firstNonEmpty(o.Title, part.Title)
	}

	for _, part := range c.Parts {
		if np := pathMap[part.Path]; np != "" && np != part.Path {
			contents[np] = rewriteLinks(contents[np], part.Path, pathMap, c.resolve)
		}
	}
	// 保持原路径的 HTML 文件（回退部件、不在阅读顺序中的页面）只改写指向新路径的链接
	for _, item := range c.Manifest {
		if !isHTML(item) || item.Path == c.NavPath || pathMap[item.Path] != item.Path {
			continue
		}
		data, ok := c.Member(item.Path)
		if !ok {
			continue
		}
		if out := rewriteLinks(data, item.Path, pathMap, c.resolve); !bytes.Equal(out, data) {
			contents[item.Path] = out
		}
	}

	// 新的阅读顺序
	spine := make([]string, 0, len(c.Spine))
	for _, ref := range c.Spine {
		item, ok := c.Item(ref.IDRef)
		if !ok {
			warn("spine entry %s has no manifest item; dropped", ref.IDRef)
			continue
		}
		np, ok := pathMap[item.Path]
		if !ok {
			warn("spine entry %s (%s) has no content; dropped", ref.IDRef, item.Path)
			continue
		}
		spine = append(spine, np)
	}
	report.Spine = spine
	for _, p := range spine {
		if t, ok := titles[p]; ok {
			report.Nav = append(report.Nav, NavEntry{Path: p, Title: t})
		}
	}

	// 导航文档
	var generated *manifestEntry
	navRewritten := false
	if c.NavPath != "" {
		if data, ok := c.Member(c.NavPath); ok {
			out, err := r.rewriteNavDoc(c, data, pathMap, titles)
			if err != nil {
				return nil, nil, &StructuralError{Path: c.NavPath, Err: err}
			}
			contents[c.NavPath] = out
			navRewritten = true
		}
	}
	if c.NCXPath != "" {
		if data, ok := c.Member(c.NCXPath); ok {
			contents[c.NCXPath] = rewriteNCX(c, data, pathMap, titles)
			navRewritten = true
		}
	}
	if !navRewritten {
		opfDir := path.Dir(c.OPFPath)
		navPath := uniqueName(path.Join(opfDir, "nav.xhtml"), used, func(n int) string {
			return path.Join(opfDir, fmt.Sprintf("nav%d.xhtml", n))
		})
		navPath = strings.TrimPrefix(navPath, "./")
		used[navPath] = true
		contents[navPath] = renderNavDoc(c.Title, c.Language, navPath, report.Nav)
		generated = &manifestEntry{path: navPath, mediaType: mediaTypeXHTML, properties: "nav"}
	}

	opf, err := r.rewriteOPF(c, pathMap, spine, generated)
	if err != nil {
		return nil, nil, &StructuralError{Path: c.OPFPath, Err: err}
	}

	data, err := r.writeArchive(c, pathMap, contents, opf, generated)
	if err != nil {
		return nil, nil, err
	}
	return data, report, nil
}

// rewriteOPF 替换 OPF 中的 manifest 和 spine，其余内容保持原样
func (r *Rebuilder) rewriteOPF(c *Container, pathMap map[string]string, spine []string, generated *manifestEntry) ([]byte, error) {
	opf := string(c.OPF)
	mloc := manifestPattern.FindStringSubmatchIndex(opf)
	if mloc == nil {
		return nil, errors.New("manifest element not found")
	}
	prefix := ""
	if mloc[2] >= 0 {
		prefix = opf[mloc[2]:mloc[3]]
	}
	opfDir := path.Dir(c.OPFPath)

	seenIDs := make(map[string]bool)
	idFor := make(map[string]string)
	var entries []manifestEntry
	for _, item := range c.Manifest {
		np, ok := pathMap[item.Path]
		if !ok {
			continue
		}
		id := uniqueName(item.ID, seenIDs, func(n int) string { return fmt.Sprintf("%s-%d", item.ID, n) })
		seenIDs[id] = true
		idFor[np] = id

		href := item.Href
		if np != item.Path {
			href = relHref(opfDir, np)
		}
		entries = append(entries, manifestEntry{id: id, path: np, href: href, mediaType: item.MediaType, properties: item.Properties})
	}
	if generated != nil {
		generated.id = uniqueName("nav", seenIDs, func(n int) string { return fmt.Sprintf("nav-%d", n) })
		generated.href = relHref(opfDir, generated.path)
		entries = append(entries, *generated)
	}

	var mb strings.Builder
	fmt.Fprintf(&mb, "<%smanifest>\n", prefix)
	for _, e := range entries {
		fmt.Fprintf(&mb, `    <%sitem id="%s" href="%s" media-type="%s"`, prefix, escapeAttr(e.id), escapeAttr(e.href), escapeAttr(e.mediaType))
		if e.properties != "" {
			fmt.Fprintf(&mb, ` properties="%s"`, escapeAttr(e.properties))
		}
		mb.WriteString("/>\n")
	}
	fmt.Fprintf(&mb, "  </%smanifest>", prefix)

	out := opf[:mloc[0]] + mb.String() + opf[mloc[1]:]

	sloc := spinePattern.FindStringSubmatchIndex(out)
	if sloc == nil {
		return nil, errors.New("spine element not found")
	}
	spinePrefix := ""
	if sloc[4] >= 0 {
		spinePrefix = out[sloc[4]:sloc[5]]
	}
	linear := make(map[string]string)
	for _, ref := range c.Spine {
		if item, ok := c.Item(ref.IDRef); ok && ref.Linear != "" {
			linear[pathMap[item.Path]] = ref.Linear
		}
	}

	var sb strings.Builder
	sb.WriteString(out[sloc[2]:sloc[3]])
	sb.WriteString(">\n")
	for _, p := range spine {
		fmt.Fprintf(&sb, `    <%sitemref idref="%s"`, spinePrefix, escapeAttr(idFor[p]))
		if l := linear[p]; l != "" {
			fmt.Fprintf(&sb, ` linear="%s"`, escapeAttr(l))
		}
		sb.WriteString("/>\n")
	}
	fmt.Fprintf(&sb, "  </%sspine>", spinePrefix)

	return []byte(out[:sloc[0]] + sb.String() + out[sloc[1]:]), nil
}

// rewriteNavDoc 更新导航文档中的链接和已翻译部件的标题
func (r *Rebuilder) rewriteNavDoc(c *Container, data []byte, pathMap, titles map[string]string) ([]byte, error) {
	decl := xmlDeclPattern.Find(data)
	body := data
	if decl != nil {
		body = data[len(decl):]
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse navigation document: %w", err)
	}
	navDir := path.Dir(c.NavPath)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if isExternal(href) {
			return
		}
		target, fragment := splitFragment(href)
		full := c.resolve(c.NavPath, target)
		np, ok := pathMap[full]
		if !ok || np == full {
			return
		}
		newHref := relHref(navDir, np)
		if fragment != "" {
			newHref += "#" + fragment
		}
		a.SetAttr("href", newHref)
		if t := titles[np]; t != "" && fragment == "" {
			a.SetText(t)
		}
	})

	var buf bytes.Buffer
	if decl != nil {
		buf.Write(bytes.TrimSpace(decl))
		buf.WriteString("\n")
	}
	for _, n := range doc.Nodes {
		if err := nethtml.Render(&buf, n); err != nil {
			return nil, fmt.Errorf("render navigation document: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// rewriteNCX 更新 NCX 的标题和 content src
func rewriteNCX(c *Container, data []byte, pathMap, titles map[string]string) []byte {
	out := ncxLabelPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		sub := ncxLabelPattern.FindSubmatch(m)
		target, fragment := splitFragment(string(sub[4]))
		full := c.resolve(c.NCXPath, target)
		np, ok := pathMap[full]
		if !ok || np == full || fragment != "" || titles[np] == "" {
			return m
		}
		var b bytes.Buffer
		b.Write(sub[1])
		_ = xml.EscapeText(&b, []byte(titles[np]))
		b.Write(sub[3])
		b.Write(sub[4])
		b.Write(sub[5])
		return b.Bytes()
	})
	return rewriteLinks(out, c.NCXPath, pathMap, c.resolve)
}

// renderNavDoc 生成 EPUB3 导航文档
func renderNavDoc(title, lang, navPath string, entries []NavEntry) []byte {
	if title == "" {
		title = "Contents"
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString("<!DOCTYPE html>\n")
	b.WriteString(`<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops"`)
	if lang != "" {
		fmt.Fprintf(&b, ` lang="%s" xml:lang="%s"`, escapeAttr(lang), escapeAttr(lang))
	}
	b.WriteString(">\n<head><title>" + html.EscapeString(title) + "</title></head>\n<body>\n")
	b.WriteString(`<nav epub:type="toc" id="toc">` + "\n<h1>" + html.EscapeString(title) + "</h1>\n<ol>\n")
	dir := path.Dir(navPath)
	for _, e := range entries {
		href := relHref(dir, e.Path)
		if e.Fragment != "" {
			href += "#" + e.Fragment
		}
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", escapeAttr(href), html.EscapeString(e.Title))
	}
	b.WriteString("</ol>\n</nav>\n</body>\n</html>\n")
	return []byte(b.String())
}

// writeArchive 写出新的 zip：mimetype 第一个且不压缩
func (r *Rebuilder) writeArchive(c *Container, pathMap map[string]string, contents map[string][]byte, opf []byte, generated *manifestEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name string, data []byte, method uint16, m *Member) error {
		if method != zip.Store && method != zip.Deflate {
			method = zip.Deflate
		}
		hdr := &zip.FileHeader{Name: name, Method: method}
		if m != nil && !m.Modified.IsZero() {
			hdr.Modified = m.Modified
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return &AssetError{Ref: name, Err: err}
		}
		if _, err := w.Write(data); err != nil {
			return &AssetError{Ref: name, Err: err}
		}
		return nil
	}

	mimetype := []byte(epubMimetype)
	if data, ok := c.Member(mimetypeName); ok && len(bytes.TrimSpace(data)) > 0 {
		mimetype = data
	}
	if err := write(mimetypeName, mimetype, zip.Store, nil); err != nil {
		return nil, err
	}

	for _, m := range c.members {
		var err error
		switch {
		case m.Name == mimetypeName:
			continue
		case m.Name == c.OPFPath:
			err = write(m.Name, opf, zip.Deflate, m)
		case pathMap[m.Name] != "" && pathMap[m.Name] != m.Name:
			np := pathMap[m.Name]
			err = write(np, contents[np], zip.Deflate, m)
		case contents[m.Name] != nil:
			err = write(m.Name, contents[m.Name], zip.Deflate, m)
		default:
			err = write(m.Name, m.Data, m.Method, m)
		}
		if err != nil {
			return nil, err
		}
	}

	if generated != nil {
		if err := write(generated.path, contents[generated.path], zip.Deflate, nil); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, &AssetError{Ref: "archive", Err: err}
	}
	return buf.Bytes(), nil
}

func escapeAttr(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
