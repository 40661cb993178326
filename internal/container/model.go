// Package container 读取和重建 EPUB 容器：清单、阅读顺序和导航。
package container

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/nerdneilsfield/go-book-translator/internal/markup"
	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
)

const (
	mimetypeName     = "mimetype"
	containerXMLName = "META-INF/container.xml"
	epubMimetype     = "application/epub+zip"
	mediaTypeXHTML   = "application/xhtml+xml"
	mediaTypeNCX     = "application/x-dtbncx+xml"
)

var (
	// ErrNoPackage 找不到 OPF 包文档
	ErrNoPackage = errors.New("package document not found")
	// ErrAssetNotFound 被引用的资源不在容器中
	ErrAssetNotFound = errors.New("asset not found in container")
)

// StructuralError 容器结构元数据无法读取
type StructuralError struct {
	Path string
	Err  error
}

func (e *StructuralError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("structural input error: %v", e.Err)
	}
	return fmt.Sprintf("structural input error in %s: %v", e.Path, e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// AssetError 资源读写失败
type AssetError struct {
	Ref string
	Err error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset %s: %v", e.Ref, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// Member 容器中的一个文件
type Member struct {
	Name     string
	Data     []byte
	Method   uint16
	Modified time.Time
}

// ManifestItem 清单条目，Path 为容器内完整路径
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
	Path       string
}

// IsNav 是否为 EPUB3 导航文档
func (m ManifestItem) IsNav() bool {
	for _, p := range strings.Fields(m.Properties) {
		if p == "nav" {
			return true
		}
	}
	return false
}

// SpineRef 阅读顺序中的一项
type SpineRef struct {
	IDRef  string
	Linear string
}

// NavEntry 导航条目
type NavEntry struct {
	Path     string // 目标部件的完整路径
	Fragment string
	Title    string
}

// Part 可转换的部件（章节）
type Part struct {
	Path       string
	ManifestID string
	MediaType  string
	Raw        []byte
	Skip       bool // 导航文档等不参与转换的部件
	Missing    bool // 清单中存在但容器里没有该文件
	Title      string
}

// Container 内存中的 EPUB 容器
type Container struct {
	OPFPath  string
	OPF      []byte
	Title    string
	Language string
	Manifest []ManifestItem
	Spine    []SpineRef
	NavPath  string
	NCXPath  string
	Nav      []NavEntry
	Parts    []*Part

	// 导航是否根据阅读顺序合成
	NavSynthesized bool

	members []*Member
	byName  map[string]*Member
	byID    map[string]int
	byPath  map[string]int
}

type opfPackage struct {
	Metadata struct {
		Title    []string `xml:"title"`
		Language []string `xml:"language"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// OpenFile 打开本地 EPUB 文件
func OpenFile(name string) (*Container, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read container: %w", err)
	}
	return Open(data)
}

// Open 解析 EPUB
func Open(data []byte) (*Container, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &StructuralError{Err: err}
	}

	c := &Container{
		byName: make(map[string]*Member),
		byID:   make(map[string]int),
		byPath: make(map[string]int),
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		content, err := readZipFile(f)
		if err != nil {
			return nil, &StructuralError{Path: f.Name, Err: err}
		}
		m := &Member{Name: f.Name, Data: content, Method: f.Method, Modified: f.Modified}
		c.members = append(c.members, m)
		c.byName[f.Name] = m
	}

	opfPath, err := c.findOPFPath()
	if err != nil {
		return nil, &StructuralError{Path: containerXMLName, Err: err}
	}
	opf, ok := c.byName[opfPath]
	if !ok {
		return nil, &StructuralError{Path: opfPath, Err: ErrNoPackage}
	}
	c.OPFPath = opfPath
	c.OPF = opf.Data

	if err := c.parseOPF(); err != nil {
		return nil, &StructuralError{Path: opfPath, Err: err}
	}
	c.collectParts()
	c.loadNav()
	return c, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// findOPFPath 通过 META-INF/container.xml 定位 OPF，失败时查找任意 .opf 文件
func (c *Container) findOPFPath() (string, error) {
	if m, ok := c.byName[containerXMLName]; ok {
		var doc struct {
			Rootfiles struct {
				Rootfile []struct {
					FullPath  string `xml:"full-path,attr"`
					MediaType string `xml:"media-type,attr"`
				} `xml:"rootfile"`
			} `xml:"rootfiles"`
		}
		if err := xml.Unmarshal(m.Data, &doc); err != nil {
			return "", fmt.Errorf("parse container.xml: %w", err)
		}
		for _, rf := range doc.Rootfiles.Rootfile {
			if rf.FullPath != "" {
				return rf.FullPath, nil
			}
		}
	}
	for _, m := range c.members {
		if strings.HasSuffix(strings.ToLower(m.Name), ".opf") {
			return m.Name, nil
		}
	}
	return "", ErrNoPackage
}

func (c *Container) parseOPF() error {
	var pkg opfPackage
	if err := xml.Unmarshal(c.OPF, &pkg); err != nil {
		return fmt.Errorf("parse package document: %w", err)
	}
	if len(pkg.Manifest.Items) == 0 {
		return errors.New("package document has an empty manifest")
	}
	if len(pkg.Metadata.Title) > 0 {
		c.Title = strings.TrimSpace(pkg.Metadata.Title[0])
	}
	if len(pkg.Metadata.Language) > 0 {
		c.Language = strings.TrimSpace(pkg.Metadata.Language[0])
	}

	for _, it := range pkg.Manifest.Items {
		item := ManifestItem{
			ID:         it.ID,
			Href:       it.Href,
			MediaType:  it.MediaType,
			Properties: it.Properties,
			Path:       c.resolve(c.OPFPath, it.Href),
		}
		c.byID[item.ID] = len(c.Manifest)
		c.byPath[item.Path] = len(c.Manifest)
		c.Manifest = append(c.Manifest, item)

		if item.IsNav() {
			c.NavPath = item.Path
		}
		if item.MediaType == mediaTypeNCX && c.NCXPath == "" {
			c.NCXPath = item.Path
		}
	}
	if pkg.Spine.Toc != "" {
		if item, ok := c.Item(pkg.Spine.Toc); ok {
			c.NCXPath = item.Path
		}
	}
	for _, ref := range pkg.Spine.ItemRefs {
		c.Spine = append(c.Spine, SpineRef{IDRef: ref.IDRef, Linear: ref.Linear})
	}
	return nil
}

// collectParts 按阅读顺序收集 XHTML 部件，导航文档标记为跳过
func (c *Container) collectParts() {
	seen := make(map[string]bool)
	add := func(item ManifestItem) {
		if seen[item.Path] || !isHTML(item) {
			return
		}
		seen[item.Path] = true
		part := &Part{
			Path:       item.Path,
			ManifestID: item.ID,
			MediaType:  item.MediaType,
			Skip:       item.IsNav(),
		}
		if m, ok := c.byName[item.Path]; ok {
			part.Raw = m.Data
			part.Title = markup.Title(string(m.Data))
		} else {
			part.Missing = true
		}
		if part.Title == "" {
			part.Title = stem(item.Path)
		}
		c.Parts = append(c.Parts, part)
	}

	for _, ref := range c.Spine {
		if item, ok := c.Item(ref.IDRef); ok {
			add(item)
		}
	}
	if c.NavPath != "" {
		add(c.Manifest[c.byPath[c.NavPath]])
	}
}

// Item 按 ID 查找清单条目
func (c *Container) Item(id string) (ManifestItem, bool) {
	i, ok := c.byID[id]
	if !ok {
		return ManifestItem{}, false
	}
	return c.Manifest[i], true
}

// ItemByPath 按完整路径查找清单条目
func (c *Container) ItemByPath(p string) (ManifestItem, bool) {
	i, ok := c.byPath[p]
	if !ok {
		return ManifestItem{}, false
	}
	return c.Manifest[i], true
}

// Member 返回容器中某个文件的内容
func (c *Container) Member(name string) ([]byte, bool) {
	m, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return m.Data, true
}

// Members 按原始顺序返回所有文件
func (c *Container) Members() []*Member {
	return c.members
}

// TranslatableParts 需要转换的部件
func (c *Container) TranslatableParts() []*Part {
	var parts []*Part
	for _, p := range c.Parts {
		if !p.Skip && !p.Missing {
			parts = append(parts, p)
		}
	}
	return parts
}

// Resolver 返回按部件路径解析资源引用的函数
func (c *Container) Resolver(partPath string) placeholder.Resolver {
	return func(src string) ([]byte, string, error) {
		if isExternal(src) {
			return nil, "", nil
		}
		target := c.resolve(partPath, strings.SplitN(src, "#", 2)[0])
		data, ok := c.Member(target)
		if !ok {
			return nil, "", &AssetError{Ref: target, Err: ErrAssetNotFound}
		}
		mediaType := ""
		if item, ok := c.ItemByPath(target); ok {
			mediaType = item.MediaType
		}
		return data, mediaType, nil
	}
}

// resolve 把相对于 base 文件的 href 解析为容器内完整路径
func (c *Container) resolve(base, href string) string {
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	if strings.HasPrefix(href, "/") {
		return strings.TrimPrefix(path.Clean(href), "/")
	}
	return strings.TrimPrefix(path.Join(path.Dir(base), href), "./")
}

func isHTML(item ManifestItem) bool {
	switch item.MediaType {
	case mediaTypeXHTML, "text/html":
		return true
	}
	switch strings.ToLower(path.Ext(item.Path)) {
	case ".xhtml", ".html", ".htm":
		return true
	}
	return false
}

func isExternal(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "data:") {
		return true
	}
	u, err := url.Parse(ref)
	return err == nil && u.Scheme != ""
}

func stem(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
