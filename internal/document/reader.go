package document

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerdneilsfield/go-book-translator/internal/markup"
	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
)

// Flat 非容器文档：整个文件是一个单元
type Flat struct {
	Name     string
	Format   Format
	Title    string
	Language string
	Content  string               // 待转换内容
	Assets   placeholder.AssetMap // 读取器已替换为占位符的资源
	Markup   markup.Transform
	Resolver placeholder.Resolver
}

// ReadFile 读取本地文件，相对资源引用按文件所在目录解析
func ReadFile(path string) (*Flat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Read(path, data, DirResolver(filepath.Dir(path)))
}

// Read 解析内存中的文档。resolver 可为空
func Read(name string, data []byte, resolver placeholder.Resolver) (*Flat, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}

	doc := &Flat{
		Name:     name,
		Format:   format,
		Markup:   markup.Identity{},
		Resolver: resolver,
	}
	switch format {
	case PlainText, Markdown:
		doc.Content = decodeText(data)
	case HTML:
		doc.Content = decodeText(data)
		doc.Markup = markup.XHTML{}
		doc.Title = markup.Title(doc.Content)
	case WordDoc:
		content, assets, err := readDocx(data)
		if err != nil {
			return nil, err
		}
		doc.Content = content
		doc.Assets = assets
		doc.Resolver = nil
	default:
		return nil, fmt.Errorf("%w: %s is not a flat document", ErrUnsupportedFormat, format)
	}

	if doc.Title == "" {
		base := filepath.Base(name)
		doc.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return doc, nil
}

// DirResolver 从本地目录读取相对路径的资源，远程地址不读取
func DirResolver(dir string) placeholder.Resolver {
	return func(src string) ([]byte, string, error) {
		u, err := url.Parse(src)
		if err != nil || u.Scheme != "" || strings.HasPrefix(src, "//") {
			return nil, "", nil
		}
		p := u.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, filepath.FromSlash(p))
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, "", err
		}
		return data, mime.TypeByExtension(strings.ToLower(filepath.Ext(p))), nil
	}
}
