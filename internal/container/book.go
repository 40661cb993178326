package container

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/google/uuid"
)

// Chapter 新建容器中的一章，Body 为 XHTML 片段
type Chapter struct {
	Title string
	Body  string
}

// Resource 新建容器中的资源文件，Path 相对于 OEBPS
type Resource struct {
	Path      string
	MediaType string
	Data      []byte
}

// Book 从扁平文档生成 EPUB3 所需的内容
type Book struct {
	Identifier string
	Title      string
	Language   string
	Chapters   []Chapter
	Resources  []Resource
}

const bookRoot = "OEBPS"

// ChapterPath 第 i 章在 OEBPS 中的文件名
func ChapterPath(i int) string {
	return fmt.Sprintf("text/chapter%03d.xhtml", i+1)
}

// WriteBook 写出一个最小的合法 EPUB3
func WriteBook(w io.Writer, b *Book) error {
	if len(b.Chapters) == 0 {
		return &StructuralError{Err: fmt.Errorf("book has no chapters")}
	}
	id := b.Identifier
	if id == "" {
		id = "urn:uuid:" + uuid.NewString()
	}
	lang := b.Language
	if lang == "" {
		lang = "en"
	}

	zw := zip.NewWriter(w)
	add := func(name string, method uint16, data []byte) error {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			return &AssetError{Ref: name, Err: err}
		}
		if _, err := fw.Write(data); err != nil {
			return &AssetError{Ref: name, Err: err}
		}
		return nil
	}

	if err := add(mimetypeName, zip.Store, []byte(epubMimetype)); err != nil {
		return err
	}
	if err := add(containerXMLName, zip.Deflate, []byte(containerXML(bookRoot+"/content.opf"))); err != nil {
		return err
	}

	var nav []NavEntry
	for i, ch := range b.Chapters {
		p := ChapterPath(i)
		title := ch.Title
		if title == "" {
			title = fmt.Sprintf("%s %d", b.Title, i+1)
		}
		nav = append(nav, NavEntry{Path: bookRoot + "/" + p, Title: title})
		if err := add(bookRoot+"/"+p, zip.Deflate, chapterDoc(title, lang, ch.Body)); err != nil {
			return err
		}
	}
	navPath := bookRoot + "/nav.xhtml"
	if err := add(navPath, zip.Deflate, renderNavDoc(b.Title, lang, navPath, nav)); err != nil {
		return err
	}
	for _, r := range b.Resources {
		if err := add(bookRoot+"/"+r.Path, zip.Deflate, r.Data); err != nil {
			return err
		}
	}
	if err := add(bookRoot+"/content.opf", zip.Deflate, bookOPF(b, id, lang)); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return &AssetError{Ref: "archive", Err: err}
	}
	return nil
}

func containerXML(opfPath string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="` + escapeAttr(opfPath) + `" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`
}

func chapterDoc(title, lang, body string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n<!DOCTYPE html>\n")
	fmt.Fprintf(&b, `<html xmlns="http://www.w3.org/1999/xhtml" lang="%s" xml:lang="%s">`+"\n", escapeAttr(lang), escapeAttr(lang))
	b.WriteString("<head><title>" + html.EscapeString(title) + "</title></head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("\n</body>\n</html>\n")
	return []byte(b.String())
}

func bookOPF(b *Book, id, lang string) []byte {
	var s strings.Builder
	s.WriteString(`<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)
	fmt.Fprintf(&s, "    <dc:identifier id=\"bookid\">%s</dc:identifier>\n", html.EscapeString(id))
	fmt.Fprintf(&s, "    <dc:title>%s</dc:title>\n", html.EscapeString(b.Title))
	fmt.Fprintf(&s, "    <dc:language>%s</dc:language>\n", html.EscapeString(lang))
	s.WriteString("  </metadata>\n  <manifest>\n")
	s.WriteString(`    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>` + "\n")
	for i := range b.Chapters {
		fmt.Fprintf(&s, "    <item id=\"chapter%03d\" href=\"%s\" media-type=\"%s\"/>\n", i+1, ChapterPath(i), mediaTypeXHTML)
	}
	for i, r := range b.Resources {
		mt := r.MediaType
		if mt == "" {
			mt = "application/octet-stream"
		}
		fmt.Fprintf(&s, "    <item id=\"res%03d\" href=\"%s\" media-type=\"%s\"/>\n", i+1, escapeAttr(relHref(".", r.Path)), escapeAttr(mt))
	}
	s.WriteString("  </manifest>\n  <spine>\n")
	for i := range b.Chapters {
		fmt.Fprintf(&s, "    <itemref idref=\"chapter%03d\"/>\n", i+1)
	}
	s.WriteString("  </spine>\n</package>\n")
	return []byte(s.String())
}
