package document

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-book-translator/internal/container"
	"github.com/nerdneilsfield/go-book-translator/internal/markup"
	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
)

const testID = "0123456789abcdef0123456789abcdef"

var testPNG = []byte("\x89PNG\r\n\x1a\nnot-really-a-png")

func embeddedAssets() placeholder.AssetMap {
	return placeholder.AssetMap{
		testID: {ID: testID, Kind: placeholder.KindEmbedded, Alt: "logo", MediaType: "image/png", Data: testPNG},
	}
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"a.txt":      PlainText,
		"b.MD":       Markdown,
		"c.xhtml":    HTML,
		"d.docx":     WordDoc,
		"dir/e.epub": Container,
	}
	for name, want := range tests {
		got, err := DetectFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := DetectFormat("x.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	f, err := ParseFormat(".md")
	require.NoError(t, err)
	assert.Equal(t, Markdown, f)
	f, err = ParseFormat("EPUB")
	require.NoError(t, err)
	assert.Equal(t, Container, f)
	_, err = ParseFormat("pdf")
	assert.Error(t, err)

	assert.Equal(t, []string{".htm", ".html", ".xhtml"}, HTML.Extensions())
	assert.Equal(t, ".docx", WordDoc.Extension())
}

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "hello", decodeText([]byte("\xEF\xBB\xBFhello")))
	assert.Equal(t, "hi", decodeText([]byte{0xFF, 0xFE, 'h', 0, 'i', 0}))
	assert.Equal(t, "plain", decodeText([]byte("plain")))
	assert.Equal(t, "中文", decodeText([]byte{0xD6, 0xD0, 0xCE, 0xC4}))
	assert.Empty(t, decodeText(nil))
}

func TestReadFlat(t *testing.T) {
	t.Run("markdown", func(t *testing.T) {
		doc, err := Read("notes/book.md", []byte("# Hi\n\ntext"), nil)
		require.NoError(t, err)
		assert.Equal(t, Markdown, doc.Format)
		assert.Equal(t, "book", doc.Title)
		assert.IsType(t, markup.Identity{}, doc.Markup)
		assert.Equal(t, "# Hi\n\ntext", doc.Content)
	})

	t.Run("html", func(t *testing.T) {
		doc, err := Read("page.html", []byte("<html><body><h1>Page Title</h1><p>x</p></body></html>"), nil)
		require.NoError(t, err)
		assert.Equal(t, "Page Title", doc.Title)
		assert.IsType(t, markup.XHTML{}, doc.Markup)
	})

	t.Run("container is not flat", func(t *testing.T) {
		_, err := Read("book.epub", nil, nil)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestReadFileResolvesLocalImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pic.png"), testPNG, 0o644))
	src := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(src, []byte("see ![pic](pic.png)"), 0o644))

	doc, err := ReadFile(src)
	require.NoError(t, err)
	require.NotNil(t, doc.Resolver)

	data, mediaType, err := doc.Resolver("pic.png")
	require.NoError(t, err)
	assert.Equal(t, testPNG, data)
	assert.Equal(t, "image/png", mediaType)

	data, _, err = doc.Resolver("https://example.com/x.png")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func buildDocx(t *testing.T) []byte {
	t.Helper()
	documentXML := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"
  xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"
  xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"
  xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">
<w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Heading</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Hello </w:t></w:r><w:r><w:rPr><w:b/></w:rPr><w:t>world</w:t></w:r></w:p>
<w:p><w:r><w:drawing><wp:inline><wp:extent cx="952500" cy="476250"/><wp:docPr id="1" name="Pic" descr="logo"/><a:graphic><a:graphicData><a:blip r:embed="rId5"/></a:graphicData></a:graphic></wp:inline></w:drawing></w:r></w:p>
<w:p><w:pPr><w:numPr/></w:pPr><w:r><w:t>item</w:t></w:r></w:p>
<w:p><w:r><w:t>   </w:t></w:r></w:p>
</w:body>
</w:document>`
	rels := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId5" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/image1.png"/>
</Relationships>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range map[string][]byte{
		"word/document.xml":            []byte(documentXML),
		"word/_rels/document.xml.rels": []byte(rels),
		"word/media/image1.png":        testPNG,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestReadDocx(t *testing.T) {
	doc, err := Read("report.docx", buildDocx(t), nil)
	require.NoError(t, err)
	require.Len(t, doc.Assets, 1)

	var rec *placeholder.AssetRecord
	for _, r := range doc.Assets {
		rec = r
	}
	assert.Equal(t, placeholder.KindEmbedded, rec.Kind)
	assert.Equal(t, "logo", rec.Alt)
	assert.Equal(t, testPNG, rec.Data)
	assert.Equal(t, "image/png", rec.MediaType)
	assert.Equal(t, "100", rec.Width)
	assert.Equal(t, "50", rec.Height)

	want := "# Heading\n\nHello world\n\n" + placeholder.Token(rec.ID) + "\n\n- item"
	assert.Equal(t, want, doc.Content)

	_, err = Read("broken.docx", []byte("nope"), nil)
	assert.ErrorIs(t, err, ErrInvalidDocx)
}

func TestTextAndMarkdownWriters(t *testing.T) {
	out := &Output{
		Title:  "T",
		Text:   "# Title\n\nSee " + placeholder.Token(testID) + " here.\n",
		Assets: embeddedAssets(),
	}

	w, err := WriterFor(PlainText, zap.NewNop())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf, out))
	assert.Equal(t, "# Title\n\nSee [image: logo] here.\n", buf.String())

	w, err = WriterFor(Markdown, nil)
	require.NoError(t, err)
	buf.Reset()
	out.Assets[testID].Src = "logo.png"
	require.NoError(t, w.Write(&buf, out))
	assert.Contains(t, buf.String(), "![logo](logo.png)")
	assert.Contains(t, buf.String(), "# Title")

	_, err = WriterFor(Format("pdf"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestWriterDropsUnknownTokens(t *testing.T) {
	stray := "ffffffffffffffffffffffffffffffff"
	out := &Output{Text: "a" + placeholder.Token(stray) + "b", Assets: embeddedAssets()}
	w, _ := WriterFor(PlainText, nil)
	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf, out))
	assert.Equal(t, "ab", buf.String())
}

func TestHTMLWriter(t *testing.T) {
	out := &Output{
		Title:    "Doc",
		Language: "zh",
		Text:     "# 标题\n\n正文 " + placeholder.Token(testID) + "\n",
		Assets:   embeddedAssets(),
	}
	w, err := WriterFor(HTML, nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf, out))

	html := buf.String()
	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, `<html lang="zh">`)
	assert.Contains(t, html, "<title>Doc</title>")
	assert.Contains(t, html, "<h1>标题</h1>")
	assert.Contains(t, html, `src="data:image/png;base64,`)
}

func TestDocxWriterRoundTrip(t *testing.T) {
	out := &Output{
		Text:   "# Title\n\nPara **bold**\n\n" + placeholder.Token(testID) + "\n\n- first",
		Assets: embeddedAssets(),
	}
	w, err := WriterFor(WordDoc, nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf, out))

	doc, err := Read("out.docx", buf.Bytes(), nil)
	require.NoError(t, err)
	require.Len(t, doc.Assets, 1)
	var id string
	for k, rec := range doc.Assets {
		id = k
		assert.Equal(t, testPNG, rec.Data)
		assert.Equal(t, "logo", rec.Alt)
	}
	assert.Equal(t, "# Title\n\nPara bold\n\n"+placeholder.Token(id)+"\n\n- first", doc.Content)
}

func TestEPUBWriter(t *testing.T) {
	out := &Output{
		Title:    "Flat Book",
		Language: "zh",
		Text:     "# 第一章\n\n图 " + placeholder.Token(testID) + "\n\n# 第二章\n\n正文\n",
		Assets:   embeddedAssets(),
	}
	w, err := WriterFor(Container, nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf, out))

	c, err := container.Open(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Flat Book", c.Title)
	parts := c.TranslatableParts()
	require.Len(t, parts, 2)
	assert.Equal(t, "第一章", parts[0].Title)
	assert.Equal(t, "第二章", parts[1].Title)
	assert.Contains(t, string(parts[0].Raw), `src="../images/`+testID+`.png"`)

	data, _, err := c.Resolver(parts[0].Path)("../images/" + testID + ".png")
	require.NoError(t, err)
	assert.Equal(t, testPNG, data)
}

func TestSplitChapters(t *testing.T) {
	chapters := splitChapters("intro\n\n# One\n\na\n\n```\n# not a chapter\n```\n# Two\nb\n")
	require.Len(t, chapters, 3)
	assert.Equal(t, "", chapters[0].title)
	assert.Equal(t, "One", chapters[1].title)
	assert.Contains(t, chapters[1].body(), "# not a chapter")
	assert.Equal(t, "Two", chapters[2].title)

	assert.Len(t, splitChapters(""), 1)
}
