package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strconv"
	"strings"

	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
)

// DOCX XML 命名空间
const (
	WordprocessingMLNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	RelationshipsNamespace    = "http://schemas.openxmlformats.org/package/2006/relationships"
	officeRelNamespace        = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	drawingMLNamespace        = "http://schemas.openxmlformats.org/drawingml/2006/main"
	wpNamespace               = "http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"

	imageRelType = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
	emuPerPixel  = 9525
)

// ErrInvalidDocx 不是合法的 DOCX
var ErrInvalidDocx = errors.New("invalid docx document")

// Relationships 关系文件
type Relationships struct {
	XMLName       xml.Name       `xml:"Relationships"`
	Namespace     string         `xml:"xmlns,attr"`
	Relationships []Relationship `xml:"Relationship"`
}

// Relationship 一条关系
type Relationship struct {
	ID     string `xml:"Id,attr"`
	Type   string `xml:"Type,attr"`
	Target string `xml:"Target,attr"`
}

// readDocx 把 word/document.xml 的段落转换为行级文本。
// 标题样式变成 # 前缀，列表段落变成 "- "，内嵌图片替换为占位符。
func readDocx(data []byte) (string, placeholder.AssetMap, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDocx, err)
	}
	files := make(map[string]*zip.File)
	for _, f := range zr.File {
		files[f.Name] = f
	}

	docFile, ok := files["word/document.xml"]
	if !ok {
		return "", nil, fmt.Errorf("%w: word/document.xml not found", ErrInvalidDocx)
	}
	docXML, err := readZip(docFile)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDocx, err)
	}

	rels := make(map[string]string)
	if f, ok := files["word/_rels/document.xml.rels"]; ok {
		relData, err := readZip(f)
		if err == nil {
			var r Relationships
			if xml.Unmarshal(relData, &r) == nil {
				for _, rel := range r.Relationships {
					rels[rel.ID] = rel.Target
				}
			}
		}
	}

	assets := make(placeholder.AssetMap)
	embed := func(relID, alt string, cx, cy int64) string {
		rec := &placeholder.AssetRecord{
			ID:    placeholder.NewID(),
			Kind:  placeholder.KindEmbedded,
			Alt:   alt,
			Attrs: map[string]string{"rel": relID},
		}
		if cx > 0 && cy > 0 {
			rec.Width = strconv.FormatInt(cx/emuPerPixel, 10)
			rec.Height = strconv.FormatInt(cy/emuPerPixel, 10)
		}
		target, ok := rels[relID]
		if !ok {
			rec.Err = fmt.Errorf("image relationship %s not found", relID)
		} else {
			name := path.Join("word", target)
			if strings.HasPrefix(target, "/") {
				name = strings.TrimPrefix(target, "/")
			}
			rec.Src = path.Base(name)
			if f, ok := files[name]; ok {
				rec.Data, rec.Err = readZip(f)
				rec.MediaType = mime.TypeByExtension(strings.ToLower(path.Ext(name)))
			} else {
				rec.Err = fmt.Errorf("image %s not found", name)
			}
		}
		assets[rec.ID] = rec
		return placeholder.Token(rec.ID)
	}

	text, err := walkDocument(docXML, embed)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDocx, err)
	}
	return text, assets, nil
}

type paragraph struct {
	style    string
	numbered bool
	text     strings.Builder
}

// walkDocument 流式读取 document.xml
func walkDocument(data []byte, embed func(relID, alt string, cx, cy int64) string) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		paras  []string
		cur    *paragraph
		inText bool
		alt    string
		cx, cy int64
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Space == WordprocessingMLNamespace && t.Name.Local == "p":
				cur = &paragraph{}
			case cur == nil:
			case t.Name.Space == WordprocessingMLNamespace && t.Name.Local == "pStyle":
				cur.style = xmlAttr(t, WordprocessingMLNamespace, "val")
			case t.Name.Space == WordprocessingMLNamespace && t.Name.Local == "numPr":
				cur.numbered = true
			case t.Name.Space == WordprocessingMLNamespace && t.Name.Local == "t":
				inText = true
			case t.Name.Space == WordprocessingMLNamespace && t.Name.Local == "tab":
				cur.text.WriteString("\t")
			case t.Name.Space == WordprocessingMLNamespace && (t.Name.Local == "br" || t.Name.Local == "cr"):
				cur.text.WriteString("  \n")
			case t.Name.Space == wpNamespace && t.Name.Local == "extent":
				cx, _ = strconv.ParseInt(xmlAttr(t, "", "cx"), 10, 64)
				cy, _ = strconv.ParseInt(xmlAttr(t, "", "cy"), 10, 64)
			case t.Name.Space == wpNamespace && t.Name.Local == "docPr":
				alt = xmlAttr(t, "", "descr")
				if alt == "" {
					alt = xmlAttr(t, "", "name")
				}
			case t.Name.Space == drawingMLNamespace && t.Name.Local == "blip":
				if id := xmlAttr(t, officeRelNamespace, "embed"); id != "" {
					cur.text.WriteString(embed(id, alt, cx, cy))
				}
				alt, cx, cy = "", 0, 0
			}
		case xml.EndElement:
			switch {
			case t.Name.Space == WordprocessingMLNamespace && t.Name.Local == "t":
				inText = false
			case t.Name.Space == WordprocessingMLNamespace && t.Name.Local == "p" && cur != nil:
				if line := cur.render(); line != "" {
					paras = append(paras, line)
				}
				cur = nil
			}
		case xml.CharData:
			if inText && cur != nil {
				cur.text.Write(t)
			}
		}
	}
	return strings.Join(paras, "\n\n"), nil
}

func (p *paragraph) render() string {
	text := strings.TrimRight(p.text.String(), " \n")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if level := headingLevel(p.style); level > 0 {
		return strings.Repeat("#", level) + " " + strings.TrimSpace(text)
	}
	if p.numbered || strings.HasPrefix(strings.ToLower(p.style), "list") {
		return "- " + strings.TrimSpace(text)
	}
	return text
}

// headingLevel 识别 Heading1..6 和 Title 样式
func headingLevel(style string) int {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if s == "title" {
		return 1
	}
	if strings.HasPrefix(s, "heading") {
		if n, err := strconv.Atoi(strings.TrimPrefix(s, "heading")); err == nil && n >= 1 && n <= 6 {
			return n
		}
	}
	return 0
}

func xmlAttr(t xml.StartElement, space, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local && (space == "" || a.Name.Space == space) {
			return a.Value
		}
	}
	return ""
}

func readZip(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
