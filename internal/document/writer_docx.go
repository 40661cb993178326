package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"path"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
)

const (
	maxImageWidthEMU   = 5486400 // 6 英寸
	defaultImageWidth  = 300
	defaultImageHeight = 200
)

var (
	headingLinePattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	listLinePattern    = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.*)$`)
	emphasisPattern    = regexp.MustCompile(`\*\*([^*]+)\*\*|\*([^*\s][^*]*)\*`)
	blankLinePattern   = regexp.MustCompile(`\n[ \t]*\n`)
)

type docxWriter struct{ logger *zap.Logger }

func (w *docxWriter) Format() Format { return WordDoc }

type docxImage struct {
	relID string
	name  string
	rec   *placeholder.AssetRecord
	cx    int64
	cy    int64
}

// Write 生成只包含正文、样式和图片的 DOCX
func (w *docxWriter) Write(out io.Writer, o *Output) error {
	// 可嵌入的资源保留占位符，之后替换为图片；其余按纯文本渲染
	text, report := o.restore(func(rec *placeholder.AssetRecord) string {
		if len(rec.Data) > 0 {
			return placeholder.Token(rec.ID)
		}
		return placeholder.RenderText(rec)
	})
	logReport(w.logger, report)

	images := make(map[string]*docxImage)
	var order []*docxImage
	imageFor := func(id string) *docxImage {
		if img, ok := images[id]; ok {
			return img
		}
		rec := o.Assets[id]
		n := len(order) + 1
		img := &docxImage{
			relID: fmt.Sprintf("rIdImg%d", n),
			name:  fmt.Sprintf("image%d%s", n, mediaExt(rec)),
			rec:   rec,
		}
		img.cx, img.cy = imageExtent(rec)
		images[id] = img
		order = append(order, img)
		return img
	}

	var body bytes.Buffer
	drawingID := 0
	for _, block := range splitBlocks(text) {
		style, content := blockStyle(block)
		body.WriteString("<w:p>")
		if style != "" {
			fmt.Fprintf(&body, `<w:pPr><w:pStyle w:val="%s"/></w:pPr>`, style)
		}
		last := 0
		for _, span := range placeholder.FindTokens(content) {
			writeRuns(&body, content[last:span.Start])
			drawingID++
			writeDrawing(&body, imageFor(span.ID), drawingID)
			last = span.End
		}
		writeRuns(&body, content[last:])
		body.WriteString("</w:p>\n")
	}

	zw := zip.NewWriter(out)
	files := []struct {
		name string
		data []byte
	}{
		{"[Content_Types].xml", []byte(docxContentTypes(order))},
		{"_rels/.rels", []byte(docxRootRels)},
		{"word/document.xml", []byte(docxDocumentHead + body.String() + docxDocumentTail)},
		{"word/styles.xml", []byte(docxStyles)},
		{"word/_rels/document.xml.rels", []byte(docxDocumentRels(order))},
	}
	for _, img := range order {
		files = append(files, struct {
			name string
			data []byte
		}{"word/media/" + img.name, img.rec.Data})
	}
	for _, f := range files {
		fw, err := zw.Create(f.name)
		if err != nil {
			return err
		}
		if _, err := fw.Write(f.data); err != nil {
			return err
		}
	}
	return zw.Close()
}

// splitBlocks 按空行拆分段落
func splitBlocks(text string) []string {
	var blocks []string
	for _, b := range blankLinePattern.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1) {
		if strings.TrimSpace(b) != "" {
			blocks = append(blocks, strings.Trim(b, "\n"))
		}
	}
	return blocks
}

func blockStyle(block string) (string, string) {
	if m := headingLinePattern.FindStringSubmatch(block); m != nil && !strings.Contains(block, "\n") {
		return "Heading" + strconv.Itoa(len(m[1])), m[2]
	}
	if m := listLinePattern.FindStringSubmatch(block); m != nil && !strings.Contains(block, "\n") {
		return "ListBullet", m[1]
	}
	return "", block
}

// writeRuns 写出文本 run，处理换行和 **粗体** / *斜体*
func writeRuns(b *bytes.Buffer, text string) {
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteString("<w:r><w:br/></w:r>")
		}
		line = strings.TrimSuffix(line, "  ")
		last := 0
		for _, m := range emphasisPattern.FindAllStringSubmatchIndex(line, -1) {
			writeRun(b, line[last:m[0]], "")
			if m[2] >= 0 {
				writeRun(b, line[m[2]:m[3]], "<w:b/>")
			} else {
				writeRun(b, line[m[4]:m[5]], "<w:i/>")
			}
			last = m[1]
		}
		writeRun(b, line[last:], "")
	}
}

func writeRun(b *bytes.Buffer, text, props string) {
	if text == "" {
		return
	}
	b.WriteString("<w:r>")
	if props != "" {
		b.WriteString("<w:rPr>" + props + "</w:rPr>")
	}
	b.WriteString(`<w:t xml:space="preserve">`)
	b.WriteString(escapeAttr(text))
	b.WriteString("</w:t></w:r>")
}

func writeDrawing(b *bytes.Buffer, img *docxImage, id int) {
	alt := escapeAttr(img.rec.Alt)
	fmt.Fprintf(b, `<w:r><w:drawing><wp:inline distT="0" distB="0" distL="0" distR="0">`+
		`<wp:extent cx="%d" cy="%d"/><wp:docPr id="%d" name="Picture %d" descr="%s"/>`+
		`<a:graphic xmlns:a="%s"><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:pic xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:nvPicPr><pic:cNvPr id="%d" name="%s"/><pic:cNvPicPr/></pic:nvPicPr>`+
		`<pic:blipFill><a:blip r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></pic:blipFill>`+
		`<pic:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="%d" cy="%d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></pic:spPr>`+
		`</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing></w:r>`,
		img.cx, img.cy, id, id, alt, drawingMLNamespace, id, escapeAttr(img.name), img.relID, img.cx, img.cy)
}

// imageExtent 图片尺寸（EMU），优先使用声明的宽高，其次读取图片头
func imageExtent(rec *placeholder.AssetRecord) (int64, int64) {
	w, _ := strconv.Atoi(rec.Width)
	h, _ := strconv.Atoi(rec.Height)
	if w <= 0 || h <= 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(rec.Data)); err == nil {
			w, h = cfg.Width, cfg.Height
		}
	}
	if w <= 0 || h <= 0 {
		w, h = defaultImageWidth, defaultImageHeight
	}
	cx, cy := int64(w)*emuPerPixel, int64(h)*emuPerPixel
	if cx > maxImageWidthEMU {
		cy = cy * maxImageWidthEMU / cx
		cx = maxImageWidthEMU
	}
	return cx, cy
}

func mediaExt(rec *placeholder.AssetRecord) string {
	if rec == nil {
		return ".bin"
	}
	if ext := path.Ext(rec.Src); ext != "" && !strings.Contains(ext, "?") && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	if rec.MediaType != "" {
		switch rec.MediaType {
		case "image/jpeg":
			return ".jpeg"
		case "image/png":
			return ".png"
		case "image/gif":
			return ".gif"
		}
		if exts, _ := mime.ExtensionsByType(rec.MediaType); len(exts) > 0 {
			return exts[0]
		}
	}
	return ".bin"
}

func docxContentTypes(images []*docxImage) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
`)
	seen := map[string]bool{"rels": true, "xml": true}
	for _, img := range images {
		ext := strings.TrimPrefix(path.Ext(img.name), ".")
		if seen[ext] {
			continue
		}
		seen[ext] = true
		ct := mime.TypeByExtension("." + ext)
		if ct == "" {
			ct = "application/octet-stream"
		}
		fmt.Fprintf(&b, "<Default Extension=\"%s\" ContentType=\"%s\"/>\n", ext, escapeAttr(ct))
	}
	b.WriteString(`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>
</Types>`)
	return b.String()
}

func docxDocumentRels(images []*docxImage) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="` + RelationshipsNamespace + `">
<Relationship Id="rIdStyles" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>
`)
	for _, img := range images {
		fmt.Fprintf(&b, "<Relationship Id=\"%s\" Type=\"%s\" Target=\"media/%s\"/>\n", img.relID, imageRelType, escapeAttr(img.name))
	}
	b.WriteString("</Relationships>")
	return b.String()
}

const docxRootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

const docxDocumentHead = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="` + WordprocessingMLNamespace + `" xmlns:r="` + officeRelNamespace + `" xmlns:wp="` + wpNamespace + `">
<w:body>
`

const docxDocumentTail = `<w:sectPr><w:pgSz w:w="11906" w:h="16838"/><w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440"/></w:sectPr>
</w:body>
</w:document>`

var docxStyles = func() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="` + WordprocessingMLNamespace + `">
<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/></w:style>
`)
	sizes := []int{40, 32, 28, 26, 24, 22}
	for i, sz := range sizes {
		fmt.Fprintf(&b, `<w:style w:type="paragraph" w:styleId="Heading%d"><w:name w:val="heading %d"/><w:basedOn w:val="Normal"/><w:pPr><w:keepNext/><w:outlineLvl w:val="%d"/></w:pPr><w:rPr><w:b/><w:sz w:val="%d"/></w:rPr></w:style>`+"\n", i+1, i+1, i, sz)
	}
	b.WriteString(`<w:style w:type="paragraph" w:styleId="ListBullet"><w:name w:val="List Bullet"/><w:basedOn w:val="Normal"/><w:pPr><w:ind w:left="720" w:hanging="360"/></w:pPr></w:style>
</w:styles>`)
	return b.String()
}()

func escapeAttr(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
