package document

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/Kunde21/markdownfmt/v3"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-book-translator/internal/markup"
	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
)

// Output 待写出的翻译结果
type Output struct {
	Title    string
	Language string
	Text     string               // 行级标记，包含占位符
	Assets   placeholder.AssetMap
}

// restore 按给定渲染方式恢复占位符
func (o *Output) restore(render placeholder.Renderer) (string, placeholder.Report) {
	codec := placeholder.NewCodec()
	codec.Adopt(o.Assets)
	return codec.RestoreWith(o.Text, o.Assets, render)
}

// Writer 输出格式
type Writer interface {
	Format() Format
	Write(w io.Writer, out *Output) error
}

// WriterFor 返回格式对应的写出器
func WriterFor(f Format, logger *zap.Logger) (Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch f {
	case PlainText:
		return &textWriter{logger: logger}, nil
	case Markdown:
		return &markdownWriter{logger: logger}, nil
	case HTML:
		return &htmlWriter{logger: logger}, nil
	case WordDoc:
		return &docxWriter{logger: logger}, nil
	case Container:
		return &epubWriter{logger: logger}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

func logReport(logger *zap.Logger, report placeholder.Report) {
	if !report.Empty() {
		logger.Warn("placeholder restore", zap.String("report", report.String()))
	}
}

type textWriter struct{ logger *zap.Logger }

func (w *textWriter) Format() Format { return PlainText }

func (w *textWriter) Write(out io.Writer, o *Output) error {
	text, report := o.restore(placeholder.RenderText)
	logReport(w.logger, report)
	_, err := io.WriteString(out, text)
	return err
}

type markdownWriter struct{ logger *zap.Logger }

func (w *markdownWriter) Format() Format { return Markdown }

func (w *markdownWriter) Write(out io.Writer, o *Output) error {
	text, report := o.restore(placeholder.RenderMarkdown)
	logReport(w.logger, report)

	formatted, err := markdownfmt.Process("", []byte(text))
	if err != nil {
		// 格式化失败不影响输出
		w.logger.Warn("markdown formatting failed", zap.Error(err))
		formatted = []byte(text)
	}
	_, err = out.Write(formatted)
	return err
}

type htmlWriter struct{ logger *zap.Logger }

func (w *htmlWriter) Format() Format { return HTML }

func (w *htmlWriter) Write(out io.Writer, o *Output) error {
	text, report := o.restore(inlineImage)
	logReport(w.logger, report)

	body, err := markup.TextToHTML(text)
	if err != nil {
		return err
	}
	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n<html")
	if o.Language != "" {
		fmt.Fprintf(&b, ` lang="%s"`, html.EscapeString(o.Language))
	}
	b.WriteString(">\n<head>\n<meta charset=\"utf-8\"/>\n")
	fmt.Fprintf(&b, "<title>%s</title>\n</head>\n<body>\n", html.EscapeString(o.Title))
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	_, err = out.Write(b.Bytes())
	return err
}

// inlineImage 有二进制内容但没有地址的资源（如 DOCX 图片）写成 data URI
func inlineImage(rec *placeholder.AssetRecord) string {
	if rec.Src != "" && rec.Kind != placeholder.KindEmbedded {
		return placeholder.RenderMarkup(rec)
	}
	if len(rec.Data) == 0 {
		return placeholder.RenderText(rec)
	}
	mt := rec.MediaType
	if mt == "" {
		mt = "application/octet-stream"
	}
	c := *rec
	c.Original = ""
	c.Src = "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(rec.Data)
	return placeholder.RenderMarkup(&c)
}

// splitChapters 按一级标题拆分行级文本，围栏代码块中的内容不参与判断
func splitChapters(text string) []chapterText {
	var chapters []chapterText
	var cur chapterText
	inFence := false
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(line, "# ") {
			if !cur.blank() {
				chapters = append(chapters, cur)
			}
			cur = chapterText{title: strings.TrimSpace(strings.TrimPrefix(line, "# "))}
		}
		cur.lines = append(cur.lines, line)
	}
	if !cur.blank() || len(chapters) == 0 {
		chapters = append(chapters, cur)
	}
	return chapters
}

type chapterText struct {
	title string
	lines []string
}

func (c chapterText) body() string { return strings.Join(c.lines, "") }

func (c chapterText) blank() bool { return strings.TrimSpace(c.body()) == "" }
