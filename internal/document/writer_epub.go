package document

import (
	"io"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-book-translator/internal/container"
	"github.com/nerdneilsfield/go-book-translator/internal/markup"
	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
)

type epubWriter struct{ logger *zap.Logger }

func (w *epubWriter) Format() Format { return Container }

// Write 把扁平文档写成 EPUB：按一级标题分章，图片写入 images/
func (w *epubWriter) Write(out io.Writer, o *Output) error {
	book := &container.Book{Title: o.Title, Language: o.Language}
	stored := make(map[string]string)

	text, report := o.restore(func(rec *placeholder.AssetRecord) string {
		c := *rec
		c.Original = ""
		if len(rec.Data) > 0 {
			href, ok := stored[rec.ID]
			if !ok {
				name := "images/" + rec.ID + mediaExt(rec)
				book.Resources = append(book.Resources, container.Resource{
					Path:      name,
					MediaType: rec.MediaType,
					Data:      rec.Data,
				})
				href = "../" + name
				stored[rec.ID] = href
			}
			c.Src = href
		}
		if c.Src == "" {
			return placeholder.RenderText(rec)
		}
		return placeholder.RenderMarkup(&c)
	})
	logReport(w.logger, report)

	for _, ch := range splitChapters(text) {
		body, err := markup.TextToHTML(ch.body())
		if err != nil {
			return err
		}
		book.Chapters = append(book.Chapters, container.Chapter{Title: ch.title, Body: body})
	}
	return container.WriteBook(out, book)
}
