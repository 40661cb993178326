package translator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerdneilsfield/go-book-translator/internal/container"
	"github.com/nerdneilsfield/go-book-translator/internal/document"
	"github.com/nerdneilsfield/go-book-translator/internal/markup"
	"github.com/nerdneilsfield/go-book-translator/internal/progress"
	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
	"go.uber.org/zap"
)

// build 文档的全部单元到达终态后重建并写出
func (c *Coordinator) build(ctx context.Context, j *job, summary *Summary) {
	log := c.logger.With(zap.String("document", j.doc.Name))
	var (
		data     []byte
		warnings []string
		err      error
	)
	if j.doc.Container != nil {
		data, warnings, err = c.buildContainer(j)
	} else {
		data, err = c.buildFlat(j)
	}

	var output string
	if err == nil {
		output, err = c.sink.Write(ctx, j.doc.Output, data)
	}
	for _, w := range warnings {
		summary.Diagnostics = append(summary.Diagnostics, fmt.Sprintf("%s: %s", j.doc.Name, w))
	}

	j.finished = true
	status := progress.DocumentCompleted
	if err != nil {
		status = progress.DocumentFailed
		log.Error("building document failed", zap.Error(err))
		summary.Diagnostics = append(summary.Diagnostics, fmt.Sprintf("%s: %v", j.doc.Name, err))
	} else {
		log.Info("document written", zap.String("output", output), zap.Int("bytes", len(data)))
		summary.Outputs = append(summary.Outputs, output)
	}
	j.report = j.tally(status, err)
	if output != "" {
		j.report.Output = output
	}
	c.observer.OnDocument(progress.DocumentEvent{
		Document: j.doc.Name,
		Units:    len(j.inputs),
		Status:   status,
		Output:   output,
		Err:      err,
		Time:     time.Now(),
	})
}

// buildContainer 用各部件的结果重建容器。回退或跳过的部件保持原样。
func (c *Coordinator) buildContainer(j *job) ([]byte, []string, error) {
	outcomes := make(map[string]container.Outcome, len(j.results))
	for id, r := range j.results {
		translated := r.Success && !r.UsedFallback && !r.Skipped && !r.Cancelled
		o := container.Outcome{Translated: translated}
		if translated {
			o.Content = []byte(r.Content)
			o.Title = markup.Title(r.Content)
			if j.resumed[id] && j.saved.Processed[id].Title != "" {
				o.Title = j.saved.Processed[id].Title
			}
		}
		outcomes[id] = o
	}
	rb := container.NewRebuilder(c.opts.Suffix, c.logger)
	data, report, err := rb.Rebuild(j.doc.Container, outcomes)
	if err != nil {
		var se *container.StructuralError
		if errors.As(err, &se) {
			return nil, nil, fmt.Errorf("container is structurally invalid: %w", err)
		}
		return nil, nil, err
	}
	return data, report.Warnings, nil
}

// buildFlat 渲染扁平文档。回退时按原文渲染，资源重新提取。
func (c *Coordinator) buildFlat(j *job) ([]byte, error) {
	flat := j.doc.Flat
	r := j.results[flat.Name]

	out := &document.Output{
		Title:    flat.Title,
		Language: c.opts.TargetLang,
		Text:     r.Text,
		Assets:   r.Assets,
	}
	if r.UsedFallback || !r.Success {
		text, assets, err := originalText(flat)
		if err != nil {
			c.logger.Warn("converting original text failed, writing raw content",
				zap.String("document", j.doc.Name), zap.Error(err))
			text, assets = flat.Content, flat.Assets
		}
		out.Text, out.Assets = text, assets
		out.Language = flat.Language
	} else if title := markup.Title(r.Content); title != "" && flat.Format == document.HTML {
		out.Title = title
	}

	w, err := document.WriterFor(j.doc.Format, c.logger)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := w.Write(&buf, out); err != nil {
		return nil, fmt.Errorf("writing %s: %w", j.doc.Format, err)
	}
	return buf.Bytes(), nil
}

// originalText 把未翻译的原文转换成与译文相同的行级标记
func originalText(flat *document.Flat) (string, placeholder.AssetMap, error) {
	codec := placeholder.NewCodec(placeholder.WithResolver(flat.Resolver))
	plain, assets := codec.Extract(flat.Content)
	assets.Merge(flat.Assets)
	mt := flat.Markup
	if mt == nil {
		mt = markup.Identity{}
	}
	text, _, err := mt.ToText(plain)
	if err != nil {
		return "", nil, err
	}
	return text, assets, nil
}
