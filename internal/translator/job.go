package translator

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerdneilsfield/go-book-translator/internal/container"
	"github.com/nerdneilsfield/go-book-translator/internal/jobstore"
	"github.com/nerdneilsfield/go-book-translator/internal/markup"
	"github.com/nerdneilsfield/go-book-translator/internal/progress"
	"github.com/nerdneilsfield/go-book-translator/internal/unit"
	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
	"go.uber.org/zap"
)

// job 一个文档在任务中的运行状态，只在协调协程中修改
type job struct {
	doc     *Document
	id      string
	inputs  []unit.Input
	parts   map[string]*container.Part
	results map[string]unit.Result
	resumed map[string]bool
	saved   *jobstore.State

	finished bool
	report   DocumentResult
}

// prepare 把文档拆成单元，并读取上次运行的进度
func (c *Coordinator) prepare(ctx context.Context, d *Document) (*job, error) {
	j := &job{
		doc:     d,
		id:      jobstore.JobID(d.Name, c.opts.TargetLang),
		parts:   make(map[string]*container.Part),
		results: make(map[string]unit.Result),
		resumed: make(map[string]bool),
	}
	switch {
	case d.Container != nil:
		for _, p := range d.Container.TranslatableParts() {
			j.parts[p.Path] = p
			j.inputs = append(j.inputs, unit.Input{
				ID:       p.Path,
				Content:  string(p.Raw),
				Markup:   markup.XHTML{},
				Resolver: d.Container.Resolver(p.Path),
			})
		}
	case d.Flat != nil:
		j.inputs = append(j.inputs, unit.Input{
			ID:       d.Flat.Name,
			Content:  d.Flat.Content,
			Assets:   d.Flat.Assets,
			Markup:   d.Flat.Markup,
			Resolver: d.Flat.Resolver,
		})
	default:
		return nil, fmt.Errorf("document %q has no content", d.Name)
	}

	if c.store == nil {
		return j, nil
	}
	if c.opts.Resume {
		state, err := c.store.Load(ctx, j.id)
		switch {
		case err == nil:
			j.saved = state
			c.logger.Info("resuming job",
				zap.String("document", d.Name),
				zap.Int("processed", len(state.Processed)),
				zap.Int("blocked", len(state.Blocked)))
		case errors.Is(err, jobstore.ErrNotFound):
		default:
			return nil, fmt.Errorf("loading job state for %s: %w", d.Name, err)
		}
	} else if err := c.store.Delete(ctx, j.id); err != nil && !errors.Is(err, jobstore.ErrNotFound) {
		return nil, fmt.Errorf("resetting job state for %s: %w", d.Name, err)
	}
	if err := c.store.Begin(ctx, j.id, d.Name); err != nil {
		return nil, fmt.Errorf("recording job %s: %w", d.Name, err)
	}
	if err := c.store.SetPaused(ctx, j.id, false); err != nil {
		return nil, fmt.Errorf("recording job %s: %w", d.Name, err)
	}
	return j, nil
}

// restored 根据上次运行的进度直接给出结果：已屏蔽的单元使用原文，
// 已处理的容器部件复用保存的内容
func (j *job) restored(in unit.Input) (unit.Result, bool) {
	if j.saved.IsBlocked(in.ID) {
		r := unit.Fallback(in, "blocked", nil)
		r.Skipped = true
		return r, true
	}
	if j.doc.Container == nil || !j.saved.IsProcessed(in.ID) {
		return unit.Result{}, false
	}
	saved := j.saved.Processed[in.ID]
	j.resumed[in.ID] = true
	if !saved.Translated {
		return unit.Fallback(in, "", nil), true
	}
	return unit.Result{ID: in.ID, Success: true, Content: string(saved.Content)}, true
}

func (j *job) label(id string) string {
	if j.doc.Container == nil || id == "" {
		return j.doc.Name
	}
	return j.doc.Name + ":" + id
}

// tally 统计文档的单元结果
func (j *job) tally(status progress.DocumentStatus, err error) DocumentResult {
	res := DocumentResult{
		Name:   j.doc.Name,
		Output: j.doc.Output,
		Status: status,
		Units:  len(j.inputs),
		Err:    err,
	}
	for _, r := range j.results {
		switch {
		case r.Skipped || r.Cancelled:
			res.Skipped++
		case r.UsedFallback:
			res.Fallback++
		case r.Success:
			res.Translated++
		}
	}
	return res
}

// persist 记录完整翻译的容器部件。扁平文档的占位符每次运行都不同，不做记录。
func (c *Coordinator) persist(j *job, r unit.Result, status progress.UnitStatus) {
	if c.store == nil || j.doc.Container == nil {
		return
	}
	// 硬取消与中止后的记录要保证写完，不使用任务上下文
	ctx := context.Background()
	log := c.logger.With(zap.String("document", j.doc.Name), zap.String("unitID", r.ID))

	switch status {
	case progress.UnitTranslated, progress.UnitPartial:
		// 优雅结束或后续分块失败时只有部分译文，留给下次重新处理
		if r.ChunksDone < r.ChunksTotal {
			log.Debug("unit only partly translated, not recorded",
				zap.Int("chunksDone", r.ChunksDone), zap.Int("chunksTotal", r.ChunksTotal))
			return
		}
		u := jobstore.Unit{ID: r.ID, Translated: true, Title: markup.Title(r.Content), Content: []byte(r.Content)}
		if err := c.store.MarkProcessed(ctx, j.id, u); err != nil {
			log.Warn("recording unit failed", zap.Error(err))
		}
	case progress.UnitFallback:
		if transform.IsContentRejected(r.Err) {
			if err := c.store.Block(ctx, j.id, r.ID); err != nil {
				log.Warn("blocking unit failed", zap.Error(err))
			}
		}
	}
}

// finishStore 文档写出后删除记录，否则标记为暂停以便下次继续
func (c *Coordinator) finishStore(j *job) {
	if c.store == nil {
		return
	}
	ctx := context.Background()
	complete := j.finished && j.report.Status == progress.DocumentCompleted &&
		!c.draining.Load() && !c.cancelled.Load() && !c.aborted.Load()
	if complete {
		if err := c.store.Delete(ctx, j.id); err != nil && !errors.Is(err, jobstore.ErrNotFound) {
			c.logger.Warn("deleting job state failed", zap.String("document", j.doc.Name), zap.Error(err))
		}
		return
	}
	if err := c.store.SetPaused(ctx, j.id, true); err != nil {
		c.logger.Warn("pausing job failed", zap.String("document", j.doc.Name), zap.Error(err))
	}
}
