// Package translator 调度一次翻译任务：把文档拆成单元并发处理，
// 在容器的所有部件到达终态后重建容器，并写出结果。
package translator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nerdneilsfield/go-book-translator/internal/jobstore"
	"github.com/nerdneilsfield/go-book-translator/internal/progress"
	"github.com/nerdneilsfield/go-book-translator/internal/storage"
	"github.com/nerdneilsfield/go-book-translator/internal/unit"
	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrAborted 任务因永久错误中止
var ErrAborted = errors.New("job aborted")

// ErrCancelled 任务被硬取消
var ErrCancelled = errors.New("job cancelled")

// Coordinator 任务协调器。一个协调器只运行一次任务。
type Coordinator struct {
	opts      Options
	processor *unit.Processor
	sink      storage.Sink
	store     jobstore.Store
	observer  progress.Observer
	logger    *zap.Logger

	draining  atomic.Bool
	cancelled atomic.Bool
	aborted   atomic.Bool

	mu     sync.Mutex
	state  JobState
	cancel context.CancelFunc
}

// Option 协调器选项
type Option func(*Coordinator)

// WithStore 使用任务存储记录进度
func WithStore(store jobstore.Store) Option {
	return func(c *Coordinator) { c.store = store }
}

// WithObserver 设置进度观察者
func WithObserver(o progress.Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator 创建协调器
func NewCoordinator(client unit.Transformer, sink storage.Sink, opts Options, options ...Option) *Coordinator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	c := &Coordinator{
		opts:     opts,
		sink:     sink,
		observer: progress.Nop{},
		logger:   zap.NewNop(),
		state:    JobState{Pending: make(map[string]int)},
	}
	for _, o := range options {
		o(c)
	}
	c.processor = unit.NewProcessor(client, opts.Unit, c.logger)
	return c
}

// Cancel 硬取消：停止调度，中断进行中的单元，不再重建或写出任何文档
func (c *Coordinator) Cancel() {
	if !c.markCancelled() {
		return
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// markCancelled 记录硬取消，首次调用时返回 true
func (c *Coordinator) markCancelled() bool {
	if c.cancelled.Swap(true) {
		return false
	}
	c.logger.Warn("cancelling job")
	c.mu.Lock()
	c.state.Cancelled = true
	c.mu.Unlock()
	return true
}

// FinishGracefully 优雅结束：未开始的单元使用原文，进行中的单元不再调度新分块，
// 已完成的文档照常写出
func (c *Coordinator) FinishGracefully() {
	if c.draining.Swap(true) {
		return
	}
	c.logger.Info("finishing gracefully")
	c.mu.Lock()
	c.state.Draining = true
	c.mu.Unlock()
}

// State 返回当前状态快照
func (c *Coordinator) State() JobState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Pending = make(map[string]int, len(c.state.Pending))
	for k, v := range c.state.Pending {
		s.Pending[k] = v
	}
	return s
}

// abort 永久错误：停止调度并中断其它单元
func (c *Coordinator) abort(err error) {
	if c.aborted.Swap(true) {
		return
	}
	c.logger.Error("permanent error, aborting job", zap.Error(err))
	c.mu.Lock()
	c.state.Aborted = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// task 一个待调度的单元
type task struct {
	doc   *job
	input unit.Input
}

// done 单元处理完毕
type done struct {
	doc    *job
	result unit.Result
}

// Run 运行任务，阻塞直到所有单元到达终态或任务被取消/中止
func (c *Coordinator) Run(ctx context.Context, docs []*Document) (*Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	if c.cancelled.Load() {
		cancel()
	}

	jobs := make([]*job, 0, len(docs))
	var tasks []task
	var early []done
	for _, d := range docs {
		j, err := c.prepare(ctx, d)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
		for _, in := range j.inputs {
			if r, ok := j.restored(in); ok {
				early = append(early, done{doc: j, result: r})
				continue
			}
			tasks = append(tasks, task{doc: j, input: in})
		}
		c.observer.OnDocument(progress.DocumentEvent{
			Document: j.doc.Name, Units: len(j.inputs), Status: progress.DocumentRunning, Time: time.Now(),
		})
	}

	c.mu.Lock()
	c.state.Remaining = len(tasks)
	for _, j := range jobs {
		c.state.Pending[j.doc.Name] = len(j.inputs)
	}
	c.mu.Unlock()

	c.logger.Info("starting job",
		zap.Int("documents", len(jobs)),
		zap.Int("units", len(tasks)+len(early)),
		zap.Int("resumed", len(early)),
		zap.Int("concurrency", c.opts.Concurrency))

	results := make(chan done, len(tasks)+len(early))
	for _, r := range early {
		results <- r
	}

	var workers sync.WaitGroup
	go func() {
		c.dispatch(ctx, tasks, results, &workers)
		workers.Wait()
		close(results)
	}()

	summary := &Summary{}
	for _, j := range jobs {
		if len(j.inputs) == 0 && !c.cancelled.Load() {
			c.build(ctx, j, summary)
		}
	}
	for d := range results {
		c.collect(ctx, d, summary)
	}
	// 调用方取消上下文等同于硬取消
	if ctx.Err() != nil && !c.aborted.Load() {
		c.markCancelled()
	}

	for _, j := range jobs {
		c.finishDocument(j, summary)
	}

	summary.Cancelled = c.cancelled.Load()
	summary.Aborted = c.aborted.Load()
	switch {
	case summary.Cancelled:
		return summary, ErrCancelled
	case summary.Aborted:
		return summary, ErrAborted
	}
	return summary, nil
}

// dispatch 按顺序调度单元，同时运行的单元数受信号量限制
func (c *Coordinator) dispatch(ctx context.Context, tasks []task, results chan<- done, workers *sync.WaitGroup) {
	sem := semaphore.NewWeighted(int64(c.opts.Concurrency))
	for _, t := range tasks {
		if c.draining.Load() {
			c.taken()
			results <- done{doc: t.doc, result: unit.Skip(t.input)}
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		// 中止发生在释放信号量之前，获取后再检查一次
		if ctx.Err() != nil {
			sem.Release(1)
			return
		}
		if c.draining.Load() {
			sem.Release(1)
			c.taken()
			results <- done{doc: t.doc, result: unit.Skip(t.input)}
			continue
		}

		c.taken()
		workers.Add(1)
		go func(t task) {
			defer workers.Done()
			c.observer.OnUnit(progress.UnitEvent{
				Document: t.doc.doc.Name, UnitID: t.input.ID, Status: progress.UnitRunning, Time: time.Now(),
			})
			r := c.processor.Process(ctx, t.input, c.draining.Load)
			if transform.IsPermanent(r.Err) && !r.Cancelled {
				c.abort(r.Err)
			}
			results <- done{doc: t.doc, result: r}
			sem.Release(1)
		}(t)
	}
}

func (c *Coordinator) taken() {
	c.mu.Lock()
	c.state.Remaining--
	c.mu.Unlock()
}

// collect 在协调协程中处理一个终态结果，必要时触发文档重建
func (c *Coordinator) collect(ctx context.Context, d done, summary *Summary) {
	r := d.result
	j := d.doc
	j.results[r.ID] = r
	label := j.label(r.ID)

	status := unitStatus(r, j.resumed[r.ID])
	switch status {
	case progress.UnitTranslated, progress.UnitPartial, progress.UnitResumed:
		if r.UsedFallback {
			summary.Failed++
			summary.Fallback = append(summary.Fallback, label)
		} else {
			summary.Succeeded++
		}
	case progress.UnitFallback:
		summary.Failed++
		summary.Fallback = append(summary.Fallback, label)
	case progress.UnitSkipped:
		summary.Skipped++
		summary.Fallback = append(summary.Fallback, label)
	case progress.UnitCancelled:
		summary.Unfinished++
	}
	if r.Warning != "" && status != progress.UnitSkipped && status != progress.UnitCancelled {
		summary.Diagnostics = append(summary.Diagnostics, fmt.Sprintf("%s: %s", label, r.Warning))
	}

	c.mu.Lock()
	c.state.Pending[j.doc.Name]--
	pending := c.state.Pending[j.doc.Name]
	c.state.Succeeded = summary.Succeeded
	c.state.Failed = summary.Failed
	c.state.Skipped = summary.Skipped
	c.mu.Unlock()

	c.observer.OnUnit(progress.UnitEvent{
		Document:    j.doc.Name,
		UnitID:      r.ID,
		Status:      status,
		ChunksTotal: r.ChunksTotal,
		ChunksDone:  r.ChunksDone,
		Chars:       utf8.RuneCountInString(r.Content),
		Warning:     r.Warning,
		Err:         r.Err,
		Time:        time.Now(),
	})

	if !j.resumed[r.ID] {
		c.persist(j, r, status)
	}

	if pending == 0 && ctx.Err() == nil && !c.cancelled.Load() && !c.aborted.Load() {
		c.build(ctx, j, summary)
	}
}

func unitStatus(r unit.Result, resumed bool) progress.UnitStatus {
	switch {
	case resumed:
		return progress.UnitResumed
	case r.Cancelled:
		return progress.UnitCancelled
	case r.Skipped:
		return progress.UnitSkipped
	case r.UsedFallback:
		return progress.UnitFallback
	case r.Warning != "":
		return progress.UnitPartial
	}
	return progress.UnitTranslated
}

// finishDocument 任务结束时补齐未重建文档的结果并更新任务存储
func (c *Coordinator) finishDocument(j *job, summary *Summary) {
	if j.finished {
		summary.Documents = append(summary.Documents, j.report)
		c.finishStore(j)
		return
	}
	status := progress.DocumentFailed
	switch {
	case c.cancelled.Load():
		status = progress.DocumentCancelled
	case c.aborted.Load():
		status = progress.DocumentAborted
	}
	summary.Unfinished += len(j.inputs) - len(j.results)
	j.report = j.tally(status, nil)
	summary.Documents = append(summary.Documents, j.report)
	c.observer.OnDocument(progress.DocumentEvent{
		Document: j.doc.Name, Units: len(j.inputs), Status: status, Time: time.Now(),
	})
	c.finishStore(j)
}
