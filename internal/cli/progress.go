package cli

import (
	"fmt"
	"sync"

	"github.com/mattn/go-runewidth"
	"github.com/nerdneilsfield/go-book-translator/internal/progress"
	"github.com/pterm/pterm"
)

const titleWidth = 48

// progressView 用 pterm 进度条显示单元进度，可并发调用
type progressView struct {
	mu      sync.Mutex
	bar     *pterm.ProgressbarPrinter
	total   int
	done    int
	stopped bool
}

func newProgressView() *progressView {
	return &progressView{}
}

func (v *progressView) OnDocument(e progress.DocumentEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return
	}
	switch e.Status {
	case progress.DocumentRunning:
		v.total += e.Units
		if v.bar == nil {
			bar, err := pterm.DefaultProgressbar.
				WithTotal(max(v.total, 1)).
				WithTitle(shortTitle("translating")).
				WithRemoveWhenDone(false).
				Start()
			if err != nil {
				return
			}
			v.bar = bar
			return
		}
		v.bar.Total = v.total
	case progress.DocumentCompleted:
		if v.bar != nil {
			pterm.Success.Printfln("%s -> %s", e.Document, e.Output)
		}
	case progress.DocumentFailed:
		if e.Err != nil {
			pterm.Error.Printfln("%s: %v", e.Document, e.Err)
		}
	}
}

func (v *progressView) OnUnit(e progress.UnitEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bar == nil || v.stopped {
		return
	}
	if !e.Status.Terminal() {
		v.bar.UpdateTitle(shortTitle(e.UnitID))
		return
	}
	v.done++
	v.bar.UpdateTitle(shortTitle(fmt.Sprintf("%s %s", e.Status, e.UnitID)))
	v.bar.Increment()
}

// Stop 停止进度条
func (v *progressView) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return
	}
	v.stopped = true
	if v.bar != nil {
		_, _ = v.bar.Stop()
	}
}

// shortTitle 按显示宽度截断，保证进度条不换行
func shortTitle(s string) string {
	return runewidth.FillRight(runewidth.Truncate(s, titleWidth, "..."), titleWidth)
}
