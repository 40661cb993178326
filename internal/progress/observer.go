// Package progress 定义任务进度通知并提供内存中的进度跟踪器。
package progress

import (
	"sync"
	"time"
)

// UnitStatus 单元的终态或当前状态
type UnitStatus string

const (
	UnitRunning    UnitStatus = "running"
	UnitTranslated UnitStatus = "translated"
	UnitPartial    UnitStatus = "partial"  // 部分分块翻译成功
	UnitFallback   UnitStatus = "fallback" // 使用原文
	UnitSkipped    UnitStatus = "skipped"  // 优雅结束或已屏蔽
	UnitResumed    UnitStatus = "resumed"  // 上次运行已完成
	UnitCancelled  UnitStatus = "cancelled"
)

// Terminal 状态是否为终态
func (s UnitStatus) Terminal() bool {
	return s != UnitRunning && s != ""
}

// DocumentStatus 文档状态
type DocumentStatus string

const (
	DocumentRunning   DocumentStatus = "running"
	DocumentCompleted DocumentStatus = "completed"
	DocumentFailed    DocumentStatus = "failed"
	DocumentAborted   DocumentStatus = "aborted"
	DocumentCancelled DocumentStatus = "cancelled"
)

// UnitEvent 单元通知
type UnitEvent struct {
	Document    string
	UnitID      string
	Status      UnitStatus
	ChunksTotal int
	ChunksDone  int
	Chars       int
	Warning     string
	Err         error
	Time        time.Time
}

// DocumentEvent 文档通知
type DocumentEvent struct {
	Document string
	Units    int
	Status   DocumentStatus
	Output   string
	Err      error
	Time     time.Time
}

// Observer 接收进度通知，实现需要可并发调用
type Observer interface {
	OnUnit(UnitEvent)
	OnDocument(DocumentEvent)
}

// Nop 忽略所有通知
type Nop struct{}

func (Nop) OnUnit(UnitEvent)         {}
func (Nop) OnDocument(DocumentEvent) {}

type multi []Observer

// Multi 把通知分发给多个观察者
func Multi(observers ...Observer) Observer {
	var list multi
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

func (m multi) OnUnit(e UnitEvent) {
	for _, o := range m {
		o.OnUnit(e)
	}
}

func (m multi) OnDocument(e DocumentEvent) {
	for _, o := range m {
		o.OnDocument(e)
	}
}

// Funcs 用函数实现 Observer，未设置的回调被忽略
type Funcs struct {
	Unit     func(UnitEvent)
	Document func(DocumentEvent)
	mu       sync.Mutex
}

func (f *Funcs) OnUnit(e UnitEvent) {
	if f.Unit == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unit(e)
}

func (f *Funcs) OnDocument(e DocumentEvent) {
	if f.Document == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Document(e)
}
