package progress

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tracker 进度跟踪器，按文档汇总单元状态
type Tracker struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *zap.Logger
	now      func() time.Time
}

// Session 一个文档的进度
type Session struct {
	Document       string
	Status         DocumentStatus
	Output         string
	StartTime      time.Time
	LastUpdateTime time.Time

	TotalUnits int
	Units      map[string]UnitStatus
	Chars      int
	Errors     []ErrorInfo
}

// ErrorInfo 错误信息
type ErrorInfo struct {
	Time   time.Time
	UnitID string
	Error  string
}

// Info 进度快照
type Info struct {
	Document            string
	Status              DocumentStatus
	TotalUnits          int
	Done                int
	Translated          int
	Fallback            int
	Skipped             int
	Chars               int
	Errors              int
	Progress            float64
	StartTime           time.Time
	EstimatedCompletion time.Time
}

// NewTracker 创建进度跟踪器
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		sessions: make(map[string]*Session),
		logger:   logger,
		now:      time.Now,
	}
}

// OnDocument 开始或结束一个文档
func (t *Tracker) OnDocument(e DocumentEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[e.Document]
	if !ok {
		s = &Session{
			Document:  e.Document,
			StartTime: t.now(),
			Units:     make(map[string]UnitStatus),
		}
		t.sessions[e.Document] = s
	}
	if e.Units > 0 {
		s.TotalUnits = e.Units
	}
	s.Status = e.Status
	if e.Output != "" {
		s.Output = e.Output
	}
	if e.Err != nil {
		s.Errors = append(s.Errors, ErrorInfo{Time: t.now(), Error: e.Err.Error()})
	}
	s.LastUpdateTime = t.now()

	t.logger.Debug("document update",
		zap.String("document", e.Document),
		zap.String("status", string(e.Status)),
		zap.Int("units", s.TotalUnits))
}

// OnUnit 更新单元状态
func (t *Tracker) OnUnit(e UnitEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[e.Document]
	if !ok {
		return
	}
	prev := s.Units[e.UnitID]
	s.Units[e.UnitID] = e.Status
	if e.Status.Terminal() && !prev.Terminal() {
		s.Chars += e.Chars
	}
	if e.Err != nil {
		s.Errors = append(s.Errors, ErrorInfo{Time: t.now(), UnitID: e.UnitID, Error: e.Err.Error()})
	}
	s.LastUpdateTime = t.now()

	t.logger.Debug("unit update",
		zap.String("document", e.Document),
		zap.String("unitID", e.UnitID),
		zap.String("status", string(e.Status)),
		zap.Int("chunksDone", e.ChunksDone),
		zap.Int("chunksTotal", e.ChunksTotal))
}

// GetProgress 获取文档进度，不存在时返回 nil
func (t *Tracker) GetProgress(document string) *Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[document]
	if !ok {
		return nil
	}

	info := &Info{
		Document:   s.Document,
		Status:     s.Status,
		TotalUnits: s.TotalUnits,
		Chars:      s.Chars,
		Errors:     len(s.Errors),
		StartTime:  s.StartTime,
	}
	for _, st := range s.Units {
		if !st.Terminal() {
			continue
		}
		info.Done++
		switch st {
		case UnitTranslated, UnitPartial, UnitResumed:
			info.Translated++
		case UnitFallback:
			info.Fallback++
		case UnitSkipped, UnitCancelled:
			info.Skipped++
		}
	}
	if s.TotalUnits > 0 {
		info.Progress = float64(info.Done) / float64(s.TotalUnits) * 100
	}

	// 按已完成单元的平均耗时估算
	if info.Done > 0 && info.Done < s.TotalUnits {
		elapsed := t.now().Sub(s.StartTime)
		avg := elapsed / time.Duration(info.Done)
		info.EstimatedCompletion = t.now().Add(avg * time.Duration(s.TotalUnits-info.Done))
	}
	return info
}

// Documents 已跟踪的文档，按名称排序
func (t *Tracker) Documents() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.sessions))
	for name := range t.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
