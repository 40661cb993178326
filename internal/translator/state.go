package translator

import (
	"fmt"

	"github.com/nerdneilsfield/go-book-translator/internal/progress"
)

// JobState 任务运行时状态的快照
type JobState struct {
	Cancelled bool
	Draining  bool
	Aborted   bool
	Remaining int            // 尚未调度的单元
	Pending   map[string]int // 文档 -> 未到达终态的单元数
	Succeeded int
	Failed    int
	Skipped   int
}

// DocumentResult 单个文档的结果
type DocumentResult struct {
	Name       string
	Output     string
	Status     progress.DocumentStatus
	Units      int
	Translated int
	Fallback   int
	Skipped    int
	Err        error
}

// Summary 任务结束时的汇总
type Summary struct {
	Succeeded   int
	Failed      int
	Skipped     int
	Unfinished  int      // 中止或取消时未到达终态的单元
	Fallback    []string // 使用原文的单元
	Diagnostics []string
	Aborted     bool
	Cancelled   bool
	Outputs     []string
	Documents   []DocumentResult
}

// RecordFailure 记录一个未能进入任务的文档，例如结构损坏的容器
func (s *Summary) RecordFailure(name string, err error) {
	s.Documents = append(s.Documents, DocumentResult{Name: name, Status: progress.DocumentFailed, Err: err})
	s.Diagnostics = append(s.Diagnostics, fmt.Sprintf("%s: %v", name, err))
}
