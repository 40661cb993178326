// Package jobstore 持久化任务进度：已处理的单元（含内容）、被屏蔽的单元和暂停标志，
// 使重启后可以跳过已完成的单元。
package jobstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound 任务记录不存在
var ErrNotFound = errors.New("job not found")

// Unit 已处理的单元
type Unit struct {
	ID         string    `json:"id"`
	Translated bool      `json:"translated"`
	Title      string    `json:"title,omitempty"`
	Content    []byte    `json:"content,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// State 一个任务的持久化状态
type State struct {
	JobID     string           `json:"job_id"`
	Name      string           `json:"name"`
	Processed map[string]*Unit `json:"processed"`
	Blocked   map[string]bool  `json:"blocked"`
	Paused    bool             `json:"paused"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewState 创建空状态
func NewState(jobID, name string) *State {
	return &State{
		JobID:     jobID,
		Name:      name,
		Processed: make(map[string]*Unit),
		Blocked:   make(map[string]bool),
	}
}

// IsProcessed 单元是否已处理
func (s *State) IsProcessed(unitID string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Processed[unitID]
	return ok
}

// IsBlocked 单元是否被屏蔽（总是使用原文）
func (s *State) IsBlocked(unitID string) bool {
	return s != nil && s.Blocked[unitID]
}

// Summary 任务摘要
type Summary struct {
	JobID     string
	Name      string
	Processed int
	Blocked   int
	Paused    bool
	UpdatedAt time.Time
}

// Store 任务状态存储
type Store interface {
	// Load 读取任务状态，不存在时返回 ErrNotFound
	Load(ctx context.Context, jobID string) (*State, error)
	// Begin 确保任务存在并记录名称
	Begin(ctx context.Context, jobID, name string) error
	// MarkProcessed 记录一个已处理的单元
	MarkProcessed(ctx context.Context, jobID string, unit Unit) error
	// Block 屏蔽一个单元
	Block(ctx context.Context, jobID, unitID string) error
	// SetPaused 设置暂停标志
	SetPaused(ctx context.Context, jobID string, paused bool) error
	// List 列出所有任务
	List(ctx context.Context) ([]Summary, error)
	// Delete 删除任务
	Delete(ctx context.Context, jobID string) error
	Close() error
}

// JobID 根据输入位置和目标语言生成稳定的任务 ID
func JobID(input, targetLang string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(input+"\x00"+targetLang)).String()
}

func sortSummaries(list []Summary) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].JobID < list[j].JobID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}
