package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore 每个任务一个 JSON 文件
type FileStore struct {
	basePath string
	mu       sync.Mutex
	now      func() time.Time
}

// NewFileStore 创建文件存储
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}
	return &FileStore{basePath: basePath, now: time.Now}, nil
}

func (fs *FileStore) path(jobID string) string {
	return filepath.Join(fs.basePath, jobID+".json")
}

// Load 读取任务状态
func (fs *FileStore) Load(_ context.Context, jobID string) (*State, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.load(jobID)
}

func (fs *FileStore) load(jobID string) (*State, error) {
	data, err := os.ReadFile(fs.path(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	if st.Processed == nil {
		st.Processed = make(map[string]*Unit)
	}
	if st.Blocked == nil {
		st.Blocked = make(map[string]bool)
	}
	return &st, nil
}

// save 先写临时文件再改名，中断时不会留下半个文件
func (fs *FileStore) save(st *State) error {
	st.UpdatedAt = fs.now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := fs.path(st.JobID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, fs.path(st.JobID))
}

func (fs *FileStore) update(jobID string, fn func(st *State)) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	st, err := fs.load(jobID)
	if errors.Is(err, ErrNotFound) {
		st = NewState(jobID, "")
	} else if err != nil {
		return err
	}
	fn(st)
	return fs.save(st)
}

// Begin 创建或更新任务
func (fs *FileStore) Begin(_ context.Context, jobID, name string) error {
	return fs.update(jobID, func(st *State) { st.Name = name })
}

// MarkProcessed 记录已处理的单元
func (fs *FileStore) MarkProcessed(_ context.Context, jobID string, unit Unit) error {
	return fs.update(jobID, func(st *State) {
		unit.UpdatedAt = fs.now()
		st.Processed[unit.ID] = &unit
	})
}

// Block 屏蔽单元
func (fs *FileStore) Block(_ context.Context, jobID, unitID string) error {
	return fs.update(jobID, func(st *State) { st.Blocked[unitID] = true })
}

// SetPaused 设置暂停标志
func (fs *FileStore) SetPaused(_ context.Context, jobID string, paused bool) error {
	return fs.update(jobID, func(st *State) { st.Paused = paused })
}

// List 列出所有任务
func (fs *FileStore) List(_ context.Context) ([]Summary, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(fs.basePath, "*.json"))
	if err != nil {
		return nil, err
	}
	var list []Summary
	for _, file := range files {
		st, err := fs.load(strings.TrimSuffix(filepath.Base(file), ".json"))
		if err != nil {
			continue
		}
		list = append(list, Summary{
			JobID:     st.JobID,
			Name:      st.Name,
			Processed: len(st.Processed),
			Blocked:   len(st.Blocked),
			Paused:    st.Paused,
			UpdatedAt: st.UpdatedAt,
		})
	}
	sortSummaries(list)
	return list, nil
}

// Delete 删除任务
func (fs *FileStore) Delete(_ context.Context, jobID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	err := os.Remove(fs.path(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// Close 无需释放资源
func (fs *FileStore) Close() error { return nil }

// Open 按路径选择后端：.db/.sqlite 使用 SQLite，其余视为目录
func Open(location string) (Store, error) {
	switch strings.ToLower(filepath.Ext(location)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(location)
	default:
		return NewFileStore(location)
	}
}
