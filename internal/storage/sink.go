// Package storage 写出翻译结果：本地目录或 GCS 存储桶。
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrExists 目标已存在且不允许覆盖
var ErrExists = errors.New("output already exists")

// Sink 输出目标
type Sink interface {
	// Write 写出一个完整的文件，成功后返回其位置。失败时不留下部分内容
	Write(ctx context.Context, name string, data []byte) (string, error)
	// Exists 目标是否已存在
	Exists(ctx context.Context, name string) (bool, error)
	Close() error
}

// Location 解析后的位置
type Location struct {
	Bucket string // 为空表示本地路径
	Path   string
}

// IsRemote 是否为 GCS 位置
func (l Location) IsRemote() bool { return l.Bucket != "" }

func (l Location) String() string {
	if l.IsRemote() {
		return "gs://" + l.Bucket + "/" + l.Path
	}
	return l.Path
}

// ParseLocation 解析 gs://bucket/path 或本地路径
func ParseLocation(s string) (Location, error) {
	if rest, ok := strings.CutPrefix(s, "gs://"); ok {
		bucket, p, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("invalid gcs location %q: missing bucket", s)
		}
		return Location{Bucket: bucket, Path: strings.Trim(p, "/")}, nil
	}
	if s == "" {
		return Location{}, errors.New("empty location")
	}
	return Location{Path: s}, nil
}

// LocalSink 写入本地目录，先写临时文件再改名
type LocalSink struct {
	dir       string
	overwrite bool
}

// NewLocalSink 创建本地输出目录
func NewLocalSink(dir string, overwrite bool) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &LocalSink{dir: dir, overwrite: overwrite}, nil
}

func (s *LocalSink) path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// Write 原子写入
func (s *LocalSink) Write(_ context.Context, name string, data []byte) (string, error) {
	target := s.path(name)
	if !s.overwrite {
		if _, err := os.Stat(target); err == nil {
			return "", fmt.Errorf("%w: %s", ErrExists, target)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", err
	}
	return target, nil
}

// Exists 文件是否存在
func (s *LocalSink) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Close 无需释放资源
func (s *LocalSink) Close() error { return nil }

// Open 根据位置创建输出目标
func Open(ctx context.Context, location string, overwrite bool, credentialsFile string) (Sink, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	if loc.IsRemote() {
		return NewGCSSink(ctx, loc.Bucket, loc.Path, overwrite, credentialsFile)
	}
	return NewLocalSink(loc.Path, overwrite)
}

// ReadFile 读取本地文件或 GCS 对象
func ReadFile(ctx context.Context, location, credentialsFile string) ([]byte, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	if !loc.IsRemote() {
		return os.ReadFile(loc.Path)
	}
	return readObject(ctx, loc, credentialsFile)
}
