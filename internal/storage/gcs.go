package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSSink 写入 GCS 存储桶
type GCSSink struct {
	client    *storage.Client
	bucket    *storage.BucketHandle
	name      string
	prefix    string
	overwrite bool
}

func clientOptions(credentialsFile string) []option.ClientOption {
	if credentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
}

// NewGCSSink 创建 GCS 输出目标
func NewGCSSink(ctx context.Context, bucket, prefix string, overwrite bool, credentialsFile string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx, clientOptions(credentialsFile)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSSink{
		client:    client,
		bucket:    client.Bucket(bucket),
		name:      bucket,
		prefix:    prefix,
		overwrite: overwrite,
	}, nil
}

func (s *GCSSink) object(name string) string {
	return path.Join(s.prefix, name)
}

// Write 对象在 Close 成功后才可见，失败时不会留下部分内容
func (s *GCSSink) Write(ctx context.Context, name string, data []byte) (string, error) {
	objectName := s.object(name)
	obj := s.bucket.Object(objectName)
	if !s.overwrite {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := obj.NewWriter(ctx)
	w.ContentType = http.DetectContentType(data)

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("failed to write gs://%s/%s: %w", s.name, objectName, err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return "", fmt.Errorf("%w: gs://%s/%s", ErrExists, s.name, objectName)
		}
		return "", fmt.Errorf("failed to finalize gs://%s/%s: %w", s.name, objectName, err)
	}
	return "gs://" + s.name + "/" + objectName, nil
}

// Exists 对象是否存在
func (s *GCSSink) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.bucket.Object(s.object(name)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Close 关闭客户端
func (s *GCSSink) Close() error {
	return s.client.Close()
}

func readObject(ctx context.Context, loc Location, credentialsFile string) ([]byte, error) {
	client, err := storage.NewClient(ctx, clientOptions(credentialsFile)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(loc.Bucket).Object(loc.Path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", loc, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}
