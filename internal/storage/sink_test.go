package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("gs://bucket/out/books/")
	require.NoError(t, err)
	assert.True(t, loc.IsRemote())
	assert.Equal(t, "bucket", loc.Bucket)
	assert.Equal(t, "out/books", loc.Path)
	assert.Equal(t, "gs://bucket/out/books", loc.String())

	loc, err = ParseLocation("./out")
	require.NoError(t, err)
	assert.False(t, loc.IsRemote())
	assert.Equal(t, "./out", loc.String())

	_, err = ParseLocation("gs:///x")
	assert.Error(t, err)
	_, err = ParseLocation("")
	assert.Error(t, err)
}

func TestLocalSink(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sink, err := Open(ctx, dir, false, "")
	require.NoError(t, err)
	defer sink.Close()

	ok, err := sink.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	loc, err := sink.Write(ctx, "a/b.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a", "b.txt"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	ok, err = sink.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = sink.Write(ctx, "a/b.txt", []byte("again"))
	assert.ErrorIs(t, err, ErrExists)

	// 不留下临时文件
	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalSinkOverwrite(t *testing.T) {
	ctx := context.Background()
	sink, err := NewLocalSink(t.TempDir(), true)
	require.NoError(t, err)

	_, err = sink.Write(ctx, "x.txt", []byte("1"))
	require.NoError(t, err)
	loc, err := sink.Write(ctx, "x.txt", []byte("2"))
	require.NoError(t, err)

	data, err := ReadFile(ctx, loc, "")
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))
}
