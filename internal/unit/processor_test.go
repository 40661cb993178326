package unit

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nerdneilsfield/go-book-translator/internal/markup"
	"github.com/nerdneilsfield/go-book-translator/pkg/chunker"
	"github.com/nerdneilsfield/go-book-translator/pkg/placeholder"
	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTransformer 把文本转为大写；failAt 指定第几次调用（从 1 开始）返回错误
type fakeTransformer struct {
	calls  atomic.Int32
	failAt map[int]error
	mutate func(string) string
}

func (f *fakeTransformer) Transform(ctx context.Context, text string) (string, error) {
	n := int(f.calls.Add(1))
	if err, ok := f.failAt[n]; ok {
		return "", err
	}
	if f.mutate != nil {
		return f.mutate(text), nil
	}
	return strings.ToUpper(text), nil
}

func smallChunks() Options {
	return Options{Chunk: chunker.Options{Limit: 30, SearchWindow: 20, MinChunkSize: 5}, ChunkingEnabled: true}
}

const threeParagraphs = "first paragraph text.\n\nsecond paragraph text.\n\nthird paragraph text."

func TestProcessSingleChunk(t *testing.T) {
	fake := &fakeTransformer{}
	p := NewProcessor(fake, DefaultOptions(), zap.NewNop())

	res := p.Process(context.Background(), Input{ID: "u1", Content: "hello world"}, nil)
	assert.True(t, res.Success)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, "HELLO WORLD", res.Content)
	assert.Equal(t, 1, res.ChunksTotal)
	assert.Equal(t, 1, res.ChunksDone)
	assert.Empty(t, res.Warning)
}

func TestProcessChunksInOrder(t *testing.T) {
	fake := &fakeTransformer{}
	p := NewProcessor(fake, smallChunks(), zap.NewNop())

	res := p.Process(context.Background(), Input{ID: "u", Content: threeParagraphs}, nil)
	require.True(t, res.Success)
	assert.Equal(t, strings.ToUpper(threeParagraphs), res.Content)
	assert.Equal(t, 3, res.ChunksTotal)
	assert.Equal(t, int32(3), fake.calls.Load())
}

func TestProcessChunkingDisabled(t *testing.T) {
	fake := &fakeTransformer{}
	opts := smallChunks()
	opts.ChunkingEnabled = false
	p := NewProcessor(fake, opts, zap.NewNop())

	res := p.Process(context.Background(), Input{ID: "u", Content: threeParagraphs}, nil)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.ChunksTotal)
}

func TestProcessPartialFailureKeepsPrefix(t *testing.T) {
	fake := &fakeTransformer{failAt: map[int]error{
		2: transform.NewContentRejectedError(transform.KindSafety, "blocked", nil),
	}}
	p := NewProcessor(fake, smallChunks(), zap.NewNop())

	res := p.Process(context.Background(), Input{ID: "u", Content: threeParagraphs}, nil)
	assert.True(t, res.Success)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, "FIRST PARAGRAPH TEXT.\n\n", res.Content)
	assert.Contains(t, res.Warning, "chunk 2/3 failed")
	assert.Equal(t, 1, res.ChunksDone)
}

func TestProcessFirstChunkFailureFallsBack(t *testing.T) {
	fake := &fakeTransformer{failAt: map[int]error{
		1: transform.NewTransientError(transform.KindUnavailable, "down", nil),
	}}
	p := NewProcessor(fake, smallChunks(), zap.NewNop())

	res := p.Process(context.Background(), Input{ID: "u", Content: threeParagraphs}, nil)
	assert.False(t, res.Success)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, threeParagraphs, res.Content)
	assert.True(t, transform.IsTransient(res.Err))
	assert.NotEmpty(t, res.Warning)
}

func TestProcessPermanentFailure(t *testing.T) {
	fake := &fakeTransformer{failAt: map[int]error{
		2: transform.NewPermanentError(transform.KindUnauthenticated, "bad key", nil),
	}}
	p := NewProcessor(fake, smallChunks(), zap.NewNop())

	res := p.Process(context.Background(), Input{ID: "u", Content: threeParagraphs}, nil)
	assert.False(t, res.Success)
	assert.True(t, transform.IsPermanent(res.Err))
}

func TestProcessRemovesHallucinatedTokens(t *testing.T) {
	fake := &fakeTransformer{mutate: func(s string) string {
		return s + placeholder.Token(strings.Repeat("f", 32))
	}}
	p := NewProcessor(fake, DefaultOptions(), zap.NewNop())

	in := Input{ID: "u", Content: `<p>see <img src="a.png" alt="a"/> here</p>`, Markup: markup.XHTML{}}
	res := p.Process(context.Background(), in, nil)
	require.True(t, res.Success)
	assert.NotContains(t, res.Content, strings.Repeat("f", 32))
	assert.NotContains(t, res.Content, "img_placeholder")
	assert.Contains(t, res.Content, `<img src="a.png" alt="a"/>`)
	assert.Contains(t, res.Warning, "unknown placeholder")
	assert.Len(t, res.Assets, 1)
}

func TestProcessPreExtractedAssets(t *testing.T) {
	id := placeholder.NewID()
	assets := placeholder.AssetMap{id: {ID: id, Kind: placeholder.KindEmbedded, Src: "media/a.png", Data: []byte{1}}}
	fake := &fakeTransformer{mutate: func(s string) string { return strings.Replace(s, "text", "TEXT", 1) }}
	p := NewProcessor(fake, DefaultOptions(), zap.NewNop())

	res := p.Process(context.Background(), Input{ID: "d", Content: "text " + placeholder.Token(id), Assets: assets}, nil)
	require.True(t, res.Success)
	assert.Equal(t, "TEXT "+placeholder.Token(id), res.Text)
	assert.Contains(t, res.Content, `src="media/a.png"`)
}

func TestProcessDrain(t *testing.T) {
	t.Run("before first chunk", func(t *testing.T) {
		fake := &fakeTransformer{}
		p := NewProcessor(fake, smallChunks(), zap.NewNop())
		res := p.Process(context.Background(), Input{ID: "u", Content: threeParagraphs}, func() bool { return true })
		assert.True(t, res.Skipped)
		assert.True(t, res.UsedFallback)
		assert.Equal(t, threeParagraphs, res.Content)
		assert.Equal(t, int32(0), fake.calls.Load())
	})

	t.Run("mid unit", func(t *testing.T) {
		fake := &fakeTransformer{}
		p := NewProcessor(fake, smallChunks(), zap.NewNop())
		drain := func() bool { return fake.calls.Load() >= 1 }

		res := p.Process(context.Background(), Input{ID: "u", Content: threeParagraphs}, drain)
		assert.True(t, res.Success)
		assert.Equal(t, "FIRST PARAGRAPH TEXT.\n\nsecond paragraph text.\n\nthird paragraph text.", res.Content)
		assert.Contains(t, res.Warning, "graceful finish")
		assert.Equal(t, int32(1), fake.calls.Load())
	})
}

func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeTransformer{mutate: func(s string) string {
		cancel()
		return strings.ToUpper(s)
	}}
	p := NewProcessor(fake, smallChunks(), zap.NewNop())

	res := p.Process(ctx, Input{ID: "u", Content: threeParagraphs}, nil)
	assert.True(t, res.Cancelled)
	assert.True(t, errors.Is(res.Err, context.Canceled))
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestProcessBlankUnit(t *testing.T) {
	fake := &fakeTransformer{}
	p := NewProcessor(fake, DefaultOptions(), zap.NewNop())
	res := p.Process(context.Background(), Input{ID: "u", Content: "  \n"}, nil)
	assert.True(t, res.Success)
	assert.Equal(t, int32(0), fake.calls.Load())
}
