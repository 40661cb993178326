package translator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerdneilsfield/go-book-translator/internal/container"
	"github.com/nerdneilsfield/go-book-translator/internal/document"
	"github.com/nerdneilsfield/go-book-translator/internal/jobstore"
	"github.com/nerdneilsfield/go-book-translator/internal/progress"
	"github.com/nerdneilsfield/go-book-translator/internal/storage"
	"github.com/nerdneilsfield/go-book-translator/internal/unit"
	"github.com/nerdneilsfield/go-book-translator/pkg/chunker"
	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService 按文本内容决定译文或错误，并记录调用
type fakeService struct {
	mu    sync.Mutex
	calls []string
	fail  func(text string) error
	hook  func(text string)
}

func (s *fakeService) Transform(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()
	if s.hook != nil {
		s.hook(text)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.fail != nil {
		if err := s.fail(text); err != nil {
			return "", err
		}
	}
	return strings.ReplaceAll(text, "Text", "Texte"), nil
}

func (s *fakeService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newClient(svc transform.Service) *transform.Client {
	cfg := transform.RetryConfig{MaxRetries: 1, ContentRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return transform.NewClient(svc, cfg, transform.WithWaiter(func(context.Context, time.Duration) error { return nil }))
}

func testBook(t *testing.T) *container.Container {
	t.Helper()
	b := &container.Book{Identifier: "urn:uuid:test", Title: "Test Book", Language: "en"}
	for i := 1; i <= 5; i++ {
		b.Chapters = append(b.Chapters, container.Chapter{
			Title: fmt.Sprintf("Chapter %d", i),
			Body:  fmt.Sprintf("<h1>Chapter %d</h1>\n<p>Text of part %d.</p>", i, i),
		})
	}
	var buf bytes.Buffer
	require.NoError(t, container.WriteBook(&buf, b))
	c, err := container.Open(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, c.TranslatableParts(), 5)
	return c
}

func partPath(i int) string { return "OEBPS/" + container.ChapterPath(i-1) }

func translatedPath(i int) string {
	return strings.TrimSuffix(partPath(i), ".xhtml") + container.DefaultSuffix + ".xhtml"
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Concurrency = 1
	return opts
}

func newSink(t *testing.T) (*storage.LocalSink, string) {
	t.Helper()
	dir := t.TempDir()
	sink, err := storage.NewLocalSink(dir, false)
	require.NoError(t, err)
	return sink, dir
}

func TestRunTranslatesContainer(t *testing.T) {
	svc := &fakeService{}
	sink, dir := newSink(t)
	book := testBook(t)

	var events []progress.UnitEvent
	var mu sync.Mutex
	obs := &progress.Funcs{Unit: func(e progress.UnitEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}}

	opts := testOptions()
	opts.Concurrency = 3
	coord := NewCoordinator(newClient(svc), sink, opts, WithObserver(obs))
	summary, err := coord.Run(context.Background(), []*Document{
		NewContainerDocument("book.epub", book, "book_translated.epub"),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Empty(t, summary.Fallback)
	require.Len(t, summary.Outputs, 1)
	assert.Equal(t, 5, svc.callCount())

	data, err := os.ReadFile(filepath.Join(dir, "book_translated.epub"))
	require.NoError(t, err)
	out, err := container.Open(data)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		body, ok := out.Member(translatedPath(i))
		require.True(t, ok, "part %d", i)
		assert.Contains(t, string(body), fmt.Sprintf("Texte of part %d.", i))
	}

	state := coord.State()
	assert.Zero(t, state.Pending["book.epub"])
	assert.Zero(t, state.Remaining)

	mu.Lock()
	defer mu.Unlock()
	terminal := 0
	for _, e := range events {
		if e.Status.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 5, terminal)
}

func TestRunPermanentErrorAbortsJob(t *testing.T) {
	svc := &fakeService{fail: func(text string) error {
		if strings.Contains(text, "part 3") {
			return transform.NewPermanentError(transform.KindUnauthenticated, "bad key", nil)
		}
		return nil
	}}
	sink, dir := newSink(t)

	coord := NewCoordinator(newClient(svc), sink, testOptions())
	summary, err := coord.Run(context.Background(), []*Document{
		NewContainerDocument("book.epub", testBook(t), "book_translated.epub"),
	})
	require.ErrorIs(t, err, ErrAborted)
	require.NotNil(t, summary)
	assert.True(t, summary.Aborted)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Unfinished)
	assert.Empty(t, summary.Outputs)
	assert.Equal(t, 3, svc.callCount(), "parts after the failure are not dispatched")
	require.Len(t, summary.Documents, 1)
	assert.Equal(t, progress.DocumentAborted, summary.Documents[0].Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunTransientFailureFallsBack(t *testing.T) {
	svc := &fakeService{fail: func(text string) error {
		if strings.Contains(text, "part 4") {
			return transform.NewTransientError(transform.KindUnavailable, "overloaded", nil)
		}
		return nil
	}}
	sink, dir := newSink(t)
	book := testBook(t)
	original, ok := book.Member(partPath(4))
	require.True(t, ok)

	coord := NewCoordinator(newClient(svc), sink, testOptions())
	summary, err := coord.Run(context.Background(), []*Document{
		NewContainerDocument("book.epub", book, "book_translated.epub"),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"book.epub:" + partPath(4)}, summary.Fallback)
	assert.NotEmpty(t, summary.Diagnostics)

	data, err := os.ReadFile(filepath.Join(dir, "book_translated.epub"))
	require.NoError(t, err)
	out, err := container.Open(data)
	require.NoError(t, err)

	var paths []string
	for _, p := range out.TranslatableParts() {
		paths = append(paths, p.Path)
	}
	assert.Equal(t, []string{translatedPath(1), translatedPath(2), translatedPath(3), partPath(4), translatedPath(5)}, paths)

	kept, ok := out.Member(partPath(4))
	require.True(t, ok)
	assert.Equal(t, original, kept)
	_, ok = out.Member(translatedPath(4))
	assert.False(t, ok)
}

func TestRunCancelDiscardsOutput(t *testing.T) {
	var coord *Coordinator
	svc := &fakeService{hook: func(text string) {
		if strings.Contains(text, "part 2") {
			coord.Cancel()
		}
	}}
	sink, dir := newSink(t)

	coord = NewCoordinator(newClient(svc), sink, testOptions())
	summary, err := coord.Run(context.Background(), []*Document{
		NewContainerDocument("book.epub", testBook(t), "book_translated.epub"),
	})
	require.ErrorIs(t, err, ErrCancelled)
	assert.True(t, summary.Cancelled)
	assert.Empty(t, summary.Outputs)
	assert.True(t, coord.State().Cancelled)
	assert.Equal(t, 2, svc.callCount())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := &fakeService{hook: func(text string) {
		if strings.Contains(text, "part 2") {
			cancel()
		}
	}}
	sink, dir := newSink(t)

	coord := NewCoordinator(newClient(svc), sink, testOptions())
	summary, err := coord.Run(ctx, []*Document{
		NewContainerDocument("book.epub", testBook(t), "book_translated.epub"),
	})
	require.ErrorIs(t, err, ErrCancelled)
	assert.True(t, summary.Cancelled)
	assert.False(t, summary.Aborted)
	assert.True(t, coord.State().Cancelled)
	assert.Empty(t, summary.Outputs)
	assert.Equal(t, 2, svc.callCount())
	require.Len(t, summary.Documents, 1)
	assert.Equal(t, progress.DocumentCancelled, summary.Documents[0].Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunFinishGracefully(t *testing.T) {
	var coord *Coordinator
	svc := &fakeService{hook: func(text string) {
		if strings.Contains(text, "part 2") {
			coord.FinishGracefully()
		}
	}}
	sink, dir := newSink(t)
	book := testBook(t)

	coord = NewCoordinator(newClient(svc), sink, testOptions())
	summary, err := coord.Run(context.Background(), []*Document{
		NewContainerDocument("book.epub", book, "book_translated.epub"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 2, svc.callCount())
	require.Len(t, summary.Outputs, 1)

	data, err := os.ReadFile(filepath.Join(dir, "book_translated.epub"))
	require.NoError(t, err)
	out, err := container.Open(data)
	require.NoError(t, err)
	_, ok := out.Member(translatedPath(2))
	assert.True(t, ok)
	kept, ok := out.Member(partPath(3))
	require.True(t, ok)
	original, _ := book.Member(partPath(3))
	assert.Equal(t, original, kept)
}

func TestRunFlatDocument(t *testing.T) {
	svc := &fakeService{}
	sink, dir := newSink(t)

	flat, err := document.Read("notes.md", []byte("# Notes\n\nText here.\n"), nil)
	require.NoError(t, err)
	output := OutputName("notes.md", document.Markdown, "_translated")
	assert.Equal(t, "notes_translated.md", output)

	coord := NewCoordinator(newClient(svc), sink, testOptions())
	summary, err := coord.Run(context.Background(), []*Document{NewFlatDocument(flat, output, "")})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	data, err := os.ReadFile(filepath.Join(dir, output))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Texte here.")
}

func TestRunFlatDocumentFallbackKeepsOriginal(t *testing.T) {
	svc := &fakeService{fail: func(string) error {
		return transform.NewTransientError(transform.KindTimeout, "slow", nil)
	}}
	sink, dir := newSink(t)

	flat, err := document.Read("page.html", []byte("<html><body><h1>Page</h1><p>Text here.</p></body></html>"), nil)
	require.NoError(t, err)

	coord := NewCoordinator(newClient(svc), sink, testOptions())
	summary, err := coord.Run(context.Background(), []*Document{NewFlatDocument(flat, "page.txt", document.PlainText)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"page.html"}, summary.Fallback)

	data, err := os.ReadFile(filepath.Join(dir, "page.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Text here.")
	assert.NotContains(t, string(data), "<p>")
}

func TestRunResumesFromStore(t *testing.T) {
	store, err := jobstore.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	failing := &fakeService{fail: func(text string) error {
		if strings.Contains(text, "part 3") {
			return transform.NewPermanentError(transform.KindUnauthenticated, "bad key", nil)
		}
		return nil
	}}
	sink, dir := newSink(t)
	book := testBook(t)
	doc := NewContainerDocument("book.epub", book, "book_translated.epub")

	_, err = NewCoordinator(newClient(failing), sink, testOptions(), WithStore(store)).Run(ctx, []*Document{doc})
	require.ErrorIs(t, err, ErrAborted)

	jobID := jobstore.JobID("book.epub", testOptions().TargetLang)
	state, err := store.Load(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, state.Paused)
	assert.True(t, state.IsProcessed(partPath(1)))
	assert.True(t, state.IsProcessed(partPath(2)))
	assert.False(t, state.IsProcessed(partPath(3)))

	healthy := &fakeService{}
	summary, err := NewCoordinator(newClient(healthy), sink, testOptions(), WithStore(store)).Run(ctx, []*Document{doc})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Equal(t, 3, healthy.callCount())

	data, err := os.ReadFile(filepath.Join(dir, "book_translated.epub"))
	require.NoError(t, err)
	out, err := container.Open(data)
	require.NoError(t, err)
	body, ok := out.Member(translatedPath(1))
	require.True(t, ok)
	assert.Contains(t, string(body), "Texte of part 1.")

	_, err = store.Load(ctx, jobID)
	assert.True(t, errors.Is(err, jobstore.ErrNotFound), "completed job state is removed")
}

func TestRunResumeRetriesPartialUnit(t *testing.T) {
	store, err := jobstore.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	// 每个部件切成标题与正文两块
	opts := testOptions()
	opts.Unit = unit.Options{ChunkingEnabled: true, Chunk: chunker.Options{Limit: 20, SearchWindow: 20, MinChunkSize: 12}}
	book := testBook(t)
	doc := NewContainerDocument("book.epub", book, "book_translated.epub")

	var coord *Coordinator
	draining := &fakeService{hook: func(text string) {
		if strings.Contains(text, "Chapter 3") {
			coord.FinishGracefully()
		}
	}}
	sink, _ := newSink(t)
	coord = NewCoordinator(newClient(draining), sink, opts, WithStore(store))
	summary, err := coord.Run(ctx, []*Document{doc})
	require.NoError(t, err)
	assert.Equal(t, 5, draining.callCount())
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 2, summary.Skipped)
	assert.NotEmpty(t, summary.Diagnostics)

	jobID := jobstore.JobID("book.epub", opts.TargetLang)
	state, err := store.Load(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, state.Paused)
	assert.True(t, state.IsProcessed(partPath(2)))
	assert.False(t, state.IsProcessed(partPath(3)), "partly translated unit is not recorded")

	healthy := &fakeService{}
	sink, dir := newSink(t)
	summary, err = NewCoordinator(newClient(healthy), sink, opts, WithStore(store)).Run(ctx, []*Document{doc})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Equal(t, 6, healthy.callCount())

	data, err := os.ReadFile(filepath.Join(dir, "book_translated.epub"))
	require.NoError(t, err)
	out, err := container.Open(data)
	require.NoError(t, err)
	body, ok := out.Member(translatedPath(3))
	require.True(t, ok)
	assert.Contains(t, string(body), "Texte of part 3.")
}

func TestRunBlockedUnitKeepsOriginal(t *testing.T) {
	store, err := jobstore.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	jobID := jobstore.JobID("book.epub", testOptions().TargetLang)
	require.NoError(t, store.Begin(ctx, jobID, "book.epub"))
	require.NoError(t, store.Block(ctx, jobID, partPath(2)))

	svc := &fakeService{}
	sink, dir := newSink(t)
	summary, err := NewCoordinator(newClient(svc), sink, testOptions(), WithStore(store)).Run(ctx, []*Document{
		NewContainerDocument("book.epub", testBook(t), "book_translated.epub"),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 4, svc.callCount())
	for _, call := range svc.calls {
		assert.NotContains(t, call, "part 2")
	}

	data, err := os.ReadFile(filepath.Join(dir, "book_translated.epub"))
	require.NoError(t, err)
	out, err := container.Open(data)
	require.NoError(t, err)
	_, ok := out.Member(partPath(2))
	assert.True(t, ok)
}

func TestRunMultipleDocuments(t *testing.T) {
	svc := &fakeService{}
	sink, dir := newSink(t)

	flat, err := document.Read("a.txt", []byte("Text one.\n"), nil)
	require.NoError(t, err)
	opts := testOptions()
	opts.Concurrency = 2
	summary, err := NewCoordinator(newClient(svc), sink, opts).Run(context.Background(), []*Document{
		NewContainerDocument("book.epub", testBook(t), "book_translated.epub"),
		NewFlatDocument(flat, "a_translated.txt", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Succeeded)
	assert.Len(t, summary.Outputs, 2)
	assert.Len(t, summary.Documents, 2)

	for _, name := range []string{"book_translated.epub", "a_translated.txt"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}
