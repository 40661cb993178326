package jobstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := OpenSQLite(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	files, err := NewFileStore(filepath.Join(dir, "jobs"))
	require.NoError(t, err)

	return map[string]Store{"sqlite": sqlite, "file": files}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			jobID := JobID("/books/a.epub", "zh")

			_, err := store.Load(ctx, jobID)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Begin(ctx, jobID, "a.epub"))
			require.NoError(t, store.MarkProcessed(ctx, jobID, Unit{
				ID: "OEBPS/ch1.xhtml", Translated: true, Title: "第一章", Content: []byte("<p>译文</p>"),
			}))
			require.NoError(t, store.MarkProcessed(ctx, jobID, Unit{ID: "OEBPS/ch2.xhtml"}))
			require.NoError(t, store.Block(ctx, jobID, "OEBPS/ch3.xhtml"))
			require.NoError(t, store.Block(ctx, jobID, "OEBPS/ch3.xhtml"))
			require.NoError(t, store.SetPaused(ctx, jobID, true))

			st, err := store.Load(ctx, jobID)
			require.NoError(t, err)
			assert.Equal(t, "a.epub", st.Name)
			assert.True(t, st.Paused)
			require.Len(t, st.Processed, 2)
			assert.True(t, st.IsProcessed("OEBPS/ch1.xhtml"))
			assert.Equal(t, "第一章", st.Processed["OEBPS/ch1.xhtml"].Title)
			assert.Equal(t, "<p>译文</p>", string(st.Processed["OEBPS/ch1.xhtml"].Content))
			assert.False(t, st.Processed["OEBPS/ch2.xhtml"].Translated)
			assert.True(t, st.IsBlocked("OEBPS/ch3.xhtml"))
			assert.False(t, st.IsBlocked("OEBPS/ch1.xhtml"))

			// 覆盖写入
			require.NoError(t, store.MarkProcessed(ctx, jobID, Unit{ID: "OEBPS/ch2.xhtml", Translated: true}))
			st, err = store.Load(ctx, jobID)
			require.NoError(t, err)
			assert.True(t, st.Processed["OEBPS/ch2.xhtml"].Translated)

			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, jobID, list[0].JobID)
			assert.Equal(t, 2, list[0].Processed)
			assert.Equal(t, 1, list[0].Blocked)

			require.NoError(t, store.Delete(ctx, jobID))
			_, err = store.Load(ctx, jobID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Delete(ctx, jobID), ErrNotFound)
		})
	}
}

func TestJobIDStable(t *testing.T) {
	assert.Equal(t, JobID("/a.txt", "zh"), JobID("/a.txt", "zh"))
	assert.NotEqual(t, JobID("/a.txt", "zh"), JobID("/a.txt", "en"))
	assert.Len(t, JobID("/a.txt", "zh"), 36)
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	_, ok := s.(*SQLiteStore)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	s, err = Open(filepath.Join(dir, "state"))
	require.NoError(t, err)
	_, ok = s.(*FileStore)
	assert.True(t, ok)
}

func TestNilStateHelpers(t *testing.T) {
	var st *State
	assert.False(t, st.IsProcessed("x"))
	assert.False(t, st.IsBlocked("x"))
}
