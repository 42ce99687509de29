package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/tag-comb/app/store"
)

const page = `<html><head></head><body><ol>` +
	`<li class="work blurb" id="work_1"><a class="tag" href="/tags/Angst/works">Angst</a></li>` +
	`<li class="work blurb" id="work_2"><a class="tag" href="/tags/Fluff/works">Fluff</a></li>` +
	`</ol></body></html>`

func newStore(t *testing.T, hidden ...string) *store.Store {
	t.Helper()
	st := store.New(store.NewMemory(), store.NewMemory(), "")
	st.SetHidden(context.Background(), hidden)
	return st
}

func writePage(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func TestNewRequiresDirectory(t *testing.T) {
	_, err := New(newStore(t), Options{})
	assert.Error(t, err)

	_, err = New(newStore(t), Options{Dir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	file := writePage(t, t.TempDir(), "a.html", page)
	_, err = New(newStore(t), Options{Dir: file})
	assert.Error(t, err)
}

func TestProcessAllWritesToOutDir(t *testing.T) {
	in, out := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writePage(t, in, "list.html", page)
	writePage(t, in, "notes.txt", "not a page")

	w, err := New(newStore(t, "angst"), Options{Dir: in, OutDir: out})
	require.NoError(t, err)
	require.NoError(t, w.ProcessAll(context.Background()))

	result := readFile(t, filepath.Join(out, "list.html"))
	assert.Contains(t, result, `data-tc-wrapped="true"`)
	assert.Equal(t, 1, strings.Count(result, `data-tc-wrapped="true"`))
	assert.Contains(t, result, `class="tc-hide-icon"`)
	assert.NoFileExists(t, filepath.Join(out, "notes.txt"))
	assert.Equal(t, page, readFile(t, filepath.Join(in, "list.html")))
}

func TestProcessFileInPlaceSettles(t *testing.T) {
	dir := t.TempDir()
	path := writePage(t, dir, "list.html", page)

	w, err := New(newStore(t, "angst"), Options{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, w.ProcessFile(context.Background(), path))
	first, err := os.Stat(path)
	require.NoError(t, err)
	assert.Contains(t, readFile(t, path), `data-tc-wrapped="true"`)

	// an unchanged result is not renamed over the page
	require.NoError(t, w.ProcessFile(context.Background(), path))
	second, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, os.SameFile(first, second))
	assert.Len(t, w.engines, 1)
}

func TestProcessFileMissingPage(t *testing.T) {
	dir := t.TempDir()
	w, err := New(newStore(t), Options{Dir: dir})
	require.NoError(t, err)

	require.NoError(t, w.ProcessFile(context.Background(), filepath.Join(dir, "gone.html")))
	assert.Empty(t, w.engines)
}

func TestProcessFileForgetsRemovedPage(t *testing.T) {
	dir := t.TempDir()
	path := writePage(t, dir, "list.html", page)

	w, err := New(newStore(t, "angst"), Options{Dir: dir, OutDir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, w.ProcessFile(context.Background(), path))
	require.Len(t, w.engines, 1)

	require.NoError(t, os.Remove(path))
	require.NoError(t, w.ProcessFile(context.Background(), path))
	assert.Empty(t, w.engines)
}

func TestRunReactsToChanges(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	st := newStore(t, "angst")

	w, err := New(st, Options{Dir: in, OutDir: out, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	target := filepath.Join(out, "new.html")
	writePage(t, in, "new.html", page)
	require.Eventually(t, func() bool {
		return strings.Contains(readFile(t, target), `data-tc-wrapped="true"`)
	}, 3*time.Second, 20*time.Millisecond)

	st.AddHiddenTag(ctx, "fluff")
	w.Refresh()
	require.Eventually(t, func() bool {
		return strings.Count(readFile(t, target), `data-tc-wrapped="true"`) == 2
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
