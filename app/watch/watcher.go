// Package watch keeps a directory of saved listing pages filtered. Every
// *.html file is a page; when one changes it is reconciled against the
// blocklist and written back out.
package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/net/html"

	"github.com/lysyi3m/tag-comb/app/dom"
	"github.com/lysyi3m/tag-comb/app/engine"
	"github.com/lysyi3m/tag-comb/app/profile"
)

const pagePattern = "*.html"

type Options struct {
	Dir      string
	OutDir   string // empty rewrites pages in place
	Debounce time.Duration
	Profile  *profile.Profile
}

type Watcher struct {
	dir      string
	outDir   string
	debounce time.Duration
	profile  *profile.Profile
	store    engine.TagStore

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
	runCtx   context.Context
	engines  map[string]*engine.Engine // by page path
}

func New(st engine.TagStore, opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", opts.Dir)
	}

	if opts.OutDir != "" {
		if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = engine.DefaultDebounce
	}
	if opts.Profile == nil {
		opts.Profile = profile.Default()
	}

	return &Watcher{
		dir:      opts.Dir,
		outDir:   opts.OutDir,
		debounce: opts.Debounce,
		profile:  opts.Profile,
		store:    st,
		done:     make(chan struct{}),
		engines:  make(map[string]*engine.Engine),
	}, nil
}

// Run processes every page once, then reprocesses pages as they change
// until ctx is cancelled or Stop is called. Each page has its own engine
// whose debounce loop settles bursts of file events.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		w.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.watcher = fw
	w.watching = true
	w.runCtx = ctx
	for _, eng := range w.engines {
		eng.Start(ctx)
	}
	w.mu.Unlock()

	defer w.Stop()

	slog.Info("Watching pages", "dir", w.dir, "out", w.outputDir(), "debounce", w.debounce)

	if err := w.ProcessAll(ctx); err != nil {
		slog.Warn("Initial page pass incomplete", "error", err)
	}

	go w.processEvents(ctx)

	select {
	case <-ctx.Done():
	case <-w.done:
	}
	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.watching = false
		w.runCtx = nil
		engines := make([]*engine.Engine, 0, len(w.engines))
		for _, eng := range w.engines {
			engines = append(engines, eng)
		}
		w.mu.Unlock()

		for _, eng := range engines {
			eng.Stop()
		}
	})
}

// Refresh marks every page as changed, e.g. after the blocklist changed.
func (w *Watcher) Refresh() {
	pages, err := w.pages()
	if err != nil {
		slog.Warn("Failed to list pages", "dir", w.dir, "error", err)
		return
	}
	for _, page := range pages {
		w.changed(page)
	}
}

func (w *Watcher) changed(path string) {
	eng, err := w.engineFor(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.forget(path)
			return
		}
		slog.Warn("Failed to load page", "path", path, "error", err)
		return
	}
	eng.ContentChanged()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isPage(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename):
				w.changed(event.Name)
			case event.Has(fsnotify.Remove):
				w.forget(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", "error", err)
		}
	}
}

// engineFor returns the engine tracking path, creating it on first use.
// A new engine is started when the watcher is running.
func (w *Watcher) engineFor(path string) (*engine.Engine, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if eng, ok := w.engines[path]; ok {
		return eng, nil
	}

	doc, err := readPage(path)
	if err != nil {
		return nil, err
	}

	var eng *engine.Engine
	eng, err = engine.New(doc, w.store, engine.Options{
		Profile:  w.profile,
		Debounce: w.debounce,
		Load:     func() (*html.Node, error) { return readPage(path) },
		AfterFlush: func(sum engine.Summary) error {
			return w.write(path, eng, sum)
		},
	})
	if err != nil {
		return nil, err
	}

	w.engines[path] = eng
	if w.runCtx != nil {
		eng.Start(w.runCtx)
	}
	return eng, nil
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	eng, ok := w.engines[path]
	delete(w.engines, path)
	w.mu.Unlock()

	if ok {
		eng.Stop()
		slog.Debug("Page forgotten", "path", path)
	}
}

// ProcessAll reconciles every page in the watched directory.
func (w *Watcher) ProcessAll(ctx context.Context) error {
	pages, err := w.pages()
	if err != nil {
		return err
	}

	var failed []string
	for _, page := range pages {
		if err := w.ProcessFile(ctx, page); err != nil {
			slog.Warn("Failed to process page", "path", page, "error", err)
			failed = append(failed, filepath.Base(page))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to process %d pages: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// ProcessFile reconciles one page now, bypassing the debounce. A page
// that no longer exists is not an error.
func (w *Watcher) ProcessFile(ctx context.Context, path string) error {
	eng, err := w.engineFor(path)
	if err == nil {
		_, err = eng.Flush(ctx)
	}
	if errors.Is(err, fs.ErrNotExist) {
		w.forget(path)
		return nil
	}
	return err
}

// write stores the reconciled page. Output identical to what is already
// on disk is not rewritten, so in-place pages settle.
func (w *Watcher) write(path string, eng *engine.Engine, sum engine.Summary) error {
	out, err := eng.Render()
	if err != nil {
		return err
	}

	target := w.outputPath(path)
	if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, []byte(out)) {
		slog.Debug("Page unchanged", "path", path)
		return nil
	}

	if err := writeAtomic(target, []byte(out)); err != nil {
		return err
	}

	slog.Info("Page filtered", "path", path, "out", target, "items", sum.Items, "wrapped", sum.Wrapped)
	return nil
}

func readPage(path string) (*html.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	return dom.Parse(bytes.NewReader(data))
}

func (w *Watcher) pages() ([]string, error) {
	pages, err := filepath.Glob(filepath.Join(w.dir, pagePattern))
	if err != nil {
		return nil, fmt.Errorf("failed to find pages: %w", err)
	}
	return pages, nil
}

func (w *Watcher) outputDir() string {
	if w.outDir == "" {
		return w.dir
	}
	return w.outDir
}

func (w *Watcher) outputPath(path string) string {
	return filepath.Join(w.outputDir(), filepath.Base(path))
}

func isPage(path string) bool {
	ok, _ := filepath.Match(pagePattern, filepath.Base(path))
	return ok
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set page permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace page: %w", err)
	}
	return nil
}
