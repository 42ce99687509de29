package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/lysyi3m/tag-comb/app/dom"
	"github.com/lysyi3m/tag-comb/app/profile"
	"github.com/lysyi3m/tag-comb/app/store"
)

const listing = `<html><head></head><body><ol class="index">` +
	`<li class="work blurb" id="work_1"><h4><a href="/works/1">One</a></h4>` +
	`<ul class="tags"><li><a class="tag" href="/tags/Angst/works">Angst</a></li>` +
	`<li><a class="tag" href="/tags/Fluff/works">Fluff</a></li></ul></li>` +
	`<li class="work blurb" id="work_2"><h4><a href="/works/2">Two</a></h4>` +
	`<ul class="tags"><li><a class="tag" href="/tags/Time%20Travel/works">Time Travel</a></li></ul></li>` +
	`</ol></body></html>`

type recorder struct {
	mu       sync.Mutex
	events   []Event
	messages []string
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type coordinator struct {
	visible map[string]bool
	reasons map[string][]string
}

func (c coordinator) ShouldBeVisible(id string) bool { return c.visible[id] }

func (c coordinator) GetReasons(id string) []string { return c.reasons[id] }

func newTestEngine(t *testing.T, page string, opts Options) (*Engine, *store.Store, *recorder) {
	t.Helper()

	doc, err := dom.ParseString(page)
	require.NoError(t, err)

	st := store.New(store.NewMemory(), store.NewMemory(), "")
	rec := &recorder{}
	if opts.Notifier == nil {
		opts.Notifier = rec
	}
	opts.Listeners = append(opts.Listeners, rec.listen)

	e, err := New(doc, st, opts)
	require.NoError(t, err)
	return e, st, rec
}

func find(e *Engine, sel string) *html.Node {
	nodes := goquery.NewDocumentFromNode(e.Document()).Find(sel).Nodes
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func TestScenarioAWrapsMatchingItem(t *testing.T) {
	ctx := context.Background()
	e, st, rec := newTestEngine(t, listing, Options{})
	st.SetHidden(ctx, []string{"angst"})

	sum := e.Run(ctx)
	assert.Equal(t, Summary{Items: 2, Wrapped: 1, Created: 1}, sum)

	states := e.Items()
	require.Len(t, states, 2)
	assert.Equal(t, ItemState{Wrapped: true, Reasons: []string{"angst"}}, states[0])
	assert.False(t, states[1].Wrapped)

	item := find(e, "#work_1")
	assert.True(t, dom.HasClass(item, classWrapped))
	assert.Equal(t, "display: list-item !important", dom.AttrOr(item, "style", ""))

	fold, cut := parts(item)
	require.NotNil(t, fold)
	require.NotNil(t, cut)
	assert.Equal(t, fold, item.FirstChild)
	assert.True(t, dom.HasAttr(cut, "hidden"))
	assert.Equal(t, "false", dom.AttrOr(fold, "aria-expanded", ""))
	assert.Equal(t, "Hidden tag: angst", dom.TextContent(dom.FirstChildWithClass(fold, classReason)))

	require.Equal(t, []EventType{EventWorkHidden}, rec.types())
	ev := rec.events[0]
	assert.Equal(t, "1", ev.WorkID)
	assert.Equal(t, OriginTag, ev.By)
	assert.Equal(t, []string{"angst"}, ev.Reasons)
	assert.NotEmpty(t, ev.ID)
}

func TestScenarioBUnwrapRestoresMarkup(t *testing.T) {
	ctx := context.Background()
	e, st, rec := newTestEngine(t, listing, Options{})
	before, err := e.Render()
	require.NoError(t, err)

	st.SetHidden(ctx, []string{"angst"})
	e.Run(ctx)

	st.SetHidden(ctx, nil)
	sum := e.Run(ctx)
	assert.Equal(t, 1, sum.Unwrapped)
	assert.Equal(t, 0, sum.Wrapped)

	after, err := e.Render()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []EventType{EventWorkHidden, EventWorkVisible}, rec.types())
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, st, rec := newTestEngine(t, listing, Options{})
	st.SetHidden(ctx, []string{"angst", "time travel"})

	first := e.Run(ctx)
	assert.Equal(t, 2, first.Created)
	once, err := e.Render()
	require.NoError(t, err)

	second := e.Run(ctx)
	assert.Equal(t, Summary{Items: 2, Wrapped: 2}, second)
	twice, err := e.Render()
	require.NoError(t, err)
	assert.Equal(t, once, twice)
	assert.Len(t, rec.types(), 2)
}

func TestReasonsFollowDocumentOrderAndKeepExpansion(t *testing.T) {
	ctx := context.Background()
	e, st, _ := newTestEngine(t, listing, Options{})
	st.SetHidden(ctx, []string{"angst"})
	e.Run(ctx)

	fold, _ := parts(find(e, "#work_1"))
	out := e.Dispatch(ctx, Interaction{Kind: PointerDown, Target: fold.FirstChild})
	assert.True(t, out.Handled)
	assert.True(t, e.Items()[0].Expanded)

	st.SetHidden(ctx, []string{"fluff", "angst"})
	e.Run(ctx)

	state := e.Items()[0]
	assert.True(t, state.Expanded)
	assert.Equal(t, []string{"angst", "fluff"}, state.Reasons)
	assert.Equal(t, "Hidden tags: angst, fluff", dom.TextContent(dom.FirstChildWithClass(fold, classReason)))
}

func TestWrappedItemsMatchOnlyCutContent(t *testing.T) {
	ctx := context.Background()
	e, st, _ := newTestEngine(t, listing, Options{})
	st.SetHidden(ctx, []string{"angst"})
	e.Run(ctx)

	fold, cut := parts(find(e, "#work_1"))
	fold.AppendChild(dom.Element("a", "class", "tag", "href", "/tags/Fluff"))

	st.SetHidden(ctx, []string{"angst", "fluff", "time travel"})
	assert.Equal(t, []string{"angst", "fluff"}, e.ReasonsFor(cut, st.HiddenSet(ctx)))

	fold.AppendChild(dom.Element("a", "class", "tag", "href", "/tags/Time%20Travel"))
	e.Run(ctx)
	assert.Equal(t, []string{"angst", "fluff"}, e.Items()[0].Reasons)
}

func TestOverrideKeepsItemVisible(t *testing.T) {
	ctx := context.Background()
	c := coordinator{visible: map[string]bool{"1": true}}
	e, st, _ := newTestEngine(t, listing, Options{Coordinator: c})
	st.SetHidden(ctx, []string{"angst", "time travel"})

	sum := e.Run(ctx)
	assert.Equal(t, 1, sum.Wrapped)
	assert.False(t, e.Items()[0].Wrapped)
	assert.True(t, e.Items()[1].Wrapped)
}

func TestOverrideUnwrapsWrappedItem(t *testing.T) {
	ctx := context.Background()
	c := coordinator{visible: map[string]bool{}}
	e, st, _ := newTestEngine(t, listing, Options{Coordinator: c})
	st.SetHidden(ctx, []string{"angst"})
	e.Run(ctx)
	require.True(t, e.Items()[0].Wrapped)

	c.visible["1"] = true
	sum := e.Run(ctx)
	assert.Equal(t, 1, sum.Unwrapped)
	assert.False(t, e.Items()[0].Wrapped)
}

func TestCoordinatorReasonsAreAppended(t *testing.T) {
	ctx := context.Background()
	c := coordinator{reasons: map[string][]string{"1": {"angst", "series"}}}
	e, st, _ := newTestEngine(t, listing, Options{Coordinator: c})
	st.SetHidden(ctx, []string{"angst"})

	e.Run(ctx)
	assert.Equal(t, []string{"angst", "series"}, e.Items()[0].Reasons)
}

func TestLockedBannerIgnoresToggle(t *testing.T) {
	ctx := context.Background()
	e, st, rec := newTestEngine(t, listing, Options{})
	st.SetHidden(ctx, []string{"angst"})
	e.Run(ctx)

	e.Lock("1", "")
	fold, _ := parts(find(e, "#work_1"))
	assert.True(t, dom.HasClass(fold, classLocked))
	assert.Equal(t, "true", dom.AttrOr(fold, "aria-disabled", ""))
	assert.Equal(t, hintLocked, dom.TextContent(dom.FirstChildWithClass(fold, classHint)))

	out := e.Dispatch(ctx, Interaction{Kind: PointerDown, Target: fold})
	assert.True(t, out.Handled)
	assert.False(t, e.Items()[0].Expanded)

	e.Unlock("1")
	assert.False(t, dom.HasAttr(fold, "aria-disabled"))
	e.Dispatch(ctx, Interaction{Kind: KeyDown, Key: "Enter", Target: fold})
	assert.True(t, e.Items()[0].Expanded)
	assert.Equal(t, []EventType{EventWorkHidden, EventWorkVisible}, rec.types())
}

func TestFoldKeyboardAndClick(t *testing.T) {
	ctx := context.Background()
	e, st, _ := newTestEngine(t, listing, Options{})
	st.SetHidden(ctx, []string{"angst"})
	e.Run(ctx)
	fold, cut := parts(find(e, "#work_1"))

	out := e.Dispatch(ctx, Interaction{Kind: KeyDown, Key: "a", Target: fold})
	assert.False(t, out.Handled)

	out = e.Dispatch(ctx, Interaction{Kind: Click, Target: fold})
	assert.True(t, out.DefaultPrevented)
	assert.False(t, e.Items()[0].Expanded)

	e.Dispatch(ctx, Interaction{Kind: KeyDown, Key: " ", Target: fold})
	assert.True(t, e.Items()[0].Expanded)
	assert.False(t, dom.HasAttr(cut, "hidden"))
	assert.True(t, dom.HasClass(fold, classSticky))

	e.Dispatch(ctx, Interaction{Kind: KeyDown, Key: "Enter", Target: fold})
	assert.False(t, e.Items()[0].Expanded)
	assert.True(t, dom.HasAttr(cut, "hidden"))
}

func TestStylePreservedAcrossWrap(t *testing.T) {
	ctx := context.Background()
	page := `<html><body><li class="blurb" id="work_9" style="color: red;">` +
		`<a class="tag" href="/tags/Angst">Angst</a></li></body></html>`
	e, st, _ := newTestEngine(t, page, Options{})
	st.SetHidden(ctx, []string{"angst"})

	e.Run(ctx)
	item := find(e, "#work_9")
	assert.Equal(t, "color: red; display: list-item !important", dom.AttrOr(item, "style", ""))

	st.SetHidden(ctx, nil)
	e.Run(ctx)
	assert.Equal(t, "color: red;", dom.AttrOr(item, "style", ""))
	assert.False(t, dom.HasAttr(item, attrStyle))
}

func TestNestedItemsAreSkipped(t *testing.T) {
	ctx := context.Background()
	page := `<html><body><ol>` +
		`<li class="blurb" id="work_1"><a class="tag" href="/tags/Angst">Angst</a>` +
		`<ul><li class="blurb" id="work_2"><a class="tag" href="/tags/Angst">Angst</a></li></ul></li>` +
		`</ol></body></html>`
	e, st, _ := newTestEngine(t, page, Options{})
	st.SetHidden(ctx, []string{"angst"})

	sum := e.Run(ctx)
	assert.Equal(t, Summary{Items: 1, Wrapped: 1, Created: 1}, sum)
}

func TestRegionLimitsManagedItems(t *testing.T) {
	ctx := context.Background()
	page := `<html><body>` +
		`<aside><li class="blurb" id="work_1"><a class="tag" href="/tags/Angst">Angst</a></li></aside>` +
		`<main><li class="blurb" id="work_2"><a class="tag" href="/tags/Angst">Angst</a></li></main>` +
		`</body></html>`
	p := profile.Default()
	p.Items.Region = "main"
	e, st, _ := newTestEngine(t, page, Options{Profile: p})
	st.SetHidden(ctx, []string{"angst"})

	e.Run(ctx)
	assert.False(t, isWrapped(find(e, "#work_1")))
	assert.True(t, isWrapped(find(e, "#work_2")))
}

func TestRepairsMissingBanner(t *testing.T) {
	ctx := context.Background()
	e, st, rec := newTestEngine(t, listing, Options{})
	st.SetHidden(ctx, []string{"angst"})
	e.Run(ctx)

	fold, _ := parts(find(e, "#work_1"))
	dom.Detach(fold)

	sum := e.Run(ctx)
	assert.Equal(t, 0, sum.Created)
	fold, cut := parts(find(e, "#work_1"))
	require.NotNil(t, fold)
	require.NotNil(t, cut)
	assert.Equal(t, []string{"angst"}, e.Items()[0].Reasons)
	assert.Len(t, rec.types(), 1)
}

func TestDebounceCoalescesBursts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var flushes atomic.Int32
	e, st, _ := newTestEngine(t, listing, Options{
		Debounce:   20 * time.Millisecond,
		AfterFlush: func(Summary) error { flushes.Add(1); return nil },
	})
	st.SetHidden(ctx, []string{"angst"})

	e.Start(ctx)
	e.Start(ctx)
	defer e.Stop()

	for i := 0; i < 10; i++ {
		e.ContentChanged()
	}

	require.Eventually(t, func() bool { return flushes.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), flushes.Load())
	assert.True(t, e.Items()[0].Wrapped)

	icon := find(e, "button."+classIcon)
	require.NotNil(t, icon)
}

func TestStopEndsLoop(t *testing.T) {
	var flushes atomic.Int32
	e, _, _ := newTestEngine(t, listing, Options{
		Debounce:   10 * time.Millisecond,
		AfterFlush: func(Summary) error { flushes.Add(1); return nil },
	})

	e.Start(context.Background())
	e.Stop()
	e.Stop()

	e.ContentChanged()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), flushes.Load())
}

func TestDamagedReasonsAttributeIsLogged(t *testing.T) {
	ctx := context.Background()
	e, st, _ := newTestEngine(t, listing, Options{})
	st.SetHidden(ctx, []string{"angst"})
	e.Run(ctx)

	item := find(e, "#work_1")
	fold, _ := parts(item)
	require.NotNil(t, fold)
	dom.SetAttr(fold, attrReasons, "{broken")

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	state := StateOf(item)
	assert.True(t, state.Wrapped)
	assert.Empty(t, state.Reasons)
	assert.Contains(t, buf.String(), "Banner reasons are unreadable")
	assert.Contains(t, buf.String(), "work=1")
}

func TestFlushReloadsPage(t *testing.T) {
	ctx := context.Background()
	page := listing
	var seen []int

	e, st, _ := newTestEngine(t, `<html><body></body></html>`, Options{
		Load: func() (*html.Node, error) { return dom.ParseString(page) },
		AfterFlush: func(sum Summary) error {
			seen = append(seen, sum.Wrapped)
			return nil
		},
	})
	st.SetHidden(ctx, []string{"angst"})

	sum, err := e.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Wrapped)
	require.NotNil(t, find(e, "#work_1"))

	page = `<html><head></head><body><ol class="index"></ol></body></html>`
	sum, err = e.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Items)
	assert.Nil(t, find(e, "#work_1"))
	assert.Equal(t, []int{1, 0}, seen)
}

func TestFlushReportsErrors(t *testing.T) {
	ctx := context.Background()
	errWrite := errors.New("disk full")

	e, _, _ := newTestEngine(t, listing, Options{
		AfterFlush: func(Summary) error { return errWrite },
	})
	_, err := e.Flush(ctx)
	assert.ErrorIs(t, err, errWrite)

	errRead := errors.New("page gone")
	e, _, _ = newTestEngine(t, listing, Options{
		Load: func() (*html.Node, error) { return nil, errRead },
	})
	_, err = e.Flush(ctx)
	assert.ErrorIs(t, err, errRead)
	require.NotNil(t, find(e, "#work_1"), "failed load keeps the previous page")
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{Click, PointerDown, KeyDown} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("hover")
	assert.Error(t, err)
}
