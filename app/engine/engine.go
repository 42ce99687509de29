// Package engine hides list items on a parsed listing page when they carry
// a blocked tag, and keeps the page consistent as content or the blocklist
// changes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/lysyi3m/tag-comb/app/dom"
	"github.com/lysyi3m/tag-comb/app/profile"
)

// DefaultDebounce is the quiet period between a content change and the
// reconciliation it triggers.
const DefaultDebounce = 250 * time.Millisecond

// TagStore is the part of the persistent store the engine reads and writes.
type TagStore interface {
	GetHidden(ctx context.Context) []string
	AddHiddenTag(ctx context.Context, tag string) []string
}

type Options struct {
	Profile     *profile.Profile
	Coordinator VisibilityCoordinator
	Notifier    Notifier
	Listeners   []Listener
	Debounce    time.Duration

	// Load, when set, supplies a fresh copy of the page before every flush.
	// Hosts whose page lives outside the process (a file, say) use it.
	Load func() (*html.Node, error)

	// AfterFlush runs after every flush, outside the page lock. Its error
	// is reported by Flush.
	AfterFlush func(Summary) error
}

// Summary describes one reconciliation pass.
type Summary struct {
	Items     int // managed items found
	Wrapped   int // items wrapped after the pass
	Created   int // items newly wrapped by the pass
	Unwrapped int // items restored by the pass
}

type Engine struct {
	doc         *html.Node
	store       TagStore
	profile     *profile.Profile
	coordinator VisibilityCoordinator
	notifier    Notifier
	listeners   []Listener
	debounce    time.Duration
	load        func() (*html.Node, error)
	afterFlush  func(Summary) error

	regionMatcher cascadia.SelectorGroup
	itemMatcher   cascadia.SelectorGroup
	tagMatcher    cascadia.SelectorGroup

	mu       sync.Mutex
	locks    map[string]string
	attached bool
	started  bool
	changes  chan struct{}
	stop     chan struct{}
	done     chan struct{}
}

func New(doc *html.Node, st TagStore, opts Options) (*Engine, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store is nil")
	}

	p := opts.Profile
	if p == nil {
		p = profile.Default()
	}

	e := &Engine{
		doc:         doc,
		store:       st,
		profile:     p,
		coordinator: opts.Coordinator,
		notifier:    opts.Notifier,
		listeners:   opts.Listeners,
		debounce:    opts.Debounce,
		load:        opts.Load,
		afterFlush:  opts.AfterFlush,
		locks:       make(map[string]string),
		changes:     make(chan struct{}, 64),
	}
	if e.notifier == nil {
		e.notifier = logNotifier{}
	}
	if e.debounce <= 0 {
		e.debounce = DefaultDebounce
	}

	var err error
	if e.regionMatcher, err = cascadia.ParseGroup(p.Items.Region); err != nil {
		return nil, fmt.Errorf("invalid region selector: %w", err)
	}
	if e.itemMatcher, err = cascadia.ParseGroup(p.Items.Selector); err != nil {
		return nil, fmt.Errorf("invalid item selector: %w", err)
	}
	if e.tagMatcher, err = cascadia.ParseGroup(p.Tags.Selector); err != nil {
		return nil, fmt.Errorf("invalid tag selector: %w", err)
	}

	return e, nil
}

func (e *Engine) Document() *html.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc
}

func (e *Engine) Profile() *profile.Profile { return e.profile }

// Render serialises the page under the page lock.
func (e *Engine) Render() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return dom.Render(e.doc)
}

// Subscribe adds an event listener.
func (e *Engine) Subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Run reconciles every managed item with the current blocklist. The
// blocklist is read once per pass.
func (e *Engine) Run(ctx context.Context) Summary {
	hidden := toSet(e.store.GetHidden(ctx))

	e.mu.Lock()
	start := time.Now()
	sum, events := e.reconcile(hidden)
	reconcileDuration.Observe(time.Since(start).Seconds())
	listeners := e.listeners
	e.mu.Unlock()

	reconcileRuns.Inc()
	itemsWrapped.Add(float64(sum.Created))
	itemsUnwrapped.Add(float64(sum.Unwrapped))

	slog.Debug("Reconciled", "items", sum.Items, "wrapped", sum.Wrapped, "created", sum.Created, "unwrapped", sum.Unwrapped)

	emit(listeners, events)
	return sum
}

func (e *Engine) reconcile(hidden map[string]struct{}) (Summary, []Event) {
	var sum Summary
	var events []Event

	for _, item := range e.items() {
		sum.Items++

		scope := item
		if _, cut := parts(item); isWrapped(item) && cut != nil {
			scope = cut
		}
		reasons := e.ReasonsFor(scope, hidden)
		workID := e.workID(item)

		if len(reasons) > 0 && e.coordinator != nil && workID != "" && e.coordinator.ShouldBeVisible(workID) {
			reasons = nil
		}

		if len(reasons) == 0 {
			if e.unwrap(item) {
				sum.Unwrapped++
				events = append(events, newEvent(EventWorkVisible, workID, nil))
			}
			continue
		}

		if e.coordinator != nil && workID != "" {
			reasons = appendUnique(reasons, e.coordinator.GetReasons(workID))
		}

		expanded := StateOf(item).Expanded
		fold, cut, created := e.ensureWrap(item)
		if workID != "" {
			dom.SetAttr(item, attrWorkID, workID)
		}
		e.updateBanner(item, fold, cut, reasons, expanded && !created)

		sum.Wrapped++
		if created {
			sum.Created++
			events = append(events, newEvent(EventWorkHidden, workID, reasons))
		}
	}

	return sum, events
}

// items lists managed items in document order, skipping items nested in
// other items.
func (e *Engine) items() []*html.Node {
	found := goquery.NewDocumentFromNode(e.doc).
		FindMatcher(e.regionMatcher).
		FindMatcher(e.itemMatcher).
		Nodes

	set := make(map[*html.Node]struct{}, len(found))
	for _, n := range found {
		set[n] = struct{}{}
	}

	items := make([]*html.Node, 0, len(found))
	for _, n := range found {
		nested := false
		for p := n.Parent; p != nil; p = p.Parent {
			if _, ok := set[p]; ok {
				nested = true
				break
			}
		}
		if !nested {
			items = append(items, n)
		}
	}
	return items
}

func (e *Engine) workID(item *html.Node) string {
	var hrefs []string
	goquery.NewDocumentFromNode(item).Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		hrefs = append(hrefs, s.AttrOr("href", ""))
	})
	return e.profile.WorkID(dom.AttrOr(item, "id", ""), hrefs)
}

// Items reports the state of every managed item keyed by position.
func (e *Engine) Items() []ItemState {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := e.items()
	states := make([]ItemState, 0, len(items))
	for _, item := range items {
		states = append(states, StateOf(item))
	}
	return states
}

// Lock disables toggling on banners of the given work, showing hint
// instead of the usual instructions. An empty hint uses the default.
func (e *Engine) Lock(workID, hint string) {
	if hint == "" {
		hint = hintLocked
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locks[workID] = hint
	e.refreshBanners(workID)
}

func (e *Engine) Unlock(workID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, workID)
	e.refreshBanners(workID)
}

func (e *Engine) lockHint(workID string) (string, bool) {
	if workID == "" {
		return "", false
	}
	hint, ok := e.locks[workID]
	return hint, ok
}

func (e *Engine) refreshBanners(workID string) {
	for _, item := range e.items() {
		if dom.AttrOr(item, attrWorkID, "") != workID {
			continue
		}
		fold, cut := parts(item)
		if fold == nil || cut == nil {
			continue
		}
		st := StateOf(item)
		e.updateBanner(item, fold, cut, st.Reasons, st.Expanded)
	}
}

func emit(listeners []Listener, events []Event) {
	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

func appendUnique(base, extra []string) []string {
	seen := toSet(base)
	for _, r := range extra {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		base = append(base, r)
	}
	return base
}
