package engine

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/net/html"

	"github.com/lysyi3m/tag-comb/app/canon"
	"github.com/lysyi3m/tag-comb/app/dom"
)

type Kind int

const (
	Click Kind = iota
	PointerDown
	KeyDown
)

func (k Kind) String() string {
	switch k {
	case Click:
		return "click"
	case PointerDown:
		return "pointerdown"
	case KeyDown:
		return "keydown"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{Click, PointerDown, KeyDown} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown interaction kind %q", s)
}

// Interaction is a user gesture delivered by the host. Target is the node
// the gesture landed on; handlers locate their element from there.
type Interaction struct {
	Kind   Kind
	Target *html.Node
	Key    string // for KeyDown: "Enter", " " or "Space"
	Alt    bool
}

// Outcome tells the host what to do with the native gesture.
type Outcome struct {
	Handled            bool   `json:"handled"`
	DefaultPrevented   bool   `json:"default_prevented"`
	PropagationStopped bool   `json:"propagation_stopped"`
	Tag                string `json:"tag,omitempty"` // tag hidden by the gesture, if any
}

type delegate func(ctx context.Context, in Interaction) (Outcome, bool)

// Attach enables the page-wide click delegates. Calling it again has no
// effect.
func (e *Engine) Attach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attached {
		return
	}
	e.attached = true
	slog.Debug("Click delegates attached")
}

// Dispatch routes a gesture through the delegates in capture order:
// the hide icon, then Alt+click on a tag link, then banner toggles.
func (e *Engine) Dispatch(ctx context.Context, in Interaction) Outcome {
	if in.Target == nil {
		return Outcome{}
	}

	e.mu.Lock()
	attached := e.attached
	e.mu.Unlock()

	var delegates []delegate
	if attached {
		delegates = append(delegates, e.onIconClick, e.onAltClick)
	}
	delegates = append(delegates, e.onFold)

	for _, d := range delegates {
		if out, ok := d(ctx, in); ok {
			return out
		}
	}
	return Outcome{}
}

func (e *Engine) onIconClick(ctx context.Context, in Interaction) (Outcome, bool) {
	if in.Kind != Click {
		return Outcome{}, false
	}

	e.mu.Lock()
	icon := dom.Closest(in.Target, func(n *html.Node) bool { return dom.HasClass(n, classIcon) })
	tag := dom.AttrOr(icon, attrTag, "")
	e.mu.Unlock()

	if icon == nil {
		return Outcome{}, false
	}
	out := stopped()
	if tag == "" {
		return out, true
	}
	out.Tag = tag
	e.hideTag(ctx, tag)
	return out, true
}

func (e *Engine) onAltClick(ctx context.Context, in Interaction) (Outcome, bool) {
	if in.Kind != Click || !in.Alt {
		return Outcome{}, false
	}

	e.mu.Lock()
	anchor := dom.Closest(in.Target, e.tagMatcher.Match)
	tag, ok := "", false
	if anchor != nil {
		tag, ok = e.canonicalize(anchor)
	}
	e.mu.Unlock()

	if anchor == nil || !ok {
		return Outcome{}, false
	}
	out := stopped()
	out.Tag = tag
	e.hideTag(ctx, tag)
	return out, true
}

// onFold toggles a banner on pointer-down, Enter or Space. A click that
// lands on a banner only has its default suppressed, since the toggle
// already happened on pointer-down.
func (e *Engine) onFold(ctx context.Context, in Interaction) (Outcome, bool) {
	e.mu.Lock()
	fold := dom.Closest(in.Target, isManagedFold)
	if fold == nil {
		e.mu.Unlock()
		return Outcome{}, false
	}

	out := Outcome{Handled: true, DefaultPrevented: true}
	switch in.Kind {
	case Click:
		e.mu.Unlock()
		return out, true
	case KeyDown:
		if !isToggleKey(in.Key) {
			e.mu.Unlock()
			return Outcome{}, false
		}
	}

	item := fold.Parent
	expanded, toggled := e.toggle(item)
	workID := dom.AttrOr(item, attrWorkID, "")
	listeners := e.listeners
	e.mu.Unlock()

	if toggled && expanded {
		emit(listeners, []Event{newEvent(EventWorkVisible, workID, nil)})
	}
	return out, true
}

func isManagedFold(n *html.Node) bool {
	return dom.HasClass(n, classFold) && n.Parent != nil && isWrapped(n.Parent)
}

func isToggleKey(key string) bool {
	return key == "Enter" || key == " " || key == "Space"
}

func stopped() Outcome {
	return Outcome{Handled: true, DefaultPrevented: true, PropagationStopped: true}
}

// hideTag adds tag to the blocklist and refreshes the page.
func (e *Engine) hideTag(ctx context.Context, tag string) {
	e.store.AddHiddenTag(ctx, tag)
	tagsHiddenByUser.Inc()

	e.EnsureInlineIcons(ctx)
	e.Run(ctx)
	e.notifier.Notify(canon.HiddenReason([]string{tag}))
}
