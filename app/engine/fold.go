package engine

import (
	"encoding/json"
	"log/slog"
	"strings"

	"golang.org/x/net/html"

	"github.com/lysyi3m/tag-comb/app/canon"
	"github.com/lysyi3m/tag-comb/app/dom"
)

const (
	attrWrapped = "data-tc-wrapped"
	attrStyle   = "data-tc-style"
	attrReasons = "data-tc-reasons"
	attrWorkID  = "data-tc-work"

	classWrapped = "tc-wrapped"
	classFold    = "tc-fold"
	classCut     = "tc-cut"
	classNote    = "tc-note"
	classReason  = "tc-reason"
	classHint    = "tc-hint"
	classSticky  = "tc-sticky"
	classLocked  = "tc-locked"
)

const (
	noteCollapsed = "This work is hidden."
	noteExpanded  = "This work was hidden."
	hintCollapsed = "Click or press Enter to show it."
	hintExpanded  = "Click or press Enter to hide it again."
	hintLocked    = "Visibility is managed elsewhere."
)

// ItemState is the observable state of one list item.
type ItemState struct {
	Wrapped  bool
	Expanded bool
	Locked   bool
	Reasons  []string
}

// StateOf reads the item state back from the markup the engine maintains.
func StateOf(item *html.Node) ItemState {
	fold, cut := parts(item)
	if fold == nil || cut == nil {
		return ItemState{}
	}
	st := ItemState{
		Wrapped:  true,
		Expanded: dom.AttrOr(fold, "aria-expanded", "false") == "true",
		Locked:   dom.HasClass(fold, classLocked),
	}
	if raw, ok := dom.Attr(fold, attrReasons); ok {
		if err := json.Unmarshal([]byte(raw), &st.Reasons); err != nil {
			slog.Debug("Banner reasons are unreadable", "work", dom.AttrOr(item, attrWorkID, ""), "error", err)
			st.Reasons = nil
		}
	}
	return st
}

func isWrapped(item *html.Node) bool {
	return dom.AttrOr(item, attrWrapped, "") == "true"
}

// parts returns the banner and cut container of a wrapped item.
func parts(item *html.Node) (fold, cut *html.Node) {
	if item == nil {
		return nil, nil
	}
	return dom.FirstChildWithClass(item, classFold), dom.FirstChildWithClass(item, classCut)
}

// ensureWrap converts a visible item into the wrapped layout, or repairs a
// partially wrapped one. created reports a visible-to-wrapped transition.
func (e *Engine) ensureWrap(item *html.Node) (fold, cut *html.Node, created bool) {
	fold, cut = parts(item)
	if isWrapped(item) && fold != nil && cut != nil {
		return fold, cut, false
	}

	if cut == nil {
		dom.Detach(fold)
		cut = dom.Element("div", "class", classCut)
		dom.MoveChildren(item, cut)
		item.AppendChild(cut)
		created = true
	}
	if fold == nil || fold.Parent != item {
		fold = newFold()
		item.InsertBefore(fold, cut)
	}

	if !isWrapped(item) {
		if style, ok := dom.Attr(item, "style"); ok {
			dom.SetAttr(item, attrStyle, style)
		}
		dom.SetAttr(item, attrWrapped, "true")
		dom.AddClass(item, classWrapped)
	}
	dom.SetAttr(item, "style", e.forcedStyle(dom.AttrOr(item, attrStyle, "")))

	return fold, cut, created
}

func newFold() *html.Node {
	fold := dom.Element("div",
		"class", classFold,
		"role", "button",
		"tabindex", "0",
		"aria-expanded", "false",
	)
	for _, class := range []string{classNote, classReason, classHint} {
		fold.AppendChild(dom.Element("span", "class", class))
		fold.AppendChild(dom.Text(" "))
	}
	fold.RemoveChild(fold.LastChild)
	return fold
}

func (e *Engine) forcedStyle(original string) string {
	forced := "display: " + e.profile.Display.ItemDisplay + " !important"
	original = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(original), ";"))
	if original == "" {
		return forced
	}
	return original + "; " + forced
}

// updateBanner writes reasons, expansion and lock state into the banner.
func (e *Engine) updateBanner(item, fold, cut *html.Node, reasons []string, expanded bool) {
	workID := dom.AttrOr(item, attrWorkID, "")
	lockHint, locked := e.lockHint(workID)
	if locked {
		expanded = false
	}

	note, hint := noteCollapsed, hintCollapsed
	if expanded {
		note, hint = noteExpanded, hintExpanded
	}
	if locked {
		hint = lockHint
	}

	raw, _ := json.Marshal(reasons)
	dom.SetAttr(fold, attrReasons, string(raw))
	dom.SetAttr(fold, "aria-expanded", boolAttr(expanded))
	dom.ToggleClass(fold, classSticky, expanded)
	dom.ToggleClass(fold, classLocked, locked)
	if locked {
		dom.SetAttr(fold, "aria-disabled", "true")
	} else {
		dom.RemoveAttr(fold, "aria-disabled")
	}

	setPart(fold, classNote, note)
	setPart(fold, classReason, canon.HiddenReason(reasons))
	setPart(fold, classHint, hint)

	dom.SetFlag(cut, "hidden", !expanded)
}

func setPart(fold *html.Node, class, text string) {
	part := dom.FirstChildWithClass(fold, class)
	if part == nil {
		part = dom.Element("span", "class", class)
		fold.AppendChild(part)
	}
	dom.SetText(part, text)
}

func boolAttr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// toggle flips a wrapped item between collapsed and expanded. Locked
// banners are inert.
func (e *Engine) toggle(item *html.Node) (expanded, ok bool) {
	fold, cut := parts(item)
	if fold == nil || cut == nil {
		return false, false
	}
	st := StateOf(item)
	if st.Locked {
		return st.Expanded, false
	}
	e.updateBanner(item, fold, cut, st.Reasons, !st.Expanded)
	return !st.Expanded, true
}

// unwrap restores the item to its original layout. It is a no-op for
// items that are not wrapped.
func (e *Engine) unwrap(item *html.Node) bool {
	fold, cut := parts(item)
	if !isWrapped(item) && fold == nil && cut == nil {
		return false
	}

	if cut != nil {
		for c := cut.FirstChild; c != nil; {
			next := c.NextSibling
			cut.RemoveChild(c)
			item.InsertBefore(c, cut)
			c = next
		}
		dom.Detach(cut)
	}
	dom.Detach(fold)

	if style, ok := dom.Attr(item, attrStyle); ok {
		dom.SetAttr(item, "style", style)
		dom.RemoveAttr(item, attrStyle)
	} else {
		dom.RemoveAttr(item, "style")
	}
	dom.RemoveAttr(item, attrWrapped)
	dom.RemoveAttr(item, attrWorkID)
	dom.RemoveClass(item, classWrapped)

	return true
}
