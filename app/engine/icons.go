package engine

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/lysyi3m/tag-comb/app/dom"
)

const (
	attrIconed = "data-tc-iconed"
	attrTag    = "data-tc-tag"

	classIcon = "tc-hide-icon"
	classSep  = "tc-sep"

	iconGlyph = "\u00d7"
)

// EnsureInlineIcons places a hide control after every tag anchor in the
// managed region and keeps icon and separator visibility in step with the
// blocklist. It returns the number of anchors annotated by this call.
func (e *Engine) EnsureInlineIcons(ctx context.Context) int {
	if e.profile.Display.NoInlineIcons {
		return 0
	}
	hidden := toSet(e.store.GetHidden(ctx))

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.annotate(hidden)
}

func (e *Engine) annotate(hidden map[string]struct{}) int {
	added := 0
	for _, region := range e.regions() {
		for _, anchor := range e.tagAnchors(region).Nodes {
			tag, ok := e.canonicalize(anchor)
			if !ok {
				continue
			}

			icon := iconAfter(anchor)
			if icon == nil {
				icon = newIcon(tag)
				dom.InsertAfter(anchor, icon)
				splitSeparator(icon)
				dom.SetAttr(anchor, attrIconed, "true")
				added++
			}
			dom.SetAttr(icon, attrTag, tag)

			_, blocked := hidden[tag]
			dom.SetFlag(icon, "hidden", blocked)
			if sep := sepAfter(icon); sep != nil {
				dom.SetFlag(sep, "hidden", !blocked)
			}
		}
	}
	return added
}

func (e *Engine) regions() []*html.Node {
	return goquery.NewDocumentFromNode(e.doc).FindMatcher(e.regionMatcher).Nodes
}

func newIcon(tag string) *html.Node {
	icon := dom.Element("button",
		"type", "button",
		"class", classIcon,
		attrTag, tag,
		"title", "Hide works tagged "+tag,
		"aria-label", "Hide works tagged "+tag,
	)
	icon.AppendChild(dom.Text(iconGlyph))
	return icon
}

// iconAfter finds the icon previously placed after anchor, skipping
// whitespace-only text.
func iconAfter(anchor *html.Node) *html.Node {
	for n := anchor.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == html.TextNode && strings.TrimSpace(n.Data) == "" {
			continue
		}
		if dom.HasClass(n, classIcon) {
			return n
		}
		return nil
	}
	return nil
}

// sepAfter finds the separator span following icon, skipping
// whitespace-only text.
func sepAfter(icon *html.Node) *html.Node {
	for n := icon.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == html.TextNode && strings.TrimSpace(n.Data) == "" {
			continue
		}
		if dom.HasClass(n, classSep) {
			return n
		}
		return nil
	}
	return nil
}

// splitSeparator moves a decorative comma that follows the icon into its
// own span so it can be hidden while the icon is shown. Whitespace around
// the comma stays as text.
func splitSeparator(icon *html.Node) {
	next := icon.NextSibling
	if next == nil || next.Type != html.TextNode {
		return
	}
	trimmed := strings.TrimLeft(next.Data, " \t\n")
	if !strings.HasPrefix(trimmed, ",") {
		return
	}
	lead := next.Data[:len(next.Data)-len(trimmed)]
	rest := trimmed[1:]

	sep := dom.Element("span", "class", classSep)
	sep.AppendChild(dom.Text(","))

	if lead == "" {
		icon.Parent.InsertBefore(sep, next)
		if rest == "" {
			next.Parent.RemoveChild(next)
			return
		}
		next.Data = rest
		return
	}

	next.Data = lead
	dom.InsertAfter(next, sep)
	if rest != "" {
		dom.InsertAfter(sep, dom.Text(rest))
	}
}
