package engine

import (
	"context"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/lysyi3m/tag-comb/app/dom"
	"github.com/lysyi3m/tag-comb/app/profile"
)

const commaTags = `<html><body><li class="blurb" id="work_5">` +
	`<a class="tag" href="/tags/Angst">Angst</a>, <a class="tag" href="/tags/Fluff">Fluff</a>` +
	`</li></body></html>`

func TestEnsureInlineIconsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, listing, Options{})

	assert.Equal(t, 3, e.EnsureInlineIcons(ctx))
	once, err := e.Render()
	require.NoError(t, err)

	assert.Equal(t, 0, e.EnsureInlineIcons(ctx))
	twice, err := e.Render()
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	icons := goquery.NewDocumentFromNode(e.Document()).Find("button." + classIcon)
	require.Equal(t, 3, icons.Length())
	assert.Equal(t, "time travel", icons.Last().AttrOr(attrTag, ""))
	assert.Equal(t, "button", icons.First().AttrOr("type", ""))
	assert.Equal(t, 3, goquery.NewDocumentFromNode(e.Document()).Find(`a[data-tc-iconed="true"]`).Length())
}

func TestCommaSeparatorFollowsIconVisibility(t *testing.T) {
	ctx := context.Background()
	e, st, _ := newTestEngine(t, commaTags, Options{})

	e.EnsureInlineIcons(ctx)
	angst := find(e, `a[href="/tags/Angst"]`)
	icon := angst.NextSibling
	require.True(t, dom.HasClass(icon, classIcon))
	sep := icon.NextSibling
	require.True(t, dom.HasClass(sep, classSep))
	assert.Equal(t, ",", dom.TextContent(sep))
	assert.Equal(t, " ", sep.NextSibling.Data)

	assert.False(t, dom.HasAttr(icon, "hidden"))
	assert.True(t, dom.HasAttr(sep, "hidden"))

	st.SetHidden(ctx, []string{"angst"})
	e.EnsureInlineIcons(ctx)
	assert.True(t, dom.HasAttr(icon, "hidden"))
	assert.False(t, dom.HasAttr(sep, "hidden"))

	fluffIcon := find(e, `a[href="/tags/Fluff"]`).NextSibling
	assert.False(t, dom.HasAttr(fluffIcon, "hidden"))
	assert.Nil(t, sepAfter(fluffIcon))
}

func TestSeparatorKeepsSurroundingWhitespace(t *testing.T) {
	ctx := context.Background()
	page := `<html><body><li class="blurb" id="work_6">` +
		`<a class="tag" href="/tags/Foo">Foo</a>  , <a class="tag" href="/tags/Bar">Bar</a>` +
		`</li></body></html>`
	e, st, _ := newTestEngine(t, page, Options{})

	e.EnsureInlineIcons(ctx)
	icon := find(e, `a[href="/tags/Foo"]`).NextSibling
	require.True(t, dom.HasClass(icon, classIcon))

	lead := icon.NextSibling
	require.Equal(t, html.TextNode, lead.Type)
	assert.Equal(t, "  ", lead.Data)

	sep := sepAfter(icon)
	require.NotNil(t, sep)
	assert.Same(t, lead.NextSibling, sep)
	assert.Equal(t, " ", sep.NextSibling.Data)
	assert.True(t, dom.HasAttr(sep, "hidden"))

	st.SetHidden(ctx, []string{"foo"})
	e.EnsureInlineIcons(ctx)
	assert.False(t, dom.HasAttr(sep, "hidden"))

	before, err := e.Render()
	require.NoError(t, err)
	assert.Equal(t, 0, e.EnsureInlineIcons(ctx))
	after, err := e.Render()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInlineIconsDisabledByProfile(t *testing.T) {
	p := profile.Default()
	p.Display.NoInlineIcons = true
	e, _, _ := newTestEngine(t, listing, Options{Profile: p})

	assert.Equal(t, 0, e.EnsureInlineIcons(context.Background()))
	assert.Nil(t, find(e, "button."+classIcon))
}

func TestScenarioDHideIconClick(t *testing.T) {
	ctx := context.Background()
	e, st, rec := newTestEngine(t, listing, Options{})
	e.Attach()
	e.EnsureInlineIcons(ctx)

	icon := find(e, `button[data-tc-tag="time travel"]`)
	require.NotNil(t, icon)

	out := e.Dispatch(ctx, Interaction{Kind: Click, Target: icon.FirstChild})
	assert.Equal(t, Outcome{Handled: true, DefaultPrevented: true, PropagationStopped: true, Tag: "time travel"}, out)

	assert.Contains(t, st.GetHidden(ctx), "time travel")
	assert.True(t, e.Items()[1].Wrapped)
	assert.Equal(t, []string{"time travel"}, e.Items()[1].Reasons)
	assert.Equal(t, []string{"Hidden tag: time travel"}, rec.messages)
	assert.True(t, dom.HasAttr(icon, "hidden"))
}

func TestAltClickOnTagHides(t *testing.T) {
	ctx := context.Background()
	e, st, _ := newTestEngine(t, listing, Options{})
	e.Attach()
	e.Attach()

	anchor := find(e, `a[href="/tags/Fluff/works"]`)
	out := e.Dispatch(ctx, Interaction{Kind: Click, Alt: true, Target: anchor.FirstChild})
	assert.True(t, out.PropagationStopped)
	assert.Equal(t, "fluff", out.Tag)
	assert.Equal(t, []string{"fluff"}, st.GetHidden(ctx))
	assert.True(t, e.Items()[0].Wrapped)

	out = e.Dispatch(ctx, Interaction{Kind: Click, Target: find(e, `a[href="/tags/Angst/works"]`)})
	assert.False(t, out.Handled)
}

func TestDelegatesInactiveUntilAttached(t *testing.T) {
	ctx := context.Background()
	e, st, _ := newTestEngine(t, listing, Options{})
	e.EnsureInlineIcons(ctx)

	out := e.Dispatch(ctx, Interaction{Kind: Click, Target: find(e, "button."+classIcon)})
	assert.False(t, out.Handled)
	assert.Empty(t, st.GetHidden(ctx))

	out = e.Dispatch(ctx, Interaction{Kind: Click, Target: nil})
	assert.Equal(t, Outcome{}, out)
}
