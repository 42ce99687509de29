package engine

import (
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/lysyi3m/tag-comb/app/dom"
)

// ReasonsFor returns the hidden tags found under scope, in document order
// and without duplicates. For a wrapped item scope must be its cut
// container so banner markup is never read as tags.
func (e *Engine) ReasonsFor(scope *html.Node, hidden map[string]struct{}) []string {
	if scope == nil || len(hidden) == 0 {
		return nil
	}

	var reasons []string
	seen := make(map[string]struct{})

	e.tagAnchors(scope).Each(func(_ int, s *goquery.Selection) {
		tag, ok := e.canonicalize(s.Get(0))
		if !ok {
			return
		}
		if _, hit := hidden[tag]; !hit {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		reasons = append(reasons, tag)
	})

	return reasons
}

func (e *Engine) tagAnchors(scope *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(scope).FindMatcher(e.tagMatcher)
}

func (e *Engine) canonicalize(anchor *html.Node) (string, bool) {
	href, ok := dom.Attr(anchor, "href")
	if !ok {
		return "", false
	}
	return e.profile.Canonicalizer().Canonicalize(href)
}

func toSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}
