package canon

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultPattern matches tag links such as /tags/Angst/works and captures the
// tag identifier segment.
const DefaultPattern = `^(?:https?://[^/]+)?/tags/([^/?#]+)`

// DefaultMarkers are the escape sequences the listing site uses for
// characters that cannot appear in a tag path segment.
var DefaultMarkers = map[string]string{
	"*a*": "&",
	"*s*": "/",
}

type Canonicalizer struct {
	pattern *regexp.Regexp
	markers *strings.Replacer
}

func New(pattern string, markers map[string]string) (*Canonicalizer, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile tag pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("tag pattern %q must capture the tag segment", pattern)
	}

	if markers == nil {
		markers = DefaultMarkers
	}

	keys := make([]string, 0, len(markers))
	for k := range markers {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, markers[k])
	}

	return &Canonicalizer{
		pattern: re,
		markers: strings.NewReplacer(pairs...),
	}, nil
}

var defaultCanonicalizer = func() *Canonicalizer {
	c, err := New(DefaultPattern, DefaultMarkers)
	if err != nil {
		panic(err)
	}
	return c
}()

func Default() *Canonicalizer {
	return defaultCanonicalizer
}

// Canonicalize turns a tag anchor href into its canonical tag. It reports
// false when the href is not a tag link or the tag is empty.
func (c *Canonicalizer) Canonicalize(href string) (string, bool) {
	m := c.pattern.FindStringSubmatch(strings.TrimSpace(href))
	if m == nil {
		return "", false
	}

	segment := m[1]
	decoded, err := url.QueryUnescape(segment)
	if err != nil {
		decoded = strings.ReplaceAll(segment, "+", " ")
	}

	tag := Clean(c.markers.Replace(decoded))
	if tag == "" {
		return "", false
	}
	return tag, true
}

// Clean normalizes free text into canonical form: entities decoded, NFC,
// whitespace collapsed, trimmed and lowercased. Canonicalize finishes with
// Clean so stored and matched tags always agree.
func Clean(s string) string {
	s = html.UnescapeString(s)
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		case '\u00a0':
			return ' '
		}
		return r
	}, s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// CleanAll cleans, drops empties and deduplicates, keeping first-seen order.
func CleanAll(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		c := Clean(t)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// HiddenReason describes why something carrying tags was hidden.
func HiddenReason(tags []string) string {
	if len(tags) == 1 {
		return "Hidden tag: " + tags[0]
	}
	return "Hidden tags: " + strings.Join(tags, ", ")
}
