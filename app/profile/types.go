package profile

import (
	"regexp"

	"github.com/lysyi3m/tag-comb/app/canon"
)

// Profile describes how a listing site renders items and tag links.
type Profile struct {
	Name    string          // Derived from filename (without .yml extension)
	Items   ItemSettings    `yaml:"items"`
	Tags    TagSettings     `yaml:"tags"`
	WorkID  WorkIDSettings  `yaml:"work_id"`
	Display DisplaySettings `yaml:"display"`

	canonicalizer *canon.Canonicalizer
	idAttr        *regexp.Regexp
	idLink        *regexp.Regexp
}

type ItemSettings struct {
	Selector string `yaml:"selector"` // CSS selector for list items
	Region   string `yaml:"region"`   // CSS selector for the managed region
}

type TagSettings struct {
	Selector string            `yaml:"selector"` // CSS selector for tag anchors
	Pattern  string            `yaml:"pattern"`  // href pattern capturing the tag segment
	Markers  map[string]string `yaml:"markers"`  // escape marker -> literal
}

type WorkIDSettings struct {
	AttrPattern string `yaml:"attr_pattern"` // matched against the item id attribute
	LinkPattern string `yaml:"link_pattern"` // matched against anchor hrefs inside the item
}

type DisplaySettings struct {
	NoInlineIcons bool   `yaml:"no_inline_icons"`
	ItemDisplay   string `yaml:"item_display"` // CSS display forced on managed items
}

func (p *Profile) Canonicalizer() *canon.Canonicalizer {
	return p.canonicalizer
}

// WorkID extracts a work identifier from an item's id attribute or, failing
// that, from the first matching link href.
func (p *Profile) WorkID(idAttr string, hrefs []string) string {
	if p.idAttr != nil {
		if m := p.idAttr.FindStringSubmatch(idAttr); len(m) > 1 {
			return m[1]
		}
	}
	if p.idLink != nil {
		for _, href := range hrefs {
			if m := p.idLink.FindStringSubmatch(href); len(m) > 1 {
				return m[1]
			}
		}
	}
	return ""
}
