package feed

import (
	"github.com/lysyi3m/tag-comb/app/canon"
)

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run marks every item whose categories intersect hidden. Items are
// returned in their original order.
func (f *Filterer) Run(items []Item, hidden map[string]struct{}) []Item {
	result := make([]Item, 0, len(items))
	for _, item := range items {
		matched := f.matchedTags(item, hidden)
		item.IsFiltered = len(matched) > 0
		item.FilterReason = ""
		if item.IsFiltered {
			item.FilterReason = canon.HiddenReason(matched)
		}
		result = append(result, item)
	}
	return result
}

func (f *Filterer) matchedTags(item Item, hidden map[string]struct{}) []string {
	if len(hidden) == 0 {
		return nil
	}

	var matched []string
	for _, tag := range canon.CleanAll(item.Categories) {
		if _, ok := hidden[tag]; ok {
			matched = append(matched, tag)
		}
	}
	return matched
}

// Visible drops filtered items.
func Visible(items []Item) []Item {
	visible := make([]Item, 0, len(items))
	for _, item := range items {
		if !item.IsFiltered {
			visible = append(visible, item)
		}
	}
	return visible
}
