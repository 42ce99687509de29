package feed

import (
	"time"
)

type Metadata struct {
	Title           string
	Link            string
	FeedLink        string
	Description     string
	ImageURL        string
	Language        string
	FeedPublishedAt *time.Time
	FeedUpdatedAt   *time.Time
}

type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	PublishedAt time.Time
	UpdatedAt   *time.Time
	Authors     []string // "email (name)" or "name"
	Categories  []string // as published; matching uses their canonical form

	IsFiltered   bool
	FilterReason string
}

// Result is the outcome of filtering one feed document.
type Result struct {
	RSS      string
	Total    int
	Filtered int
}
