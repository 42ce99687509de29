package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Run parses an Atom, RSS or JSON feed document.
func (p *Parser) Run(data []byte) (*Metadata, []Item, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	metadata := &Metadata{
		Title:           feed.Title,
		Link:            feed.Link,
		FeedLink:        feed.FeedLink,
		Description:     feed.Description,
		Language:        feed.Language,
		FeedPublishedAt: feed.PublishedParsed,
		FeedUpdatedAt:   feed.UpdatedParsed,
	}
	if feed.Image != nil {
		metadata.ImageURL = feed.Image.URL
	}

	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		items = append(items, p.normalizeItem(entry))
	}

	return metadata, items, nil
}

func (p *Parser) normalizeItem(entry *gofeed.Item) Item {
	item := Item{
		GUID:        cmp.Or(entry.GUID, entry.Link),
		Title:       entry.Title,
		Link:        entry.Link,
		Description: entry.Description,
		Content:     entry.Content,
		UpdatedAt:   entry.UpdatedParsed,
		Authors:     p.extractAuthors(entry),
		Categories:  entry.Categories,
	}

	// Atom work feeds often carry only <updated>
	switch {
	case entry.PublishedParsed != nil:
		item.PublishedAt = *entry.PublishedParsed
	case entry.UpdatedParsed != nil:
		item.PublishedAt = *entry.UpdatedParsed
	}

	return item
}

func (p *Parser) extractAuthors(entry *gofeed.Item) []string {
	var authors []string

	people := entry.Authors
	if len(people) == 0 && entry.Author != nil {
		people = []*gofeed.Person{entry.Author}
	}
	for _, person := range people {
		if person == nil {
			continue
		}
		if s := formatAuthor(person.Name, person.Email); s != "" {
			authors = append(authors, s)
		}
	}

	return authors
}

func formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	switch {
	case name != "" && email != "":
		return fmt.Sprintf("%s (%s)", email, name)
	case name != "":
		return name
	default:
		return email
	}
}
