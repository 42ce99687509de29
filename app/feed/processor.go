package feed

import (
	"log/slog"
)

// Processor parses a feed document, drops entries carrying hidden tags and
// renders the remainder as RSS.
type Processor struct {
	parser    *Parser
	filterer  *Filterer
	generator *Generator
}

func NewProcessor() *Processor {
	return &Processor{
		parser:    NewParser(),
		filterer:  NewFilterer(),
		generator: NewGenerator(),
	}
}

func (p *Processor) Run(data []byte, hidden map[string]struct{}) (*Result, error) {
	metadata, items, err := p.parser.Run(data)
	if err != nil {
		return nil, err
	}

	items = p.filterer.Run(items, hidden)

	filtered := 0
	for _, item := range items {
		if item.IsFiltered {
			filtered++
			slog.Debug("Feed item filtered", "guid", item.GUID, "reason", item.FilterReason)
		}
	}

	rss, err := p.generator.Run(*metadata, items)
	if err != nil {
		return nil, err
	}

	return &Result{RSS: rss, Total: len(items), Filtered: filtered}, nil
}
