// Package legend tallies categories for the map legend.
package legend

import "sheet-cluster-map/pkg/palette"

// Entry is one legend line.
type Entry struct {
	Category string `json:"category"`
	Color    string `json:"color"`
	Hex      string `json:"hex"`
	Count    int    `json:"count"`
}

// Builder counts markers per category in first-seen order.
type Builder struct {
	order   []string
	entries map[string]*Entry
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]*Entry)}
}

// Record counts one marker of category and stores its color.
func (b *Builder) Record(category, color string) {
	e, ok := b.entries[category]
	if !ok {
		e = &Entry{Category: category}
		b.entries[category] = e
		b.order = append(b.order, category)
	}
	e.Color = color
	e.Hex = palette.Hex(color)
	e.Count++
}

// Render returns a copy of the entries in first-seen order.
func (b *Builder) Render() []Entry {
	out := make([]Entry, 0, len(b.order))
	for _, cat := range b.order {
		out = append(out, *b.entries[cat])
	}
	return out
}

// Count returns the tally of category.
func (b *Builder) Count(category string) int {
	if e, ok := b.entries[category]; ok {
		return e.Count
	}
	return 0
}
