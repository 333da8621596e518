package marketdata

import (
	"sort"

	"bourse/internal/types"
)

// Builder accumulates quote/depth/dividend records and produces an immutable
// InMemory source. Not safe for concurrent writes; the loader serializes all
// writes with a mutex even when parsing is parallelized.
type Builder struct {
	quotes    map[types.Timestamp]map[types.Symbol]types.Quote
	depth     map[types.Timestamp]map[types.Symbol]types.Depth
	dividends map[types.Timestamp][]types.Dividend
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		quotes:    make(map[types.Timestamp]map[types.Symbol]types.Quote),
		depth:     make(map[types.Timestamp]map[types.Symbol]types.Depth),
		dividends: make(map[types.Timestamp][]types.Dividend),
	}
}

// AddQuote records a plain BBO quote.
func (b *Builder) AddQuote(q types.Quote) {
	bysymbol, ok := b.quotes[q.Timestamp]
	if !ok {
		bysymbol = make(map[types.Symbol]types.Quote)
		b.quotes[q.Timestamp] = bysymbol
	}
	bysymbol[q.Symbol] = q
}

// AddDepth records a multi-level depth quote.
func (b *Builder) AddDepth(d types.Depth) {
	bysymbol, ok := b.depth[d.Timestamp]
	if !ok {
		bysymbol = make(map[types.Symbol]types.Depth)
		b.depth[d.Timestamp] = bysymbol
	}
	bysymbol[d.Symbol] = d
}

// AddDividend records a dividend due at a timestamp.
func (b *Builder) AddDividend(d types.Dividend) {
	b.dividends[d.Timestamp] = append(b.dividends[d.Timestamp], d)
}

// Build finalizes the accumulated records into an immutable InMemory source,
// computing the sorted, deduplicated date enumeration once up front.
func (b *Builder) Build() *InMemory {
	seen := make(map[types.Timestamp]struct{})
	for t := range b.quotes {
		seen[t] = struct{}{}
	}
	for t := range b.depth {
		seen[t] = struct{}{}
	}
	for t := range b.dividends {
		seen[t] = struct{}{}
	}
	dates := make([]types.Timestamp, 0, len(seen))
	for t := range seen {
		dates = append(dates, t)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })

	return &InMemory{
		dates:     dates,
		quotes:    b.quotes,
		depth:     b.depth,
		dividends: b.dividends,
	}
}
