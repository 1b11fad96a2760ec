package soup

// Page size bounds. Requested limits outside the range are clamped silently.
const (
	MinLimit = 20
	MaxLimit = 500
)

// EffectiveLimit clamps a client-supplied page size to [MinLimit, MaxLimit].
func EffectiveLimit(requested int) int {
	return min(max(requested, MinLimit), MaxLimit)
}

// Page is one slice of the feed plus the cursor that resumes after it.
type Page struct {
	Items []FrecencyItem
	Next  Cursor
	Limit int
}

// HasMore reports whether following Next can return more items.
func (p Page) HasMore() bool {
	return !p.Next.Done
}

// MatchFunc reports whether an item satisfies a compiled predicate.
type MatchFunc func(Item) bool

// FilterOn keeps the items accepted by match, preserving order. A nil match
// keeps everything. The input slice is not modified.
func FilterOn(items []FrecencyItem, match MatchFunc) []FrecencyItem {
	if match == nil {
		return items
	}
	out := make([]FrecencyItem, 0, len(items))
	for _, it := range items {
		if match(it.Item) {
			out = append(out, it)
		}
	}
	return out
}

// Paginate truncates items to limit and derives the cursor for the next call
// from the last retained item. template supplies the tag, sort key and
// predicate of the cursor being continued.
//
// Plain cursors advance to the item's sort key. Score-phase cursors advance to
// the item's score; if the last item carries no score the page has crossed
// into fallback order and the cursor moves to the fallback phase. Fallback
// cursors advance on last-updated. A short page marks the cursor Done.
func Paginate(items []FrecencyItem, limit int, template Cursor) Page {
	if len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []FrecencyItem{}
	}

	next := template
	if n := len(items); n > 0 {
		last := items[n-1]
		switch {
		case template.Regime == RegimePlain:
			next.After = &Position{Value: last.SortValue(template.Sort), ID: last.ID}
		case template.Phase == PhaseScore && last.Score != nil:
			score := *last.Score
			next.Threshold = &score
		default:
			next = next.toFallback(&Position{Value: last.UpdatedAt, ID: last.ID})
		}
	}
	if len(items) < limit {
		next.Done = true
	}

	return Page{Items: items, Next: next, Limit: limit}
}
