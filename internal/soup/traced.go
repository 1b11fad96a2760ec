package soup

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/soup/internal/tracing"
)

// tracedItems wraps an ItemRepository with a client span per call. Errors
// pass through untouched.
type tracedItems struct {
	next ItemRepository
}

func (t tracedItems) FetchBySort(ctx context.Context, q SortQuery) (items []Item, err error) {
	ctx, endSpan := tracing.StartClientSpan(ctx, "soup.items.fetch_by_sort",
		attribute.String("soup.sort", string(q.Sort)),
		attribute.Int("soup.limit", q.Limit),
		attribute.Bool("soup.exclude_scored", q.Exclude.Scored),
	)
	defer func() { endSpan(err) }()
	return t.next.FetchBySort(ctx, q)
}

func (t tracedItems) FetchByIDs(ctx context.Context, q IDQuery) (items []Item, err error) {
	ctx, endSpan := tracing.StartClientSpan(ctx, "soup.items.fetch_by_ids",
		attribute.Int("soup.ids", len(q.IDs)),
	)
	defer func() { endSpan(err) }()
	return t.next.FetchByIDs(ctx, q)
}

// tracedScorer wraps a RelevanceScorer with a client span per call.
type tracedScorer struct {
	next RelevanceScorer
}

func (t tracedScorer) Rank(ctx context.Context, q RankQuery) (res RankResult, err error) {
	ctx, endSpan := tracing.StartClientSpan(ctx, "soup.scorer.rank",
		attribute.Int("soup.limit", q.Limit),
		attribute.Bool("soup.first_page", q.Threshold == nil),
	)
	defer func() {
		tracing.SetAttributes(ctx,
			attribute.Int("soup.candidates", len(res.Candidates)),
			attribute.Bool("soup.exhausted", res.Exhausted),
		)
		endSpan(err)
	}()
	return t.next.Rank(ctx, q)
}
