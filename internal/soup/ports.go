package soup

import "context"

// Exclusion removes items from a plain-sort fetch. It is how the fallback
// avoids re-emitting items that belong to the relevance ordering.
type Exclusion struct {
	// IDs are excluded unconditionally.
	IDs []string
	// Scored excludes every entity that has ever had a frecency score for
	// the requesting user.
	Scored bool
}

// Empty reports whether the exclusion removes nothing.
func (e Exclusion) Empty() bool {
	return len(e.IDs) == 0 && !e.Scored
}

// SortQuery asks for up to Limit visible items ordered by Sort descending,
// strictly after After when set.
type SortQuery struct {
	UserID    string
	Scope     Scope
	Sort      SortKey
	After     *Position
	Limit     int
	Predicate Predicate
	Exclude   Exclusion
}

// IDQuery asks for the subset of IDs visible to UserID.
type IDQuery struct {
	UserID string
	Scope  Scope
	IDs    []string
}

// ItemRepository resolves items and enforces share-permission visibility.
type ItemRepository interface {
	// FetchBySort returns up to q.Limit items visible to the user, ordered by
	// q.Sort descending with the ID descending as tiebreaker.
	FetchBySort(ctx context.Context, q SortQuery) ([]Item, error)

	// FetchByIDs returns the visible subset of q.IDs in no particular order.
	// Missing or no longer visible IDs are omitted without error.
	FetchByIDs(ctx context.Context, q IDQuery) ([]Item, error)
}

// RankedCandidate is an entity ranked by the scoring service.
type RankedCandidate struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
}

// RankQuery asks for up to Limit candidates scored strictly below Threshold
// (or from the top when Threshold is nil).
type RankQuery struct {
	UserID    string
	Threshold *float64
	Limit     int
	Predicate Predicate
}

// RankResult is the scoring service's answer. Candidates are in descending
// score order without duplicate entity IDs. Exhausted is set when fewer than
// the requested number of candidates exist below the threshold.
type RankResult struct {
	Candidates []RankedCandidate
	Exhausted  bool
}

// RelevanceScorer is the external frecency scoring service.
type RelevanceScorer interface {
	Rank(ctx context.Context, q RankQuery) (RankResult, error)
}

// Matcher compiles a Predicate into an in-process item filter. It lets the
// feed reapply the caller's predicate to items fetched by ID, which the
// repository does not filter. A nil MatchFunc accepts every item.
type Matcher interface {
	Compile(p Predicate) (MatchFunc, error)
}
