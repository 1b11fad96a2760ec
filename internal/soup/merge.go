package soup

import "context"

// DefaultMaxRankRounds bounds how many times one page asks the scoring
// service for more candidates when ranked items turn out to be invisible.
const DefaultMaxRankRounds = 4

// Join attaches scores to fetched items in candidate order. Candidates with
// no matching item (deleted, or access revoked since the scoring service
// indexed them) are dropped and counted in missing. A repeated candidate ID
// keeps its first occurrence.
func Join(candidates []RankedCandidate, items []Item) (joined []FrecencyItem, missing int) {
	byID := make(map[string]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	joined = make([]FrecencyItem, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.EntityID]; dup {
			continue
		}
		seen[c.EntityID] = struct{}{}

		it, ok := byID[c.EntityID]
		if !ok {
			missing++
			continue
		}
		score := c.Score
		joined = append(joined, FrecencyItem{Item: it, Score: &score})
	}
	return joined, missing
}

// mergeResult is a relevance-branch page before pagination.
type mergeResult struct {
	items []FrecencyItem
	// exhausted is set once the scoring service has no candidates left.
	exhausted bool
	// lastScore is the score of the last candidate consumed, visible or not.
	lastScore *float64
	rounds    int
	// dropped counts candidates that did not resolve to a visible item or
	// were rejected by the predicate.
	dropped    int
	backfilled int
}

// merger joins ranked candidates with repository items and backfills from
// last-updated order once candidates run out.
type merger struct {
	items     ItemRepository
	scorer    RelevanceScorer
	matcher   Matcher
	maxRounds int
}

func (m *merger) compile(p Predicate) (MatchFunc, error) {
	if m.matcher == nil || len(p) == 0 {
		return nil, nil
	}
	return m.matcher.Compile(p)
}

// merge produces up to limit items for a score-phase cursor.
//
// Rounds repeat while ranked items are lost to visibility or the predicate,
// each asking only for the remaining count below the last consumed score, so
// the joined result never exceeds limit. When the scoring service is
// exhausted the remainder is filled from last-updated order, excluding every
// scored entity.
func (m *merger) merge(ctx context.Context, req Request, cur Cursor, limit int) (mergeResult, error) {
	match, err := m.compile(cur.Predicate)
	if err != nil {
		return mergeResult{}, err
	}

	var res mergeResult
	threshold := cur.Threshold
	seen := make(map[string]struct{}, limit)
	var consumed []string

	for done := false; !done; {
		want := limit - len(res.items)
		ranked, err := m.scorer.Rank(ctx, RankQuery{
			UserID:    req.UserID,
			Threshold: threshold,
			Limit:     want,
			Predicate: cur.Predicate,
		})
		if err != nil {
			return mergeResult{}, err
		}
		res.rounds++

		candidates, exhausted := ranked.Candidates, ranked.Exhausted
		if len(candidates) > want {
			candidates, exhausted = candidates[:want], false
		}

		if len(candidates) > 0 {
			score := candidates[len(candidates)-1].Score
			threshold = &score
			res.lastScore = threshold

			fresh := make([]RankedCandidate, 0, len(candidates))
			ids := make([]string, 0, len(candidates))
			for _, c := range candidates {
				if _, dup := seen[c.EntityID]; dup {
					continue
				}
				seen[c.EntityID] = struct{}{}
				fresh = append(fresh, c)
				ids = append(ids, c.EntityID)
			}
			consumed = append(consumed, ids...)

			if len(ids) > 0 {
				items, err := m.items.FetchByIDs(ctx, IDQuery{UserID: req.UserID, Scope: req.Scope, IDs: ids})
				if err != nil {
					return mergeResult{}, err
				}
				joined, missing := Join(fresh, items)
				kept := FilterOn(joined, match)
				res.dropped += missing + len(joined) - len(kept)
				res.items = append(res.items, kept...)
			}
		}

		switch {
		case exhausted:
			res.exhausted, done = true, true
		case len(res.items) >= limit:
			done = true
		case len(candidates) == 0:
			// Not exhausted yet nothing returned: no further progress is possible.
			res.exhausted, done = true, true
		case res.rounds >= m.maxRounds:
			done = true
		}
	}

	if !res.exhausted || len(res.items) >= limit {
		return res, nil
	}

	fallback, err := m.items.FetchBySort(ctx, SortQuery{
		UserID:    req.UserID,
		Scope:     req.Scope,
		Sort:      SortUpdatedAt,
		Limit:     limit - len(res.items),
		Predicate: cur.Predicate,
		Exclude:   Exclusion{IDs: consumed, Scored: true},
	})
	if err != nil {
		return mergeResult{}, err
	}
	for _, it := range fallback {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		res.items = append(res.items, FrecencyItem{Item: it})
		res.backfilled++
	}
	return res, nil
}
