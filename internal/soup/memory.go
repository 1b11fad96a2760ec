package soup

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrPredicateUnsupported is returned by the in-memory repository when asked
// to filter without a Matcher.
var ErrPredicateUnsupported = errors.New("predicate filtering not configured")

// ScoredLookup reports whether an entity has ever had a frecency score for a
// user. The in-memory repository uses it to honor Exclusion.Scored.
type ScoredLookup interface {
	HasScore(userID, entityID string) bool
}

// InMemoryItemRepository is an in-memory implementation of ItemRepository.
// Thread-safe via RWMutex.
type InMemoryItemRepository struct {
	mu       sync.RWMutex
	items    map[string]Item
	projects map[string]*string              // project ID -> parent project ID
	grants   map[string]map[string]struct{}  // user ID -> entity IDs
	history  map[string]map[string]time.Time // user ID -> entity ID -> viewed at
	scored   ScoredLookup
	matcher  Matcher
}

// NewInMemoryItemRepository creates an empty repository. scored and matcher
// may be nil, in which case Exclusion.Scored excludes nothing and non-empty
// predicates fail with ErrPredicateUnsupported.
func NewInMemoryItemRepository(scored ScoredLookup, matcher Matcher) *InMemoryItemRepository {
	return &InMemoryItemRepository{
		items:    make(map[string]Item),
		projects: make(map[string]*string),
		grants:   make(map[string]map[string]struct{}),
		history:  make(map[string]map[string]time.Time),
		scored:   scored,
		matcher:  matcher,
	}
}

// Put inserts or replaces an item. Its ViewedAt is ignored; views are per
// user and recorded with RecordView.
func (r *InMemoryItemRepository) Put(it Item) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it.ViewedAt = nil
	r.items[it.ID] = it
}

// Delete removes an item. Unknown IDs are ignored.
func (r *InMemoryItemRepository) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, id)
}

// PutProject registers a project under an optional parent project.
func (r *InMemoryItemRepository) PutProject(id string, parentID *string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.projects[id] = parentID
}

// Grant gives userID direct access to an item or project.
func (r *InMemoryItemRepository) Grant(userID, entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[userID]
	if !ok {
		g = make(map[string]struct{})
		r.grants[userID] = g
	}
	g[entityID] = struct{}{}
}

// Revoke removes a direct grant.
func (r *InMemoryItemRepository) Revoke(userID, entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.grants[userID], entityID)
}

// RecordView records that userID opened entityID at the given time.
func (r *InMemoryItemRepository) RecordView(userID, entityID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.history[userID]
	if !ok {
		h = make(map[string]time.Time)
		r.history[userID] = h
	}
	h[entityID] = at
}

// FetchBySort implements ItemRepository.
func (r *InMemoryItemRepository) FetchBySort(ctx context.Context, q SortQuery) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var match MatchFunc
	if len(q.Predicate) > 0 {
		if r.matcher == nil {
			return nil, ErrPredicateUnsupported
		}
		var err error
		if match, err = r.matcher.Compile(q.Predicate); err != nil {
			return nil, err
		}
	}

	excluded := make(map[string]struct{}, len(q.Exclude.IDs))
	for _, id := range q.Exclude.IDs {
		excluded[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Item, 0, q.Limit)
	for _, it := range r.items {
		if !r.visible(q.UserID, q.Scope, it) {
			continue
		}
		if _, ok := excluded[it.ID]; ok {
			continue
		}
		if q.Exclude.Scored && r.scored != nil && r.scored.HasScore(q.UserID, it.ID) {
			continue
		}
		it = r.withView(q.UserID, it)
		if q.After != nil && !q.After.Before(it.SortValue(q.Sort), it.ID) {
			continue
		}
		if match != nil && !match(it) {
			continue
		}
		out = append(out, it)
	}

	slices.SortFunc(out, func(a, b Item) int {
		if c := b.SortValue(q.Sort).Compare(a.SortValue(q.Sort)); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// FetchByIDs implements ItemRepository.
func (r *InMemoryItemRepository) FetchByIDs(ctx context.Context, q IDQuery) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Item, 0, len(q.IDs))
	for _, id := range q.IDs {
		it, ok := r.items[id]
		if !ok || !r.visible(q.UserID, q.Scope, it) {
			continue
		}
		out = append(out, r.withView(q.UserID, it))
	}
	return out, nil
}

// visible reports whether userID can see it under scope. Caller holds r.mu.
func (r *InMemoryItemRepository) visible(userID string, scope Scope, it Item) bool {
	grants := r.grants[userID]
	if _, ok := grants[it.ID]; ok {
		return true
	}
	if scope != ScopeExpanded || it.ProjectID == nil {
		return false
	}

	seen := make(map[string]struct{})
	for p := it.ProjectID; p != nil; p = r.projects[*p] {
		if _, loop := seen[*p]; loop {
			return false
		}
		seen[*p] = struct{}{}
		if _, ok := grants[*p]; ok {
			return true
		}
	}
	return false
}

func (r *InMemoryItemRepository) withView(userID string, it Item) Item {
	if at, ok := r.history[userID][it.ID]; ok {
		it.ViewedAt = &at
	}
	return it
}

// InMemoryScorer is an in-memory RelevanceScorer backed by per-user score
// tables. Equal scores are ordered by entity ID ascending. Predicates are
// ignored.
//
// HasScore reports every entity that was ever recorded for the user, including
// forgotten ones, so fallback pages keep excluding them.
type InMemoryScorer struct {
	mu     sync.RWMutex
	scores map[string]map[string]float64 // user ID -> entity ID -> score
	scored map[string]map[string]bool    // user ID -> entity IDs ever recorded
}

// NewInMemoryScorer creates an empty scorer.
func NewInMemoryScorer() *InMemoryScorer {
	return &InMemoryScorer{
		scores: make(map[string]map[string]float64),
		scored: make(map[string]map[string]bool),
	}
}

// Record sets the score of an entity for a user.
func (s *InMemoryScorer) Record(userID, entityID string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.scores[userID]
	if !ok {
		u = make(map[string]float64)
		s.scores[userID] = u
	}
	u[entityID] = score

	ever, ok := s.scored[userID]
	if !ok {
		ever = make(map[string]bool)
		s.scored[userID] = ever
	}
	ever[entityID] = true
}

// Forget removes an entity's score for a user. The entity stays marked as
// scored.
func (s *InMemoryScorer) Forget(userID, entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.scores[userID], entityID)
}

// HasScore implements ScoredLookup.
func (s *InMemoryScorer) HasScore(userID, entityID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scored[userID][entityID]
}

// Rank implements RelevanceScorer.
func (s *InMemoryScorer) Rank(ctx context.Context, q RankQuery) (RankResult, error) {
	if err := ctx.Err(); err != nil {
		return RankResult{}, err
	}

	s.mu.RLock()
	below := make([]RankedCandidate, 0, len(s.scores[q.UserID]))
	for id, score := range s.scores[q.UserID] {
		if q.Threshold != nil && score >= *q.Threshold {
			continue
		}
		below = append(below, RankedCandidate{EntityID: id, Score: score})
	}
	s.mu.RUnlock()

	slices.SortFunc(below, func(a, b RankedCandidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.EntityID, b.EntityID)
	})

	res := RankResult{Exhausted: len(below) < q.Limit}
	if len(below) > q.Limit {
		below = below[:q.Limit]
	}
	res.Candidates = below
	return res, nil
}
