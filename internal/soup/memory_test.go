package soup

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// projectTree builds root <- team <- sub, with one document in each project
// and a chat outside any project.
func projectTree(r *InMemoryItemRepository) {
	r.PutProject("root", nil)
	r.PutProject("team", ptr("root"))
	r.PutProject("sub", ptr("team"))

	put := func(kind Kind, id string, project *string, age time.Duration) {
		r.Put(Item{Kind: kind, ID: id, ProjectID: project, CreatedAt: baseTime.Add(-age), UpdatedAt: baseTime.Add(-age)})
	}
	put(KindDocument, "doc-root", ptr("root"), 1*time.Minute)
	put(KindDocument, "doc-team", ptr("team"), 2*time.Minute)
	put(KindDocument, "doc-sub", ptr("sub"), 3*time.Minute)
	put(KindChat, "chat-loose", nil, 4*time.Minute)
}

func TestInMemoryItemRepository_Visibility(t *testing.T) {
	r := NewInMemoryItemRepository(nil, nil)
	projectTree(r)
	r.Grant("alice", "team")
	r.Grant("alice", "chat-loose")
	r.Grant("bob", "doc-sub")

	tests := []struct {
		name  string
		user  string
		scope Scope
		want  []string
	}{
		{"expanded inherits through ancestors", "alice", ScopeExpanded, []string{"doc-team", "doc-sub", "chat-loose"}},
		{"unexpanded uses direct grants only", "alice", ScopeUnexpanded, []string{"chat-loose"}},
		{"direct grant on a nested item", "bob", ScopeUnexpanded, []string{"doc-sub"}},
		{"unknown user sees nothing", "mallory", ScopeExpanded, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.FetchBySort(context.Background(), SortQuery{UserID: tt.user, Scope: tt.scope, Sort: SortUpdatedAt, Limit: 50})
			if err != nil {
				t.Fatalf("FetchBySort: %v", err)
			}
			ids := make([]string, 0, len(got))
			for _, it := range got {
				ids = append(ids, it.ID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("visible items mismatch (-want +got):\n%s", diff)
			}

			byID, err := r.FetchByIDs(context.Background(), IDQuery{
				UserID: tt.user,
				Scope:  tt.scope,
				IDs:    []string{"doc-root", "doc-team", "doc-sub", "chat-loose", "missing"},
			})
			if err != nil {
				t.Fatalf("FetchByIDs: %v", err)
			}
			if len(byID) != len(tt.want) {
				t.Errorf("FetchByIDs returned %d items, want %d", len(byID), len(tt.want))
			}
		})
	}
}

func TestInMemoryItemRepository_ProjectCycle(t *testing.T) {
	r := NewInMemoryItemRepository(nil, nil)
	r.PutProject("a", ptr("b"))
	r.PutProject("b", ptr("a"))
	r.Put(Item{Kind: KindDocument, ID: "doc", ProjectID: ptr("a"), UpdatedAt: baseTime})

	got, err := r.FetchByIDs(context.Background(), IDQuery{UserID: "alice", IDs: []string{"doc"}})
	if err != nil {
		t.Fatalf("FetchByIDs: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no access through a project cycle, got %v", got)
	}
}

func TestInMemoryItemRepository_Exclusion(t *testing.T) {
	f := newFixture()
	ids := f.seed(6)
	f.scorer.Record(testUser, ids[1], 4)
	f.scorer.Record("someone-else", ids[2], 9)

	got, err := f.repo.FetchBySort(context.Background(), SortQuery{
		UserID:  testUser,
		Sort:    SortUpdatedAt,
		Limit:   10,
		Exclude: Exclusion{IDs: []string{ids[4]}, Scored: true},
	})
	if err != nil {
		t.Fatalf("FetchBySort: %v", err)
	}

	var gotIDs []string
	for _, it := range got {
		gotIDs = append(gotIDs, it.ID)
	}
	want := []string{ids[0], ids[2], ids[3], ids[5]}
	if diff := cmp.Diff(want, gotIDs); diff != "" {
		t.Errorf("exclusion mismatch (-want +got):\n%s", diff)
	}
}

func TestInMemoryItemRepository_ViewedAt(t *testing.T) {
	f := newFixture()
	ids := f.seed(3)
	viewed := baseTime.Add(time.Hour)
	f.repo.RecordView(testUser, ids[2], viewed)

	got, err := f.repo.FetchByIDs(context.Background(), IDQuery{UserID: testUser, IDs: ids})
	if err != nil {
		t.Fatalf("FetchByIDs: %v", err)
	}
	for _, it := range got {
		switch {
		case it.ID == ids[2] && (it.ViewedAt == nil || !it.ViewedAt.Equal(viewed)):
			t.Errorf("expected %s viewed at %v, got %v", it.ID, viewed, it.ViewedAt)
		case it.ID != ids[2] && it.ViewedAt != nil:
			t.Errorf("expected %s never viewed, got %v", it.ID, *it.ViewedAt)
		}
	}

	other, _ := f.repo.FetchByIDs(context.Background(), IDQuery{UserID: "user-2", IDs: ids})
	if len(other) != 0 {
		t.Errorf("views must not grant access, got %d items", len(other))
	}
}

func TestInMemoryItemRepository_PredicateWithoutMatcher(t *testing.T) {
	r := NewInMemoryItemRepository(nil, nil)
	_, err := r.FetchBySort(context.Background(), SortQuery{UserID: "alice", Sort: SortUpdatedAt, Limit: 20, Predicate: Predicate("kind=chat")})
	if !errors.Is(err, ErrPredicateUnsupported) {
		t.Errorf("expected ErrPredicateUnsupported, got %v", err)
	}
}

func TestInMemoryScorer_Rank(t *testing.T) {
	s := NewInMemoryScorer()
	for id, score := range map[string]float64{"a": 5, "b": 9, "c": 7, "d": 7, "e": 1} {
		s.Record(testUser, id, score)
	}
	s.Record("user-2", "z", 100)

	tests := []struct {
		name          string
		threshold     *float64
		limit         int
		want          []string
		wantExhausted bool
	}{
		{"first page", nil, 3, []string{"b", "c", "d"}, false},
		{"strictly below threshold", ptr(7.0), 3, []string{"a", "e"}, true},
		{"exact fit is not exhausted", nil, 5, []string{"b", "c", "d", "a", "e"}, false},
		{"below everything", ptr(1.0), 3, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Rank(context.Background(), RankQuery{UserID: testUser, Threshold: tt.threshold, Limit: tt.limit})
			if err != nil {
				t.Fatalf("Rank: %v", err)
			}
			var got []string
			for _, c := range res.Candidates {
				got = append(got, c.EntityID)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("candidates mismatch (-want +got):\n%s", diff)
			}
			if res.Exhausted != tt.wantExhausted {
				t.Errorf("expected exhausted=%v, got %v", tt.wantExhausted, res.Exhausted)
			}
		})
	}

	s.Forget(testUser, "b")
	res, err := s.Rank(context.Background(), RankQuery{UserID: testUser, Limit: 500})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	for _, c := range res.Candidates {
		if c.EntityID == "b" {
			t.Error("expected b to be dropped from the ranking")
		}
	}
	if !s.HasScore(testUser, "b") {
		t.Error("expected b to stay marked as scored after Forget")
	}
	if !s.HasScore(testUser, "a") || s.HasScore(testUser, "z") {
		t.Error("HasScore must be per user")
	}
}

func TestInMemoryScorer_ConcurrentAccess(t *testing.T) {
	s := NewInMemoryScorer()
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				s.Record(testUser, string(rune('a'+w))+string(rune('a'+i%26)), float64(i))
				_, _ = s.Rank(context.Background(), RankQuery{UserID: testUser, Limit: 20})
			}
		}()
	}
	wg.Wait()

	res, err := s.Rank(context.Background(), RankQuery{UserID: testUser, Limit: 500})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if !slices.IsSortedFunc(res.Candidates, func(a, b RankedCandidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	}) {
		t.Error("candidates not in descending score order")
	}
	if len(res.Candidates) != 8*26 {
		t.Errorf("expected %d entities, got %d", 8*26, len(res.Candidates))
	}
}
