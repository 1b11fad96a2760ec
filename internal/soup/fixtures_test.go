package soup

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testUser = "user-1"

// kindMatcher accepts predicates of the form "kind=<kind>".
type kindMatcher struct{}

func (kindMatcher) Compile(p Predicate) (MatchFunc, error) {
	kind, ok := strings.CutPrefix(string(p), "kind=")
	if !ok {
		return nil, fmt.Errorf("bad predicate %q", p)
	}
	return func(it Item) bool { return it.Kind == Kind(kind) }, nil
}

type fixture struct {
	repo   *InMemoryItemRepository
	scorer *InMemoryScorer
}

func newFixture() *fixture {
	scorer := NewInMemoryScorer()
	return &fixture{
		repo:   NewInMemoryItemRepository(scorer, kindMatcher{}),
		scorer: scorer,
	}
}

func (f *fixture) service(cfg Config) *Service {
	if cfg.Matcher == nil {
		cfg.Matcher = kindMatcher{}
	}
	return NewService(f.repo, f.scorer, cfg)
}

// seed adds n documents granted to testUser. Item i is updated i minutes
// before baseTime, so IDs ascend as last-updated descends.
func (f *fixture) seed(n int) []string {
	ids := make([]string, n)
	for i := range n {
		id := fmt.Sprintf("item-%03d", i)
		f.repo.Put(Item{
			Kind:      KindDocument,
			ID:        id,
			OwnerID:   testUser,
			Title:     id,
			CreatedAt: baseTime.Add(-time.Duration(2*i) * time.Hour),
			UpdatedAt: baseTime.Add(-time.Duration(i) * time.Minute),
			Document:  &DocumentFields{FileType: "md"},
		})
		f.repo.Grant(testUser, id)
		ids[i] = id
	}
	return ids
}

// score gives each of ids a distinct score, highest first.
func (f *fixture) score(ids ...string) {
	for i, id := range ids {
		f.scorer.Record(testUser, id, float64(1000-i))
	}
}

// traverse follows cursors until the feed is exhausted, passing every cursor
// through the wire codec.
func traverse(t *testing.T, svc *Service, req Request) []Page {
	t.Helper()

	var pages []Page
	for range 100 {
		page, err := svc.GetPage(context.Background(), req)
		if err != nil {
			t.Fatalf("page %d: %v", len(pages)+1, err)
		}
		pages = append(pages, page)
		if !page.HasMore() {
			return pages
		}

		token, err := EncodeCursor(page.Next)
		if err != nil {
			t.Fatalf("encode cursor after page %d: %v", len(pages), err)
		}
		next, err := DecodeCursor(token)
		if err != nil {
			t.Fatalf("decode cursor after page %d: %v", len(pages), err)
		}
		req.Cursor = &next
	}
	t.Fatal("traversal exceeded 100 pages, possible infinite loop")
	return nil
}

func pageIDs(p Page) []string {
	ids := make([]string, len(p.Items))
	for i, it := range p.Items {
		ids[i] = it.ID
	}
	return ids
}

func ptr[T any](v T) *T { return &v }
