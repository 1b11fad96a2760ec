package soup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/soup/internal/tracing"
)

// ErrInvalidRequest is returned for requests the feed cannot serve regardless
// of cursor, such as a missing user.
var ErrInvalidRequest = errors.New("invalid feed request")

// Config configures a Service.
type Config struct {
	// DefaultRegime is used when a request carries no cursor. Zero selects
	// RegimeRelevance.
	DefaultRegime Regime
	// MaxRankRounds bounds scoring service calls per relevance page. Zero
	// selects DefaultMaxRankRounds.
	MaxRankRounds int
	// Matcher reapplies predicates to items fetched by ID. Optional.
	Matcher Matcher
	// Metrics is optional.
	Metrics *Metrics
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ParseRegime parses a regime name as used in configuration.
func ParseRegime(s string) (Regime, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "relevance", "frecency":
		return RegimeRelevance, nil
	case "plain":
		return RegimePlain, nil
	default:
		return 0, fmt.Errorf("unknown regime %q", s)
	}
}

// Request is one page request.
type Request struct {
	UserID string
	Scope  Scope
	// Limit is clamped to [MinLimit, MaxLimit].
	Limit int
	// Cursor resumes a traversal, or starts one in a chosen regime. Nil starts
	// a traversal in the configured default regime.
	Cursor *Cursor
	// Predicate filters a traversal started without a cursor. Resumed
	// traversals use the predicate carried by the cursor.
	Predicate Predicate
}

// Service serves pages of the hybrid feed. It holds no per-traversal state:
// everything needed to resume lives in the cursor.
type Service struct {
	items         ItemRepository
	merger        *merger
	defaultRegime Regime
	metrics       *Metrics
	logger        *slog.Logger
}

// NewService creates a feed over an item repository and a scoring service.
func NewService(items ItemRepository, scorer RelevanceScorer, cfg Config) *Service {
	if cfg.DefaultRegime == 0 {
		cfg.DefaultRegime = RegimeRelevance
	}
	if cfg.MaxRankRounds <= 0 {
		cfg.MaxRankRounds = DefaultMaxRankRounds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	items = tracedItems{next: items}
	scorer = tracedScorer{next: scorer}
	return &Service{
		items: items,
		merger: &merger{
			items:     items,
			scorer:    scorer,
			matcher:   cfg.Matcher,
			maxRounds: cfg.MaxRankRounds,
		},
		defaultRegime: cfg.DefaultRegime,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// GetPage returns the next page of the feed for req.
//
// Errors from the repository or the scoring service are returned unchanged
// and no partial page is produced. Repeating a request with the same user and
// cursor over unchanged data returns the same page.
func (s *Service) GetPage(ctx context.Context, req Request) (page Page, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "soup.get_page")
	defer func() { endSpan(err) }()

	if req.UserID == "" {
		return Page{}, fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	limit := EffectiveLimit(req.Limit)

	cur := s.initialCursor(req.Predicate)
	if req.Cursor != nil {
		cur = *req.Cursor
	}
	if err := cur.Validate(); err != nil {
		return Page{}, err
	}
	if cur.Done {
		return Page{Items: []FrecencyItem{}, Next: cur, Limit: limit}, nil
	}

	b := s.branchFor(cur)
	tracing.SetAttributes(ctx,
		attribute.String("soup.branch", b.name()),
		attribute.String("soup.scope", req.Scope.String()),
		attribute.Int("soup.limit", limit),
	)

	start := time.Now()
	page, err = b.page(ctx, req, cur, limit)
	if err != nil {
		return Page{}, err
	}
	if err := ValidateTransition(cur, page.Next); err != nil {
		return Page{}, err
	}
	s.metrics.observePage(b.name(), time.Since(start))

	transitioned := !cur.IsFallback() && page.Next.IsFallback()
	if transitioned {
		s.metrics.incTransitions()
	}
	s.logger.DebugContext(ctx, "soup page served",
		slog.String("user_id", req.UserID),
		slog.String("branch", b.name()),
		slog.Int("limit", limit),
		slog.Int("items", len(page.Items)),
		slog.Bool("has_more", page.HasMore()),
		slog.Bool("fallback_transition", transitioned),
	)
	return page, nil
}

func (s *Service) initialCursor(pred Predicate) Cursor {
	if s.defaultRegime == RegimePlain {
		return PlainCursor(SortUpdatedAt, pred)
	}
	return RelevanceCursor(pred)
}

// branch produces one page for cursors of a single tag.
type branch interface {
	name() string
	page(ctx context.Context, req Request, cur Cursor, limit int) (Page, error)
}

func (s *Service) branchFor(c Cursor) branch {
	switch {
	case c.Regime == RegimePlain:
		return plainBranch{items: s.items}
	case c.Phase == PhaseScore:
		return relevanceBranch{merger: s.merger, metrics: s.metrics}
	default:
		return fallbackBranch{items: s.items}
	}
}

type plainBranch struct {
	items ItemRepository
}

func (plainBranch) name() string { return "plain" }

func (b plainBranch) page(ctx context.Context, req Request, cur Cursor, limit int) (Page, error) {
	items, err := b.items.FetchBySort(ctx, SortQuery{
		UserID:    req.UserID,
		Scope:     req.Scope,
		Sort:      cur.Sort,
		After:     cur.After,
		Limit:     limit,
		Predicate: cur.Predicate,
	})
	if err != nil {
		return Page{}, err
	}
	return Paginate(unscored(items), limit, cur), nil
}

// fallbackBranch continues a relevance traversal in last-updated order once
// the scoring service is exhausted. Every scored entity is excluded, since
// the ranked phase already covered them.
type fallbackBranch struct {
	items ItemRepository
}

func (fallbackBranch) name() string { return "fallback" }

func (b fallbackBranch) page(ctx context.Context, req Request, cur Cursor, limit int) (Page, error) {
	items, err := b.items.FetchBySort(ctx, SortQuery{
		UserID:    req.UserID,
		Scope:     req.Scope,
		Sort:      SortUpdatedAt,
		After:     cur.After,
		Limit:     limit,
		Predicate: cur.Predicate,
		Exclude:   Exclusion{Scored: true},
	})
	if err != nil {
		return Page{}, err
	}
	return Paginate(unscored(items), limit, cur), nil
}

type relevanceBranch struct {
	merger  *merger
	metrics *Metrics
}

func (relevanceBranch) name() string { return "relevance" }

func (b relevanceBranch) page(ctx context.Context, req Request, cur Cursor, limit int) (Page, error) {
	res, err := b.merger.merge(ctx, req, cur, limit)
	if err != nil {
		return Page{}, err
	}
	b.metrics.observeMerge(res)

	page := Paginate(res.items, limit, cur)

	switch {
	case !res.exhausted:
		// Continue below the last consumed candidate rather than the last
		// visible one, so candidates dropped at the tail are not ranked again.
		// The page is short only when the round bound was hit.
		page.Next, err = page.Next.withThreshold(*res.lastScore)
		if err != nil {
			return Page{}, err
		}
		page.Next.Done = false
	case !page.Next.IsFallback():
		// Exhausted, but the page ended on a ranked item: the next page starts
		// the fallback from the top, which never includes scored items.
		page.Next = page.Next.toFallback(nil)
	}
	return page, nil
}
