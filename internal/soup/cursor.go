package soup

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Cursor errors.
var (
	// ErrInvalidCursor is returned for cursors that cannot be decoded or whose
	// fields do not describe a valid position.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrRegimeReversal is returned when a cursor in the fallback phase would be
	// turned back into a score-threshold cursor.
	ErrRegimeReversal = errors.New("cursor cannot leave the fallback phase")
)

// Regime is the top-level tag of a Cursor.
type Regime uint8

const (
	// RegimePlain orders the feed by a timestamp sort key.
	RegimePlain Regime = iota + 1
	// RegimeRelevance orders the feed by frecency score, then falls back to
	// last-updated order once ranked candidates run out.
	RegimeRelevance
)

// String returns the regime name.
func (r Regime) String() string {
	switch r {
	case RegimePlain:
		return "plain"
	case RegimeRelevance:
		return "relevance"
	default:
		return fmt.Sprintf("regime(%d)", uint8(r))
	}
}

// Phase is the sub-tag of a RegimeRelevance cursor.
type Phase uint8

const (
	// PhaseScore continues ranking strictly below Threshold.
	PhaseScore Phase = iota + 1
	// PhaseFallback continues in last-updated order, excluding every item that
	// has a frecency score. Terminal: a cursor never leaves this phase.
	PhaseFallback
)

// Position is a keyset position in a timestamp-ordered feed: the sort value
// of the last item seen and its ID as tiebreaker. Continuation is exclusive.
type Position struct {
	Value time.Time
	ID    string
}

// Before reports whether an item with sort value v and id sorts strictly
// after p in (value DESC, id DESC) order.
func (p Position) Before(v time.Time, id string) bool {
	if v.Before(p.Value) {
		return true
	}
	return v.Equal(p.Value) && id < p.ID
}

// Predicate is a caller-supplied filter expression. The feed passes it to the
// ports unchanged and never interprets it.
type Predicate []byte

// Cursor is the resumable position of a feed traversal.
//
// A RegimePlain cursor carries Sort and, once a page was returned, After.
// A RegimeRelevance cursor carries Phase; PhaseScore uses Threshold (nil on
// the first page) and PhaseFallback uses After over last-updated order.
// Done marks an exhausted feed: resubmitting it yields an empty page.
type Cursor struct {
	Regime    Regime
	Sort      SortKey
	Phase     Phase
	Threshold *float64
	After     *Position
	Predicate Predicate
	Done      bool
}

// PlainCursor returns a first-page cursor ordered by sort.
func PlainCursor(sort SortKey, pred Predicate) Cursor {
	return Cursor{Regime: RegimePlain, Sort: sort, Predicate: pred}
}

// RelevanceCursor returns a first-page frecency cursor.
func RelevanceCursor(pred Predicate) Cursor {
	return Cursor{Regime: RegimeRelevance, Phase: PhaseScore, Predicate: pred}
}

// IsFallback reports whether c is a relevance cursor in the fallback phase.
func (c Cursor) IsFallback() bool {
	return c.Regime == RegimeRelevance && c.Phase == PhaseFallback
}

// Validate checks that the tag and the populated fields agree.
func (c Cursor) Validate() error {
	switch c.Regime {
	case RegimePlain:
		if !c.Sort.Valid() {
			return fmt.Errorf("%w: unknown sort key %q", ErrInvalidCursor, c.Sort)
		}
		if c.Phase != 0 || c.Threshold != nil {
			return fmt.Errorf("%w: plain cursor carries relevance fields", ErrInvalidCursor)
		}
	case RegimeRelevance:
		if c.Sort != "" {
			return fmt.Errorf("%w: relevance cursor carries a sort key", ErrInvalidCursor)
		}
		switch c.Phase {
		case PhaseScore:
			if c.After != nil {
				return fmt.Errorf("%w: score cursor carries a fallback position", ErrInvalidCursor)
			}
			if c.Threshold != nil && (math.IsNaN(*c.Threshold) || math.IsInf(*c.Threshold, 0)) {
				return fmt.Errorf("%w: threshold must be finite", ErrInvalidCursor)
			}
		case PhaseFallback:
			if c.Threshold != nil {
				return fmt.Errorf("%w: fallback cursor carries a threshold", ErrInvalidCursor)
			}
		default:
			return fmt.Errorf("%w: unknown relevance phase %d", ErrInvalidCursor, c.Phase)
		}
	default:
		return fmt.Errorf("%w: unknown regime %d", ErrInvalidCursor, c.Regime)
	}
	if c.After != nil && c.After.ID == "" {
		return fmt.Errorf("%w: position without id", ErrInvalidCursor)
	}
	return nil
}

// withThreshold moves a score-phase cursor below score.
func (c Cursor) withThreshold(score float64) (Cursor, error) {
	if c.Regime != RegimeRelevance || c.Phase != PhaseScore {
		return c, ErrRegimeReversal
	}
	c.Threshold = &score
	return c, nil
}

// toFallback switches a relevance cursor to the fallback phase at after.
func (c Cursor) toFallback(after *Position) Cursor {
	c.Regime = RegimeRelevance
	c.Phase = PhaseFallback
	c.Threshold = nil
	c.After = after
	return c
}

// ValidateTransition checks that next may follow prev in one traversal:
// the regime is unchanged, a fallback cursor stays in fallback and an
// exhausted cursor stays exhausted.
func ValidateTransition(prev, next Cursor) error {
	if prev.Regime != next.Regime {
		return fmt.Errorf("%w: regime changed from %s to %s", ErrInvalidCursor, prev.Regime, next.Regime)
	}
	if prev.IsFallback() && !next.IsFallback() {
		return ErrRegimeReversal
	}
	if prev.Done && !next.Done {
		return fmt.Errorf("%w: exhausted cursor resumed", ErrInvalidCursor)
	}
	return nil
}
