package soup

import (
	"errors"
	"math"
	"testing"
)

func TestCursor_Validate(t *testing.T) {
	pos := &Position{Value: baseTime, ID: "item-001"}

	tests := []struct {
		name    string
		cursor  Cursor
		wantErr bool
	}{
		{"plain first page", PlainCursor(SortUpdatedAt, nil), false},
		{"plain resumed", Cursor{Regime: RegimePlain, Sort: SortViewedAt, After: pos}, false},
		{"relevance first page", RelevanceCursor(Predicate("kind=chat")), false},
		{"score threshold", Cursor{Regime: RegimeRelevance, Phase: PhaseScore, Threshold: ptr(12.5)}, false},
		{"fallback from top", Cursor{Regime: RegimeRelevance, Phase: PhaseFallback}, false},
		{"fallback resumed", Cursor{Regime: RegimeRelevance, Phase: PhaseFallback, After: pos, Done: true}, false},

		{"zero value", Cursor{}, true},
		{"plain without sort", Cursor{Regime: RegimePlain}, true},
		{"plain unknown sort", Cursor{Regime: RegimePlain, Sort: "title"}, true},
		{"plain with threshold", Cursor{Regime: RegimePlain, Sort: SortUpdatedAt, Threshold: ptr(1.0)}, true},
		{"plain with phase", Cursor{Regime: RegimePlain, Sort: SortUpdatedAt, Phase: PhaseScore}, true},
		{"relevance with sort", Cursor{Regime: RegimeRelevance, Phase: PhaseScore, Sort: SortUpdatedAt}, true},
		{"relevance without phase", Cursor{Regime: RegimeRelevance}, true},
		{"score with position", Cursor{Regime: RegimeRelevance, Phase: PhaseScore, After: pos}, true},
		{"score NaN", Cursor{Regime: RegimeRelevance, Phase: PhaseScore, Threshold: ptr(math.NaN())}, true},
		{"score +Inf", Cursor{Regime: RegimeRelevance, Phase: PhaseScore, Threshold: ptr(math.Inf(1))}, true},
		{"fallback with threshold", Cursor{Regime: RegimeRelevance, Phase: PhaseFallback, Threshold: ptr(3.0)}, true},
		{"position without id", Cursor{Regime: RegimePlain, Sort: SortUpdatedAt, After: &Position{Value: baseTime}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cursor.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCursor) {
				t.Errorf("expected ErrInvalidCursor, got %v", err)
			}
		})
	}
}

func TestValidateTransition(t *testing.T) {
	score := Cursor{Regime: RegimeRelevance, Phase: PhaseScore, Threshold: ptr(9.0)}
	fallback := score.toFallback(&Position{Value: baseTime, ID: "item-003"})
	done := fallback
	done.Done = true
	plain := PlainCursor(SortCreatedAt, nil)

	tests := []struct {
		name       string
		prev, next Cursor
		want       error
	}{
		{"score to score", RelevanceCursor(nil), score, nil},
		{"score to fallback", score, fallback, nil},
		{"fallback to fallback", fallback, fallback, nil},
		{"fallback to done", fallback, done, nil},
		{"plain to plain", plain, plain, nil},
		{"fallback to score", fallback, score, ErrRegimeReversal},
		{"done to live", done, fallback, ErrInvalidCursor},
		{"relevance to plain", score, plain, ErrInvalidCursor},
		{"plain to relevance", plain, score, ErrInvalidCursor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.prev, tt.next)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCursor_WithThresholdRejectsFallback(t *testing.T) {
	fallback := RelevanceCursor(nil).toFallback(nil)
	if _, err := fallback.withThreshold(5); !errors.Is(err, ErrRegimeReversal) {
		t.Errorf("expected ErrRegimeReversal, got %v", err)
	}
	if _, err := PlainCursor(SortUpdatedAt, nil).withThreshold(5); !errors.Is(err, ErrRegimeReversal) {
		t.Errorf("expected ErrRegimeReversal for a plain cursor, got %v", err)
	}

	next, err := RelevanceCursor(nil).withThreshold(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Threshold == nil || *next.Threshold != 5 {
		t.Errorf("expected threshold 5, got %v", next.Threshold)
	}
}

func TestPosition_Before(t *testing.T) {
	p := Position{Value: baseTime, ID: "item-050"}

	tests := []struct {
		name string
		v    func() Position
		want bool
	}{
		{"older", func() Position { return Position{Value: baseTime.Add(-1), ID: "item-999"} }, true},
		{"newer", func() Position { return Position{Value: baseTime.Add(1), ID: "item-000"} }, false},
		{"tie lower id", func() Position { return Position{Value: baseTime, ID: "item-049"} }, true},
		{"tie higher id", func() Position { return Position{Value: baseTime, ID: "item-051"} }, false},
		{"same position", func() Position { return p }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.v()
			if got := p.Before(v.Value, v.ID); got != tt.want {
				t.Errorf("Before(%v, %s) = %v, want %v", v.Value, v.ID, got, tt.want)
			}
		})
	}
}
