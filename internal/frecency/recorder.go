package frecency

import (
	"context"
	"fmt"
)

// ScoreIndex durably remembers which entities were ever scored for a user.
// *itemstore.Repository satisfies it.
type ScoreIndex interface {
	MarkScored(ctx context.Context, userID string, entityIDs ...string) error
}

// Recorder writes scores to Redis and the ever-scored index together.
//
// The index is written first. An entity that has a score but is missing from
// the index would be served by both feed phases.
type Recorder struct {
	scorer *Scorer
	index  ScoreIndex
}

// NewRecorder pairs a scorer with the index the item store filters on.
func NewRecorder(scorer *Scorer, index ScoreIndex) *Recorder {
	return &Recorder{scorer: scorer, index: index}
}

// Record marks the entity as scored and then sets its score.
func (r *Recorder) Record(ctx context.Context, userID, entityID string, score float64) error {
	if err := r.index.MarkScored(ctx, userID, entityID); err != nil {
		return fmt.Errorf("index %s: %w", entityID, err)
	}
	return r.scorer.Record(ctx, userID, entityID, score)
}

// Forget drops the score only. Entities stay in the index, so a forgotten
// entity does not reappear in the fallback phase.
func (r *Recorder) Forget(ctx context.Context, userID, entityID string) error {
	return r.scorer.Forget(ctx, userID, entityID)
}
