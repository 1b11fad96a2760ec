// Package frecency provides a Redis-backed relevance scorer for the soup
// feed. Each user's scores live in one sorted set keyed by user ID.
package frecency

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/soup/internal/soup"
)

const defaultPrefix = "soup:frecency:"

// Scorer implements soup.RelevanceScorer over Redis sorted sets.
//
// Predicates are not evaluated here; the feed reapplies them to the items it
// resolves. Equal scores are returned in descending member order.
type Scorer struct {
	client *redis.Client
	prefix string
}

// NewScorer creates a scorer from an existing Redis client.
func NewScorer(client *redis.Client) *Scorer {
	return &Scorer{client: client, prefix: defaultPrefix}
}

// Open connects to redisURL and verifies the connection.
func Open(ctx context.Context, redisURL string) (*Scorer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewScorer(client), nil
}

// Client returns the underlying Redis client.
func (s *Scorer) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *Scorer) Close() error {
	return s.client.Close()
}

func (s *Scorer) key(userID string) string {
	return s.prefix + userID
}

// Rank implements soup.RelevanceScorer.
func (s *Scorer) Rank(ctx context.Context, q soup.RankQuery) (soup.RankResult, error) {
	if q.Limit <= 0 {
		return soup.RankResult{Exhausted: true}, nil
	}

	upper := "+inf"
	if q.Threshold != nil {
		upper = "(" + strconv.FormatFloat(*q.Threshold, 'g', -1, 64)
	}
	zs, err := s.client.ZRevRangeByScoreWithScores(ctx, s.key(q.UserID), &redis.ZRangeBy{
		Max:   upper,
		Min:   "-inf",
		Count: int64(q.Limit),
	}).Result()
	if err != nil {
		return soup.RankResult{}, fmt.Errorf("rank %s: %w", q.UserID, err)
	}

	res := soup.RankResult{
		Candidates: make([]soup.RankedCandidate, 0, len(zs)),
		Exhausted:  len(zs) < q.Limit,
	}
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		res.Candidates = append(res.Candidates, soup.RankedCandidate{EntityID: id, Score: z.Score})
	}
	return res, nil
}

// Record sets an entity's score for a user.
func (s *Scorer) Record(ctx context.Context, userID, entityID string, score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return fmt.Errorf("record %s: score must be finite", entityID)
	}
	if err := s.client.ZAdd(ctx, s.key(userID), redis.Z{Score: score, Member: entityID}).Err(); err != nil {
		return fmt.Errorf("record %s: %w", entityID, err)
	}
	return nil
}

// Forget removes an entity from a user's ranking.
func (s *Scorer) Forget(ctx context.Context, userID, entityID string) error {
	if err := s.client.ZRem(ctx, s.key(userID), entityID).Err(); err != nil {
		return fmt.Errorf("forget %s: %w", entityID, err)
	}
	return nil
}
