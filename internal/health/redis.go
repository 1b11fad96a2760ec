// Package health provides readiness checks for the feed's backing stores.
package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisChecker implements health checking for the frecency Redis.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{
		client: client,
	}
}

// HealthCheck performs a health check on Redis by sending a PING command.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
