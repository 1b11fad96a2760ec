package health

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisChecker_HealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	checker := NewRedisChecker(client)
	if err := checker.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() = %v, want nil", err)
	}

	mr.SetError("LOADING Redis is loading the dataset in memory")
	if err := checker.HealthCheck(context.Background()); err == nil {
		t.Error("expected error while the server reports failures")
	}
}

func TestRedisChecker_HealthCheck_ContextCancellation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRedisChecker(client).HealthCheck(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() = %v, want context.Canceled", err)
	}
}
