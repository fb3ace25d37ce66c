package ratelimit

import "context"

// RateLimiter throttles calls to the ingestion endpoint per key (collection).
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Unlimited never throttles. It is used when no Redis is configured.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, key string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, key string) error { return nil }
