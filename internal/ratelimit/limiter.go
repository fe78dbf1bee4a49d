package ratelimit

import "context"

// RateLimiter controls relay throughput per route.
type RateLimiter interface {
	Allow(ctx context.Context, route string) (bool, error)
	Wait(ctx context.Context, route string) error
}
