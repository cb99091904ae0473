package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotInitialised is returned by nil stores.
var ErrNotInitialised = errors.New("cache: store not initialised")

// Store represents a shared cache interface used for rate limiting and short-lived lookups.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}
