package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// CooldownGuard enforces the interest cooldown: after an identity signals one
// target, signaling a different target within the window is denied with
// ErrCooldownActive. Re-signaling the same target is allowed (the signal
// itself is idempotent).
type CooldownGuard interface {
	Reserve(ctx context.Context, actor, target string, window time.Duration) error
}

// StreamMessage is a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub for live event fan-out and durable streams for
// replayable consumption.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
