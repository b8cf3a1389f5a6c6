// Package memory provides in-process implementations of the rate limiter,
// lock manager, cooldown guard, and event bus for the "memory" storage mode
// and for tests. Semantics mirror the Redis implementations.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jmercadal/pairvault/internal/domain"
)

// RateLimiter is a sliding-window rate limiter over an in-process map.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewRateLimiter creates an empty in-process rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string][]time.Time)}
}

// Allow reports whether a request for key is permitted under limit/window and
// counts it when it is.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	kept := rl.windows[key][:0]
	for _, t := range rl.windows[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.windows[key] = kept
		return false, nil
	}
	rl.windows[key] = append(kept, now)
	return true, nil
}

// LockManager is a per-key mutex table with TTL expiry.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]time.Time // key -> expiry
}

// NewLockManager creates an empty in-process lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]time.Time)}
}

// Acquire obtains the lock for key or fails with domain.ErrLockHeld. The
// returned unlock function is safe to call multiple times.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if expiry, held := lm.locks[key]; held && time.Now().Before(expiry) {
		return nil, domain.ErrLockHeld
	}
	lm.locks[key] = time.Now().Add(ttl)

	released := false
	unlock := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(lm.locks, key)
	}
	return unlock, nil
}

// CooldownGuard tracks the last interest target per actor.
type CooldownGuard struct {
	mu   sync.Mutex
	last map[string]cooldownEntry
}

type cooldownEntry struct {
	target string
	until  time.Time
}

// NewCooldownGuard creates an empty in-process cooldown guard.
func NewCooldownGuard() *CooldownGuard {
	return &CooldownGuard{last: make(map[string]cooldownEntry)}
}

// Reserve permits the signal unless the actor targeted a different identity
// within the window, in which case it fails with domain.ErrCooldownActive.
func (cg *CooldownGuard) Reserve(ctx context.Context, actor, target string, window time.Duration) error {
	cg.mu.Lock()
	defer cg.mu.Unlock()

	now := time.Now()
	if e, ok := cg.last[actor]; ok && now.Before(e.until) && e.target != target {
		return domain.ErrCooldownActive
	}
	cg.last[actor] = cooldownEntry{target: target, until: now.Add(window)}
	return nil
}

// EventBus is a channel-fan-out pub/sub with an in-memory stream buffer.
type EventBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	seq     int64
}

// NewEventBus creates an empty in-process event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers payload to current subscribers of channel. Slow
// subscribers drop messages rather than block the publisher.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel after the
// call. The subscription ends when ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}()

	return ch, nil
}

// StreamAppend appends payload to the named stream.
func (b *EventBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      formatSeq(b.seq),
		Payload: append([]byte(nil), payload...),
	})
	return nil
}

// StreamRead returns up to count messages with ids after lastID. Use "0" to
// read from the beginning.
func (b *EventBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if m.ID > lastID && (count <= 0 || len(out) < count) {
			out = append(out, m)
		}
	}
	return out, nil
}

func formatSeq(n int64) string {
	// Fixed-width ids keep lexicographic order aligned with append order.
	const digits = 19
	buf := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf)
}

// Compile-time interface checks.
var (
	_ domain.RateLimiter   = (*RateLimiter)(nil)
	_ domain.LockManager   = (*LockManager)(nil)
	_ domain.CooldownGuard = (*CooldownGuard)(nil)
	_ domain.EventBus      = (*EventBus)(nil)
)
