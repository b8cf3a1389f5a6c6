package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmercadal/pairvault/internal/domain"
)

// reserveLua atomically checks the actor's last interest target and refreshes
// it. A different target inside the TTL window is denied; the same target is
// allowed so repeated (idempotent) signals never trip the cooldown.
const reserveLua = `
local current = redis.call('GET', KEYS[1])
if current and current ~= ARGV[1] then
    return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`

// CooldownGuard implements domain.CooldownGuard using a per-actor Redis key
// holding the last target with the cooldown window as TTL.
type CooldownGuard struct {
	rdb       *redis.Client
	reserveSc *redis.Script
}

// NewCooldownGuard creates a CooldownGuard backed by the given Client.
func NewCooldownGuard(c *Client) *CooldownGuard {
	return &CooldownGuard{
		rdb:       c.Underlying(),
		reserveSc: redis.NewScript(reserveLua),
	}
}

func cooldownKey(actor string) string {
	return "cooldown:" + actor
}

// Reserve permits the signal unless the actor targeted a different identity
// within the window, in which case it fails with domain.ErrCooldownActive.
func (cg *CooldownGuard) Reserve(ctx context.Context, actor, target string, window time.Duration) error {
	res, err := cg.reserveSc.Run(
		ctx,
		cg.rdb,
		[]string{cooldownKey(actor)},
		target,
		window.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis: cooldown reserve %s: %w", actor, err)
	}
	if res != 1 {
		return domain.ErrCooldownActive
	}
	return nil
}

// Compile-time interface check.
var _ domain.CooldownGuard = (*CooldownGuard)(nil)
