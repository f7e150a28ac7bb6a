// Package registry provides a Redis-backed record of which voicegate
// instance owns which user's SSRC, for multi-instance deployments. Grounded
// directly on sip/infra/rtp_port_allocator.go's pattern: per-instance keys
// with a TTL for crash recovery, claims done through redis.Script for
// atomicity. Release is a plain GET followed by a DEL.
//
// This is a supplementary bookkeeping layer, not a replacement for
// voice.Router's in-process maps (spec.md §5: the router's maps are owned
// by one event-loop task and need no locking under the single-threaded
// invariant). SSRCRegistry exists only so a reconnecting or newly-scheduled
// instance can tell whether another instance already claims a user's SSRC
// before routing packets for it.
package registry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/voicegate/internal/logging"
)

const (
	ownerKeyPrefix = "{voicegate:ssrc}:owner:"
	ownerTTL       = 10 * time.Minute
)

// claimScript atomically claims ownership of a user's SSRC only if it is
// unclaimed or already owned by this instance, refreshing the TTL either
// way. It returns 1 on success, 0 if another live instance owns it.
var claimScript = redis.NewScript(`
	local key = KEYS[1]
	local instance = ARGV[1]
	local ttl = ARGV[2]
	local current = redis.call('GET', key)
	if current == false or current == instance then
		redis.call('SET', key, instance, 'EX', ttl)
		return 1
	end
	return 0
`)

// SSRCRegistry tracks per-user SSRC ownership across instances in Redis.
type SSRCRegistry struct {
	client     *redis.Client
	logger     logging.Logger
	instanceID string
}

// New builds an SSRCRegistry backed by client. instanceID should be stable
// for the lifetime of one process; an empty string generates one from the
// hostname and pid, matching RTPPortAllocator's crash-recovery scheme.
func New(client *redis.Client, logger logging.Logger, instanceID string) *SSRCRegistry {
	if instanceID == "" {
		hostname, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s:%d", hostname, os.Getpid())
	}
	return &SSRCRegistry{client: client, logger: logger, instanceID: instanceID}
}

// Claim attempts to take ownership of userID's SSRC for this instance.
// Returns (true, nil) on success, (false, nil) if another instance already
// owns it, or an error if Redis couldn't be reached.
func (r *SSRCRegistry) Claim(ctx context.Context, userID int64) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("registry: redis client not configured")
	}
	key := ownerKeyPrefix + fmt.Sprint(userID)
	result, err := claimScript.Run(ctx, r.client, []string{key}, r.instanceID, int(ownerTTL.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("registry: claim failed: %w", err)
	}
	claimed := result == 1
	if claimed {
		r.logger.Debugw("claimed ssrc ownership", "user_id", userID, "instance", r.instanceID)
	} else {
		r.logger.Warnw("ssrc already owned by another instance", "user_id", userID)
	}
	return claimed, nil
}

// Release gives up this instance's ownership of userID's SSRC, if held. A
// release of a key this instance doesn't own is a no-op, not an error.
func (r *SSRCRegistry) Release(ctx context.Context, userID int64) error {
	if r.client == nil {
		return fmt.Errorf("registry: redis client not configured")
	}
	key := ownerKeyPrefix + fmt.Sprint(userID)
	owner, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("registry: release lookup failed: %w", err)
	}
	if owner != r.instanceID {
		return nil
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("registry: release failed: %w", err)
	}
	return nil
}

// Owner returns the instance ID currently claiming userID's SSRC, if any.
func (r *SSRCRegistry) Owner(ctx context.Context, userID int64) (string, bool, error) {
	if r.client == nil {
		return "", false, fmt.Errorf("registry: redis client not configured")
	}
	key := ownerKeyPrefix + fmt.Sprint(userID)
	owner, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("registry: owner lookup failed: %w", err)
	}
	return owner, true, nil
}
