package inflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mercator-hq/costplane/pkg/config"
)

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTracker shares leases between replicas through Redis.
//
// A lease is a key set with NX and a PX expiry holding the lease token.
// Waiters poll for the key to disappear.
type RedisTracker struct {
	client       *redis.Client
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewRedisTracker connects to cfg.RedisURL and verifies the connection.
func NewRedisTracker(ctx context.Context, cfg config.InFlightConfig, logger *slog.Logger) (*RedisTracker, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisTrackerWithClient(client, cfg, logger), nil
}

// NewRedisTrackerWithClient wraps an existing client. The tracker takes
// ownership of the client and closes it on Close.
func NewRedisTrackerWithClient(client *redis.Client, cfg config.InFlightConfig, logger *slog.Logger) *RedisTracker {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = config.DefaultInFlightKeyPrefix
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = config.DefaultInFlightLeaseTTL
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = config.DefaultInFlightPollInterval
	}

	return &RedisTracker{
		client:       client,
		prefix:       prefix,
		ttl:          ttl,
		pollInterval: poll,
		logger:       logger.With("component", "inflight.redis"),
	}
}

// Acquire implements Tracker.
func (t *RedisTracker) Acquire(ctx context.Context, key string) (*Lease, bool, error) {
	token := uuid.NewString()
	ok, err := t.client.SetNX(ctx, t.prefix+key, token, t.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(t.ttl)}, true, nil
}

// Wait implements Tracker.
func (t *RedisTracker) Wait(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		n, err := t.client.Exists(ctx, t.prefix+key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false, err
			}
			return false, fmt.Errorf("failed to check lease: %w", err)
		}
		if n == 0 {
			return true, nil
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// Release implements Tracker.
func (t *RedisTracker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return ErrLeaseNotHeld
	}
	n, err := releaseScript.Run(ctx, t.client, []string{t.prefix + lease.Key}, lease.Token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	if n == 0 {
		t.logger.Debug("lease already gone on release", "key", lease.Key)
		return ErrLeaseNotHeld
	}
	return nil
}

// Ping implements Tracker.
func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close implements Tracker.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}
