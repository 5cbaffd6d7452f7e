package keylock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/abhisek/cadence/internal/record"
)

// unlockScript deletes the lock only if it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds the connection and lease settings of a Redis lock.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration // lease length; a crashed holder frees the key after TTL
	PollWait  time.Duration // wait between acquisition attempts
	MaxWait   time.Duration // give up with ErrConcurrentModification after this long
}

// DefaultRedisConfig returns the default Redis lock configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "cadence:lock:",
		TTL:       10 * time.Second,
		PollWait:  25 * time.Millisecond,
		MaxWait:   5 * time.Second,
	}
}

// Redis is a lease-based lock shared by every process talking to the same
// Redis instance.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client, cfg: cfg}, nil
}

// Lock polls SET NX until the key is acquired, ctx is done or MaxWait
// elapses.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.cfg.KeyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.cfg.MaxWait)

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire %s: lock held for %s: %w", key, r.cfg.MaxWait, record.ErrConcurrentModification)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.PollWait):
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Background context: the caller's ctx may already be cancelled.
		_ = unlockScript.Run(context.Background(), r.client, []string{fullKey}, token).Err()
	}, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
