// Package runlock serializes sync cycles across hosts with a Redis lease.
//
// A lease is a single key set with SET NX PX and a random token. Release
// deletes the key only while it still holds that token, so a lease that
// expired and was taken over by another host is never released by the
// former holder.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key used when Options.Key is empty.
const DefaultKey = "sheetsync:run-lock"

// DefaultTTL bounds how long a crashed holder can block other hosts.
const DefaultTTL = 15 * time.Minute

const pingTimeout = 5 * time.Second

// ErrLocked is returned by Acquire when another process holds the lease.
var ErrLocked = errors.New("runlock: sync already running elsewhere")

// ErrLost is returned by release when the lease expired before the cycle
// finished.
var ErrLost = errors.New("runlock: lease expired before release")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options configures a Redis-backed lock.
type Options struct {
	URL    string        // redis:// or rediss:// URL
	Key    string        // empty means DefaultKey
	TTL    time.Duration // <= 0 means DefaultTTL
	Logger *slog.Logger
}

// RedisLocker hands out leases on one Redis key.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*RedisLocker, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("runlock: parsing redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("runlock: connecting to redis: %w", err)
	}

	return NewWithClient(client, opts), nil
}

// NewWithClient builds a locker on an existing client. opts.URL is ignored.
func NewWithClient(client *redis.Client, opts Options) *RedisLocker {
	key := opts.Key
	if key == "" {
		key = DefaultKey
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisLocker{client: client, key: key, ttl: ttl, logger: logger}
}

// Acquire takes the lease or returns ErrLocked. The returned function
// releases it.
func (l *RedisLocker) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("runlock: acquiring %s: %w", l.key, err)
	}

	if !ok {
		ttl, _ := l.client.PTTL(ctx, l.key).Result()

		return nil, fmt.Errorf("%w (lease %s expires in %s)", ErrLocked, l.key, ttl.Round(time.Second))
	}

	l.logger.Debug("run lock acquired", slog.String("key", l.key), slog.Duration("ttl", l.ttl))

	return func(ctx context.Context) error {
		return l.release(ctx, token)
	}, nil
}

func (l *RedisLocker) release(ctx context.Context, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("runlock: releasing %s: %w", l.key, err)
	}

	if n == 0 {
		return ErrLost
	}

	l.logger.Debug("run lock released", slog.String("key", l.key))

	return nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Noop is the locker used when no Redis is configured: every Acquire
// succeeds immediately.
type Noop struct{}

// Acquire always succeeds.
func (Noop) Acquire(context.Context) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
