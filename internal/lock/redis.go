package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/voxbill/voxbill/internal/config"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/types"
)

// KEYS[1] live key, KEYS[2] dry run counter, ARGV[1] owner token, ARGV[2] ttl ms
var acquireLiveScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local dry = tonumber(redis.call("GET", KEYS[2]) or "0")
if dry > 0 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

var releaseLiveScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// KEYS[1] live key, KEYS[2] dry run counter, ARGV[1] ttl ms
var acquireSharedScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local n = redis.call("INCR", KEYS[2])
redis.call("PEXPIRE", KEYS[2], ARGV[1])
return n
`)

var releaseSharedScript = redis.NewScript(`
local n = redis.call("DECR", KEYS[1])
if n <= 0 then
  redis.call("DEL", KEYS[1])
end
return n
`)

// RedisCycleLock guards runs across processes. The live key holds an owner
// token so only the holder can release it, and both keys expire after the
// TTL if a process dies mid run.
type RedisCycleLock struct {
	client  *redis.Client
	liveKey string
	dryKey  string
	ttl     time.Duration
	logger  *logger.Logger
}

// NewRedisClient connects to the configured redis server
func NewRedisClient(cfg *config.Configuration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Could not connect to redis at %s", cfg.Redis.Address).
			Mark(ierr.ErrSystem)
	}
	return client, nil
}

func NewRedisCycleLock(client *redis.Client, key string, ttl time.Duration, log *logger.Logger) *RedisCycleLock {
	return &RedisCycleLock{
		client:  client,
		liveKey: key + ":live",
		dryKey:  key + ":dry",
		ttl:     ttl,
		logger:  log,
	}
}

func (l *RedisCycleLock) Acquire(ctx context.Context, dryRun bool) (func(), error) {
	if dryRun {
		return l.acquireShared(ctx)
	}
	return l.acquireLive(ctx)
}

func (l *RedisCycleLock) acquireLive(ctx context.Context) (func(), error) {
	token := types.GenerateUUID()
	ok, err := acquireLiveScript.Run(ctx, l.client, []string{l.liveKey, l.dryKey}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to acquire billing cycle lock").
			Mark(ierr.ErrSystem)
	}
	if ok == 0 {
		return nil, errAlreadyRunning(false)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled
			if err := releaseLiveScript.Run(context.Background(), l.client, []string{l.liveKey}, token).Err(); err != nil {
				l.logger.Errorw("failed to release billing cycle lock", "key", l.liveKey, "error", err)
			}
		})
	}, nil
}

func (l *RedisCycleLock) acquireShared(ctx context.Context) (func(), error) {
	n, err := acquireSharedScript.Run(ctx, l.client, []string{l.liveKey, l.dryKey}, l.ttl.Milliseconds()).Int()
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to acquire billing cycle lock").
			Mark(ierr.ErrSystem)
	}
	if n == 0 {
		return nil, errAlreadyRunning(true)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := releaseSharedScript.Run(context.Background(), l.client, []string{l.dryKey}).Err(); err != nil {
				l.logger.Errorw("failed to release billing cycle lock", "key", l.dryKey, "error", err)
			}
		})
	}, nil
}

func (l *RedisCycleLock) Status(ctx context.Context) (Status, error) {
	pipe := l.client.Pipeline()
	live := pipe.Exists(ctx, l.liveKey)
	dry := pipe.Get(ctx, l.dryKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, ierr.WithError(err).
			WithHint("Failed to read billing cycle lock").
			Mark(ierr.ErrSystem)
	}

	dryRuns, err := dry.Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, ierr.WithError(err).
			WithHint("Failed to read billing cycle lock").
			Mark(ierr.ErrSystem)
	}
	return Status{
		Live:    live.Val() > 0,
		DryRuns: max(dryRuns, 0),
	}, nil
}
