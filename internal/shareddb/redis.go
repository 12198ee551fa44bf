package shareddb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Refs of a project live in one hash so a project can be dropped with a single
// DEL. Locks are plain keys with a PX expiry holding the owner's token.

var compareAndPutScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], ARGV[1])
if cur == false or cur == ARGV[2] then
  redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
  return 1
end
return 0
`)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures a Redis store.
type RedisConfig struct {
	// Prefix is prepended to every key. Default "refguard:".
	Prefix string
	Lock   LockConfig
}

// Redis is a Store backed by a Redis server or cluster.
type Redis struct {
	client redis.UniversalClient
	prefix string
	lock   LockConfig
}

func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "refguard:"
	}
	return &Redis{
		client: client,
		prefix: cfg.Prefix,
		lock:   cfg.Lock.withDefaults(),
	}
}

func (r *Redis) refsKey(project string) string {
	return r.prefix + "refs:" + project
}

func (r *Redis) lockKey(project, ref string) string {
	return r.prefix + "lock:" + project + ":" + ref
}

func (r *Redis) Get(ctx context.Context, project, ref string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.refsKey(project), ref).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", err)
	}
	return v, true, nil
}

func (r *Redis) IsUpToDate(ctx context.Context, project, ref, id string) (bool, error) {
	v, ok, err := r.Get(ctx, project, ref)
	if err != nil {
		return false, err
	}
	return !ok || v == id, nil
}

func (r *Redis) CompareAndPut(ctx context.Context, project, ref, expected, value string) (bool, error) {
	n, err := compareAndPutScript.Run(ctx, r.client, []string{r.refsKey(project)}, ref, expected, value).Int()
	if err != nil {
		return false, unavailable("compare and put", err)
	}
	return n == 1, nil
}

func (r *Redis) Exists(ctx context.Context, project, ref string) (bool, error) {
	ok, err := r.client.HExists(ctx, r.refsKey(project), ref).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return ok, nil
}

func (r *Redis) Remove(ctx context.Context, project string) error {
	if err := r.client.Del(ctx, r.refsKey(project)).Err(); err != nil {
		return unavailable("remove", err)
	}
	return nil
}

func (r *Redis) LockRef(ctx context.Context, project, ref string) (Lock, error) {
	key := r.lockKey(project, ref)
	token := uuid.NewString()

	err := poll(ctx, r.lock, LockKey(project, ref), func(ctx context.Context) (bool, error) {
		return r.client.SetNX(ctx, key, token, r.lock.TTL).Result()
	})
	if err != nil {
		return nil, err
	}
	return &redisLock{client: r.client, key: key, token: token}, nil
}

type redisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return unavailable("unlock", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotLocked, l.key)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
