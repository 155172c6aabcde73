package lock

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Every key uses two slots: a string for the exclusive holder and a hash of
// shared holders with per-token deadlines. All transitions run as Lua so a
// reader can never slip in between the exclusive check and the write. The
// scripts take time from the server, so one clock governs every lease.
var (
	// ARGV: token, ttl ms, holder.
	acquireExclusiveScript = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 0
		end
		local t = redis.call('TIME')
		local now = t[1] * 1000 + math.floor(t[2] / 1000)
		local readers = redis.call('HGETALL', KEYS[2])
		for i = 1, #readers, 2 do
			if tonumber(string.match(readers[i + 1], '^(%d+)')) > now then
				return 0
			end
			redis.call('HDEL', KEYS[2], readers[i])
		end
		local deadline = now + tonumber(ARGV[2])
		redis.call('SET', KEYS[1], ARGV[1] .. '|' .. deadline .. '|' .. now .. '|' .. ARGV[3], 'PX', ARGV[2])
		return 1
	`)

	// ARGV: token, ttl ms, holder.
	acquireSharedScript = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 0
		end
		local t = redis.call('TIME')
		local now = t[1] * 1000 + math.floor(t[2] / 1000)
		local deadline = now + tonumber(ARGV[2])
		redis.call('HSET', KEYS[2], ARGV[1], deadline .. '|' .. now .. '|' .. ARGV[3])
		if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[2]) then
			redis.call('PEXPIRE', KEYS[2], ARGV[2])
		end
		return 1
	`)

	// ARGV: token.
	releaseExclusiveScript = redis.NewScript(`
		local v = redis.call('GET', KEYS[1])
		if v and string.match(v, '^([^|]+)') == ARGV[1] then
			redis.call('DEL', KEYS[1])
			return 1
		end
		return 0
	`)

	// ARGV: token.
	releaseSharedScript = redis.NewScript(`
		local v = redis.call('HGET', KEYS[1], ARGV[1])
		if not v then
			return 0
		end
		redis.call('HDEL', KEYS[1], ARGV[1])
		local t = redis.call('TIME')
		local now = t[1] * 1000 + math.floor(t[2] / 1000)
		if tonumber(string.match(v, '^(%d+)')) <= now then
			return 0
		end
		return 1
	`)

	// ARGV: token, ttl ms.
	extendExclusiveScript = redis.NewScript(`
		local v = redis.call('GET', KEYS[1])
		if not v or string.match(v, '^([^|]+)') ~= ARGV[1] then
			return 0
		end
		local t = redis.call('TIME')
		local now = t[1] * 1000 + math.floor(t[2] / 1000)
		local rest = string.match(v, '^[^|]+|%d+|(.+)$')
		local deadline = now + tonumber(ARGV[2])
		redis.call('SET', KEYS[1], ARGV[1] .. '|' .. deadline .. '|' .. rest, 'PX', ARGV[2])
		return 1
	`)

	// ARGV: token, ttl ms.
	extendSharedScript = redis.NewScript(`
		local v = redis.call('HGET', KEYS[1], ARGV[1])
		if not v then
			return 0
		end
		local t = redis.call('TIME')
		local now = t[1] * 1000 + math.floor(t[2] / 1000)
		if tonumber(string.match(v, '^(%d+)')) <= now then
			redis.call('HDEL', KEYS[1], ARGV[1])
			return 0
		end
		local rest = string.match(v, '^%d+|(.+)$')
		local deadline = now + tonumber(ARGV[2])
		redis.call('HSET', KEYS[1], ARGV[1], deadline .. '|' .. rest)
		if redis.call('PTTL', KEYS[1]) < tonumber(ARGV[2]) then
			redis.call('PEXPIRE', KEYS[1], ARGV[2])
		end
		return 1
	`)
)

// RedisCoordinator stores leases in Redis. Exclusive leases ride the key
// TTL; shared leases carry explicit deadlines inside a hash whose TTL
// tracks the longest reader.
type RedisCoordinator struct {
	client *redis.Client
	prefix string
}

// NewRedisCoordinator creates a coordinator on an existing Redis client.
// All keys are namespaced under the given prefix.
func NewRedisCoordinator(client *redis.Client, prefix string) *RedisCoordinator {
	return &RedisCoordinator{client: client, prefix: prefix}
}

func (r *RedisCoordinator) exclusiveKey(key string) string { return r.prefix + "lock:x:" + key }
func (r *RedisCoordinator) sharedKey(key string) string    { return r.prefix + "lock:s:" + key }

// TryAcquire attempts to take the lock once.
func (r *RedisCoordinator) TryAcquire(ctx context.Context, key, token, holder string, mode Mode, ttl time.Duration) (bool, error) {
	script := acquireSharedScript
	if mode == Exclusive {
		script = acquireExclusiveScript
	}
	granted, err := script.Run(ctx, r.client,
		[]string{r.exclusiveKey(key), r.sharedKey(key)},
		token, ttl.Milliseconds(), holder,
	).Int()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return granted == 1, nil
}

// Release frees the lease if token still owns it.
func (r *RedisCoordinator) Release(ctx context.Context, key, token string, mode Mode) (bool, error) {
	var (
		released int
		err      error
	)
	if mode == Exclusive {
		released, err = releaseExclusiveScript.Run(ctx, r.client,
			[]string{r.exclusiveKey(key)}, token).Int()
	} else {
		released, err = releaseSharedScript.Run(ctx, r.client,
			[]string{r.sharedKey(key)}, token).Int()
	}
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return released == 1, nil
}

// Extend renews the lease deadline if token still owns it.
func (r *RedisCoordinator) Extend(ctx context.Context, key, token string, mode Mode, ttl time.Duration) (bool, error) {
	var (
		extended int
		err      error
	)
	if mode == Exclusive {
		extended, err = extendExclusiveScript.Run(ctx, r.client,
			[]string{r.exclusiveKey(key)}, token, ttl.Milliseconds()).Int()
	} else {
		extended, err = extendSharedScript.Run(ctx, r.client,
			[]string{r.sharedKey(key)}, token, ttl.Milliseconds()).Int()
	}
	if err != nil {
		return false, fmt.Errorf("extend %s: %w", key, err)
	}
	return extended == 1, nil
}

// Holders scans live leases for monitoring. It is not a consistent
// snapshot; leases may come and go while the scan runs.
func (r *RedisCoordinator) Holders(ctx context.Context) ([]Record, error) {
	var out []Record

	now := time.Now()
	err := r.scan(ctx, r.prefix+"lock:x:*", func(redisKey string) error {
		v, err := r.client.Get(ctx, redisKey).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		rec, ok := parseLease(v, true)
		if !ok || now.After(rec.Deadline) {
			return nil
		}
		rec.Key = strings.TrimPrefix(redisKey, r.prefix+"lock:x:")
		rec.Mode = Exclusive
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.scan(ctx, r.prefix+"lock:s:*", func(redisKey string) error {
		fields, err := r.client.HGetAll(ctx, redisKey).Result()
		if err != nil {
			return err
		}
		for token, v := range fields {
			rec, ok := parseLease(v, false)
			if !ok || now.After(rec.Deadline) {
				continue
			}
			rec.Key = strings.TrimPrefix(redisKey, r.prefix+"lock:s:")
			rec.Token = token
			rec.Mode = Shared
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Token < out[j].Token
	})
	return out, nil
}

func (r *RedisCoordinator) scan(ctx context.Context, match string, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return fmt.Errorf("scan locks: %w", err)
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// parseLease decodes "token|deadline|acquired|holder" (exclusive) or
// "deadline|acquired|holder" (shared field values).
func parseLease(v string, withToken bool) (Record, bool) {
	parts := strings.SplitN(v, "|", 4)
	var rec Record
	i := 0
	if withToken {
		if len(parts) != 4 {
			return rec, false
		}
		rec.Token = parts[0]
		i = 1
	} else if len(parts) < 3 {
		return rec, false
	}

	deadline, err := strconv.ParseInt(parts[i], 10, 64)
	if err != nil {
		return rec, false
	}
	acquired, err := strconv.ParseInt(parts[i+1], 10, 64)
	if err != nil {
		return rec, false
	}
	rec.Deadline = time.UnixMilli(deadline)
	rec.AcquiredAt = time.UnixMilli(acquired)
	rec.Holder = strings.Join(parts[i+2:], "|")
	return rec, true
}

var _ Coordinator = (*RedisCoordinator)(nil)
