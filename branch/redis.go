package branch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua keeps create, CAS, and delete atomic on the server: no two clients
// can interleave between the read and the write.
var (
	createScript = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return 0
		end
		redis.call('HSET', KEYS[1], 'head', ARGV[1], 'created_at', ARGV[2])
		redis.call('SADD', KEYS[2], ARGV[3])
		return 1
	`)

	advanceScript = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return -1
		end
		if redis.call('HGET', KEYS[1], 'head') ~= ARGV[1] then
			return 0
		end
		redis.call('HSET', KEYS[1], 'head', ARGV[2])
		return 1
	`)

	deleteScript = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return -1
		end
		redis.call('DEL', KEYS[1])
		redis.call('SREM', KEYS[2], ARGV[1])
		return 1
	`)
)

// RedisDirectory stores branches in Redis: a hash per branch plus an index
// set of names. Head movement runs as a Lua compare-and-swap.
type RedisDirectory struct {
	client *redis.Client
	prefix string
}

// NewRedisDirectory creates a branch directory on an existing Redis client.
// All keys are namespaced under the given prefix.
func NewRedisDirectory(client *redis.Client, prefix string) *RedisDirectory {
	return &RedisDirectory{client: client, prefix: prefix}
}

func (r *RedisDirectory) branchKey(name string) string { return r.prefix + "branch:" + name }
func (r *RedisDirectory) indexKey() string             { return r.prefix + "branches" }

// Head returns the current head commit id, or ErrNotFound.
func (r *RedisDirectory) Head(ctx context.Context, name string) (string, error) {
	head, err := r.client.HGet(ctx, r.branchKey(name), "head").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("head of %s: %w", name, err)
	}
	return head, nil
}

// Create registers a branch pointing at fromCommit.
func (r *RedisDirectory) Create(ctx context.Context, name, fromCommit string) error {
	if name == "" {
		return errors.New("branch name required")
	}

	created, err := createScript.Run(ctx, r.client,
		[]string{r.branchKey(name), r.indexKey()},
		fromCommit, time.Now().UTC().Format(time.RFC3339Nano), name,
	).Int()
	if err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	return nil
}

// AdvanceHead moves the head from expected to next.
func (r *RedisDirectory) AdvanceHead(ctx context.Context, name, expected, next string) error {
	moved, err := advanceScript.Run(ctx, r.client,
		[]string{r.branchKey(name)},
		expected, next,
	).Int()
	if err != nil {
		return fmt.Errorf("advance %s: %w", name, err)
	}
	switch moved {
	case -1:
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	case 0:
		return fmt.Errorf("%w: %s moved past %s", ErrStaleHead, name, expected)
	}
	return nil
}

// Delete removes the branch pointer.
func (r *RedisDirectory) Delete(ctx context.Context, name string) error {
	deleted, err := deleteScript.Run(ctx, r.client,
		[]string{r.branchKey(name), r.indexKey()},
		name,
	).Int()
	if err != nil {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	if deleted == -1 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// List returns all branches sorted by name.
func (r *RedisDirectory) List(ctx context.Context) ([]Branch, error) {
	names, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}

	out := make([]Branch, 0, len(names))
	for _, name := range names {
		fields, err := r.client.HGetAll(ctx, r.branchKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("read branch %s: %w", name, err)
		}
		if len(fields) == 0 {
			// Deleted between SMEMBERS and HGETALL.
			continue
		}
		b := Branch{Name: name, Head: fields["head"]}
		if at, perr := time.Parse(time.RFC3339Nano, fields["created_at"]); perr == nil {
			b.CreatedAt = at
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var _ Directory = (*RedisDirectory)(nil)
