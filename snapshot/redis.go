package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists snapshots in Redis. Objects are written once with
// SETNX and never expire: snapshots are immutable and referenced by commits
// until compaction archives them away.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a snapshot store on an existing Redis client. All
// keys are namespaced under the given prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(id ID) string {
	return r.prefix + "snapshot:" + string(id)
}

// Put stores canonical bytes under their content ID.
func (r *RedisStore) Put(ctx context.Context, data []byte) (ID, error) {
	id, err := ComputeID(data)
	if err != nil {
		return "", err
	}

	// SETNX keeps the first write; identical content makes retries harmless.
	if err := r.client.SetNX(ctx, r.key(id), data, 0).Err(); err != nil {
		return "", fmt.Errorf("store snapshot %s: %w", id, err)
	}
	return id, nil
}

// Get returns the canonical bytes for an ID, or ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, id ID) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return data, nil
}

// Has reports whether a snapshot exists for the ID.
func (r *RedisStore) Has(ctx context.Context, id ID) (bool, error) {
	count, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check snapshot %s: %w", id, err)
	}
	return count > 0, nil
}

var _ Store = (*RedisStore)(nil)
