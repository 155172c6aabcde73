package dag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists the commit graph in Redis: one key per commit body,
// a set per commit for its child index, and one key per redirect.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a commit store on an existing Redis client. All
// keys are namespaced under the given prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) commitKey(id string) string   { return r.prefix + "commit:" + id }
func (r *RedisStore) childrenKey(id string) string { return r.prefix + "children:" + id }
func (r *RedisStore) redirectKey(id string) string { return r.prefix + "redirect:" + id }

// Put appends a sealed commit and indexes it under its parents.
func (r *RedisStore) Put(ctx context.Context, c *Commit) error {
	want, err := c.ComputeID()
	if err != nil {
		return err
	}
	if c.ID == "" || c.ID != want {
		return fmt.Errorf("%w: %s", ErrNotSealed, c.ID)
	}

	for _, p := range c.Parents {
		live, err := r.client.Exists(ctx, r.commitKey(p)).Result()
		if err != nil {
			return fmt.Errorf("check parent %s: %w", p, err)
		}
		if live > 0 {
			continue
		}
		redirected, err := r.client.Exists(ctx, r.redirectKey(p)).Result()
		if err != nil {
			return fmt.Errorf("check parent redirect %s: %w", p, err)
		}
		if redirected == 0 {
			return fmt.Errorf("%w: %s", ErrMissingParent, p)
		}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal commit %s: %w", c.ID, err)
	}
	if err := r.client.SetNX(ctx, r.commitKey(c.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("store commit %s: %w", c.ID, err)
	}
	for _, p := range c.Parents {
		if err := r.client.SAdd(ctx, r.childrenKey(p), c.ID).Err(); err != nil {
			return fmt.Errorf("index child %s under %s: %w", c.ID, p, err)
		}
	}
	return nil
}

// Get returns a live commit by id, or ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, id string) (*Commit, error) {
	data, err := r.client.Get(ctx, r.commitKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get commit %s: %w", id, err)
	}
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode commit %s: %w", id, err)
	}
	return &c, nil
}

// Has reports whether a live commit exists for the id.
func (r *RedisStore) Has(ctx context.Context, id string) (bool, error) {
	count, err := r.client.Exists(ctx, r.commitKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check commit %s: %w", id, err)
	}
	return count > 0, nil
}

// Children returns the ids of live commits whose parents resolve to id.
func (r *RedisStore) Children(ctx context.Context, id string) ([]string, error) {
	keys := []string{id}

	// A synthetic commit inherits the surviving children of everything it
	// collapsed: those children still name the original ids as parents.
	c, err := r.Get(ctx, id)
	if err == nil && c.IsSynthetic() {
		keys = append(keys, c.Collapsed...)
	} else if err != nil && !IsNotFound(err) {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, key := range keys {
		members, err := r.client.SMembers(ctx, r.childrenKey(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("children of %s: %w", key, err)
		}
		for _, member := range members {
			live, err := r.Has(ctx, member)
			if err != nil {
				return nil, err
			}
			if live {
				seen[member] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for child := range seen {
		out = append(out, child)
	}
	sort.Strings(out)
	return out, nil
}

// AddRedirect makes every id in from resolve to the live commit to.
func (r *RedisStore) AddRedirect(ctx context.Context, from []string, to string) error {
	live, err := r.Has(ctx, to)
	if err != nil {
		return err
	}
	if !live {
		return fmt.Errorf("%w: redirect target %s", ErrNotFound, to)
	}
	for _, f := range from {
		if err := r.client.Set(ctx, r.redirectKey(f), to, 0).Err(); err != nil {
			return fmt.Errorf("redirect %s: %w", f, err)
		}
	}
	return nil
}

// Redirect returns the redirect target for an id, if any.
func (r *RedisStore) Redirect(ctx context.Context, id string) (string, bool, error) {
	to, err := r.client.Get(ctx, r.redirectKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redirect of %s: %w", id, err)
	}
	return to, true, nil
}

// RemoveRedirect deletes redirects.
func (r *RedisStore) RemoveRedirect(ctx context.Context, from []string) error {
	for _, f := range from {
		if err := r.client.Del(ctx, r.redirectKey(f)).Err(); err != nil {
			return fmt.Errorf("remove redirect %s: %w", f, err)
		}
	}
	return nil
}

// Remove deletes a live commit and unlinks it from its parents.
func (r *RedisStore) Remove(ctx context.Context, id string) error {
	c, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.commitKey(id)).Err(); err != nil {
		return fmt.Errorf("remove commit %s: %w", id, err)
	}
	for _, p := range c.Parents {
		if err := r.client.SRem(ctx, r.childrenKey(p), id).Err(); err != nil {
			return fmt.Errorf("unlink child %s from %s: %w", id, p, err)
		}
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
