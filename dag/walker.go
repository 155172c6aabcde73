package dag

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

const (
	walkerNumCounters = 1e6
	walkerMaxCost     = 64 << 20
	walkerBufferItems = 64
)

// WalkerConfig tunes the walker's commit cache.
type WalkerConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// Walker answers history and ancestry questions over a commit store. It
// resolves compaction redirects transparently and keeps a cache of decoded
// commits in front of the store. Returned commits are shared: treat them
// as immutable.
type Walker struct {
	store Store
	cache *ristretto.Cache
}

// NewWalker creates a walker over the given store.
func NewWalker(store Store, config *WalkerConfig) (*Walker, error) {
	cfg := &WalkerConfig{
		NumCounters: walkerNumCounters,
		MaxCost:     walkerMaxCost,
		BufferItems: walkerBufferItems,
	}
	if config != nil {
		if config.NumCounters > 0 {
			cfg.NumCounters = config.NumCounters
		}
		if config.MaxCost > 0 {
			cfg.MaxCost = config.MaxCost
		}
		if config.BufferItems > 0 {
			cfg.BufferItems = config.BufferItems
		}
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Walker{store: store, cache: cache}, nil
}

// Resolve returns the commit an id currently denotes: the live commit, or
// the synthetic commit its redirect points at after compaction.
func (w *Walker) Resolve(ctx context.Context, id string) (*Commit, error) {
	if value, found := w.cache.Get(id); found {
		if c, ok := value.(*Commit); ok {
			return c, nil
		}
	}

	c, err := w.store.Get(ctx, id)
	if err == nil {
		w.cache.Set(id, c, commitCost(c))
		return c, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	to, ok, rerr := w.store.Redirect(ctx, id)
	if rerr != nil {
		return nil, rerr
	}
	if !ok {
		return nil, err
	}
	c, err = w.store.Get(ctx, to)
	if err != nil {
		return nil, err
	}
	w.cache.Set(id, c, commitCost(c))
	return c, nil
}

// Forget drops an id from the cache. The compactor calls this for every id
// whose resolution it changes.
func (w *Walker) Forget(id string) {
	w.cache.Del(id)
}

// Wait blocks until pending cache writes are applied. Test hook.
func (w *Walker) Wait() {
	w.cache.Wait()
}

// Close releases the cache.
func (w *Walker) Close() {
	w.cache.Close()
}

// FirstParentChain returns the commit and its first-parent ancestors,
// newest first, following redirects. limit <= 0 means the whole chain.
func (w *Walker) FirstParentChain(ctx context.Context, head string, limit int) ([]*Commit, error) {
	var out []*Commit
	id := head
	for id != "" {
		c, err := w.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
		id = c.FirstParent()
	}
	return out, nil
}

// Ancestors returns the set of resolved commit ids reachable from id,
// including id's own resolution.
func (w *Walker) Ancestors(ctx context.Context, id string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	stack := []string{id}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		c, err := w.Resolve(ctx, next)
		if err != nil {
			return nil, err
		}
		if _, seen := out[c.ID]; seen {
			continue
		}
		out[c.ID] = struct{}{}
		stack = append(stack, c.Parents...)
	}
	return out, nil
}

// IsAncestor reports whether anc is an ancestor of desc (or the same
// commit). The logical clock prunes the search: nothing at or below anc's
// clock can sit above it.
func (w *Walker) IsAncestor(ctx context.Context, anc, desc string) (bool, error) {
	target, err := w.Resolve(ctx, anc)
	if err != nil {
		return false, err
	}
	cur, err := w.Resolve(ctx, desc)
	if err != nil {
		return false, err
	}
	if target.ID == cur.ID {
		return true, nil
	}

	visited := map[string]bool{cur.ID: true}
	stack := []*Commit{cur}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, pid := range c.Parents {
			p, err := w.Resolve(ctx, pid)
			if err != nil {
				return false, err
			}
			if p.ID == target.ID {
				return true, nil
			}
			if p.Clock > target.Clock && !visited[p.ID] {
				visited[p.ID] = true
				stack = append(stack, p)
			}
		}
	}
	return false, nil
}

const (
	fromLeft  uint8 = 1
	fromRight uint8 = 2
	fromBoth  uint8 = fromLeft | fromRight
)

// MergeBase returns the lowest common ancestor of two commits: the
// highest-clock commit reachable from both. The search walks both ancestries
// best-first by clock, so it touches only commits above the base, and ties
// break on commit id to keep the answer deterministic. Unrelated commits
// yield ErrNoCommonAncestor.
func (w *Walker) MergeBase(ctx context.Context, a, b string) (*Commit, error) {
	ca, err := w.Resolve(ctx, a)
	if err != nil {
		return nil, err
	}
	cb, err := w.Resolve(ctx, b)
	if err != nil {
		return nil, err
	}
	if ca.ID == cb.ID {
		return ca, nil
	}

	flags := map[string]uint8{ca.ID: fromLeft, cb.ID: fromRight}
	popped := make(map[string]bool)
	frontier := &commitHeap{ca, cb}
	heap.Init(frontier)

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(*Commit)
		if popped[c.ID] {
			continue
		}
		popped[c.ID] = true

		f := flags[c.ID]
		if f == fromBoth {
			// Highest-clock commit marked from both sides: pops come in
			// clock order, so the first one is the base.
			return c, nil
		}

		for _, pid := range c.Parents {
			p, err := w.Resolve(ctx, pid)
			if err != nil {
				return nil, err
			}
			old := flags[p.ID]
			merged := old | f
			if merged == old && old != 0 {
				continue
			}
			flags[p.ID] = merged
			if !popped[p.ID] {
				heap.Push(frontier, p)
			}
		}
	}
	return nil, fmt.Errorf("%w: %s and %s", ErrNoCommonAncestor, a, b)
}

// commitHeap is a max-heap by clock with id tie-breaks.
type commitHeap []*Commit

func (h commitHeap) Len() int { return len(h) }

func (h commitHeap) Less(i, j int) bool {
	if h[i].Clock != h[j].Clock {
		return h[i].Clock > h[j].Clock
	}
	return h[i].ID < h[j].ID
}

func (h commitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commitHeap) Push(x any) { *h = append(*h, x.(*Commit)) }

func (h *commitHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

func commitCost(c *Commit) int64 {
	cost := int64(200)
	cost += int64(len(c.ID) + len(c.Snapshot) + len(c.Author) + len(c.Message) + len(c.TraceID))
	for _, p := range c.Parents {
		cost += int64(len(p))
	}
	for _, id := range c.Collapsed {
		cost += int64(len(id))
	}
	return cost
}
